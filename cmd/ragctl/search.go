package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/rag"
)

var (
	// search command flags
	searchTopK      int
	searchMinScore  float64
	searchModel     string
	searchDocuments []string
	searchShowText  bool
	searchJSON      bool
)

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "Number of hits to return (defaults to the rag config)")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", -1, "Similarity threshold in [0,1] (defaults to the rag config)")
	searchCmd.Flags().StringVar(&searchModel, "model", "", "Embedding model override")
	searchCmd.Flags().StringSliceVar(&searchDocuments, "documents", nil, "Restrict search to these document IDs")
	searchCmd.Flags().BoolVar(&searchShowText, "text", false, "Print each hit's content")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output hits as JSON")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a retrieval-only query",
	Long: `Embed a query and search the vector store, printing the reranked
hits without generating an answer. Useful for inspecting what the
pipeline would retrieve.

Examples:
  # Top hits for a query
  ragctl search "rerank window"

  # More hits, lower threshold, with content
  ragctl search --top-k 10 --min-score 0.3 --text "ingestion worker"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	topK := searchTopK
	if topK <= 0 {
		topK = cfg.RAG.TopK
	}
	minScore := searchMinScore
	if minScore < 0 {
		minScore = cfg.RAG.MinScore
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	svc, deps, err := initRAGService(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	hits, err := svc.Search(ctx, rag.SearchRequest{
		Query:            query,
		EmbeddingModelID: searchModel,
		TopK:             topK,
		MinScore:         minScore,
		DocumentIDs:      searchDocuments,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputJSON(hits)
	}

	if len(hits) == 0 {
		fmt.Println("No hits")
		return nil
	}

	if searchShowText {
		for i, h := range hits {
			fmt.Printf("--- hit %d score=%.4f doc=%s chunk=%d ---\n%s\n",
				i+1, h.Score, truncate(h.DocumentID, 12), h.ChunkIndex, h.Content)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tDOCUMENT\tCHUNK\tEXPANDED\tPREVIEW")
	for _, h := range hits {
		expanded := ""
		if h.Expanded {
			expanded = "yes"
		}
		fmt.Fprintf(w, "%.4f\t%s\t%d\t%s\t%s\n",
			h.Score,
			truncate(h.DocumentID, 12),
			h.ChunkIndex,
			expanded,
			truncate(firstLine(h.Content), 48),
		)
	}
	w.Flush()

	return nil
}
