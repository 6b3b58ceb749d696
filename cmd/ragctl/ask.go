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
	// ask command flags
	askModel     string
	askSession   string
	askDocuments []string
	askTools     bool
	askDeepThink bool
	askMaxSteps  int
	askJSON      bool
)

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVar(&askModel, "model", "", "Generation model override")
	askCmd.Flags().StringVar(&askSession, "session", "", "Session ID grouping related questions")
	askCmd.Flags().StringSliceVar(&askDocuments, "documents", nil, "Restrict retrieval to these document IDs")
	askCmd.Flags().BoolVar(&askTools, "tools", false, "Run the tool phase (web fetch) before retrieval")
	askCmd.Flags().BoolVar(&askDeepThink, "deep-think", false, "Run the deep-think refinement pipeline")
	askCmd.Flags().IntVar(&askMaxSteps, "max-steps", 0, "Tool-step budget override")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Output the full response as JSON")
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against the indexed documents",
	Long: `Run the full retrieval pipeline for one question: optional tool
phase, query embedding, vector search with rerank, and answer
generation.

This command builds the pipeline from configuration (-config or RAGD_
environment variables), so it works without a running daemon as long
as the infrastructure is reachable.

Examples:
  # Ask with defaults
  ragctl ask "How does the parent-child rerank work?"

  # Restrict to two documents and enable tools
  ragctl ask --documents doc-1,doc-2 --tools "What changed in Q3?"

  # Full response as JSON
  ragctl ask --json "What is the ingestion flow?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	svc, deps, err := initRAGService(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	resp, err := svc.Ask(ctx, rag.Request{
		Question:        question,
		ModelID:         askModel,
		SessionID:       askSession,
		DocumentIDs:     askDocuments,
		EnableTools:     askTools,
		EnableDeepThink: askDeepThink,
		MaxToolSteps:    askMaxSteps,
	})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		return outputJSON(resp)
	}

	fmt.Println(resp.Answer)

	if len(resp.References) > 0 {
		fmt.Printf("\nReferences:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tDOCUMENT\tCHUNK\tEXPANDED")
		for _, ref := range resp.References {
			expanded := ""
			if ref.IsExpanded {
				expanded = "yes"
			}
			fmt.Fprintf(w, "%.4f\t%s\t%s\t%s\n",
				ref.Score,
				truncate(ref.DocumentName, 32),
				truncate(ref.ChunkID, 12),
				expanded,
			)
		}
		w.Flush()
	}

	fmt.Fprintf(os.Stderr, "\n[ragctl] model=%s session=%s tokens=%d trace=%s\n",
		resp.ModelID, resp.SessionID, resp.TotalTokens, resp.TraceID)

	return nil
}
