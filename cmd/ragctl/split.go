package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/chunking"
)

var (
	// split command flags
	splitChunkSize int
	splitOverlap   int
	splitStrategy  string
	splitShowText  bool
	splitJSON      bool
)

func init() {
	rootCmd.AddCommand(splitCmd)

	splitCmd.Flags().IntVar(&splitChunkSize, "chunk-size", 400, "Target chunk length in runes")
	splitCmd.Flags().IntVar(&splitOverlap, "overlap", 50, "Chunk overlap in runes")
	splitCmd.Flags().StringVar(&splitStrategy, "strategy", "fixed", "Chunking strategy: fixed, sentence, paragraph, parent_child, pageindex")
	splitCmd.Flags().BoolVar(&splitShowText, "text", false, "Print each chunk's content instead of the summary table")
	splitCmd.Flags().BoolVar(&splitJSON, "json", false, "Output chunks as JSON")
}

var splitCmd = &cobra.Command{
	Use:   "split [file]",
	Short: "Preview how a document chunks",
	Long: `Split a file (or stdin) with the configured chunking strategy and
print the resulting chunks without touching the daemon. Useful for
tuning chunk size and strategy before ingesting.

Examples:
  # Preview the default fixed strategy
  ragctl split notes.md

  # Sentence strategy with a larger window
  ragctl split --strategy sentence --chunk-size 800 notes.md

  # Inspect parent/child structure as JSON
  cat notes.md | ragctl split --strategy parent_child --json -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSplit,
}

func runSplit(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	if len(content) == 0 {
		return fmt.Errorf("no content to split")
	}

	strategy, err := chunking.ResolveStrategy(splitStrategy)
	if err != nil {
		return err
	}

	chunks, err := chunking.Split(string(content), chunking.Options{
		ChunkSize: splitChunkSize,
		Overlap:   splitOverlap,
		Strategy:  strategy,
	})
	if err != nil {
		return fmt.Errorf("failed to split: %w", err)
	}

	if splitJSON {
		return outputJSON(chunks)
	}

	if splitShowText {
		for _, c := range chunks {
			fmt.Printf("--- chunk %d [%d:%d] ---\n%s\n", c.Index, c.Start, c.End, c.Content)
		}
		return nil
	}

	fmt.Printf("Strategy: %s\n", strategy)
	fmt.Printf("Chunks: %d\n\n", len(chunks))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tSTART\tEND\tLENGTH\tPARENT\tPREVIEW")
	for _, c := range chunks {
		parent := ""
		if c.Parent != nil {
			parent = truncate(c.Parent.ID, 12)
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\t%s\n",
			c.Index,
			c.Start,
			c.End,
			c.Length,
			parent,
			truncate(firstLine(c.Content), 48),
		)
	}
	w.Flush()

	return nil
}

// firstLine returns content up to the first newline.
func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
