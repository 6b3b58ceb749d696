package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/worker"
)

var (
	// ingest command flags
	ingestStrategy string
	ingestWait     bool
	ingestJSON     bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestStrategy, "strategy", "", "Chunking strategy (defaults to the worker config)")
	ingestCmd.Flags().BoolVar(&ingestWait, "wait", false, "Poll the daemon until ingestion completes or fails")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "Output the submission as JSON")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Submit a document for ingestion",
	Long: `Submit a document to the ingestion pipeline. The file is saved to the
uploads directory, a document row is registered, and a task is queued
for the daemon's worker to chunk, embed, and index.

This command talks to the queue and database directly, so it needs the
same configuration as the daemon (-config or RAGD_ environment
variables). With --wait it then polls the daemon at --server for the
task outcome.

Examples:
  # Submit with the configured default strategy
  ragctl ingest -config ragd.yaml report.md

  # Submit with parent-child chunking and wait for the result
  ragctl ingest --strategy parent_child --wait report.md`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}
	if len(content) == 0 {
		return fmt.Errorf("file %s is empty", path)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	submitter, deps, err := initSubmitter(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	result, err := submitter.Submit(ctx, worker.SubmitRequest{
		FileName: filepath.Base(path),
		Content:  content,
		Strategy: ingestStrategy,
		Source:   "cli",
	})
	if err != nil {
		return fmt.Errorf("failed to submit document: %w", err)
	}

	if ingestJSON && !ingestWait {
		return outputJSON(result)
	}

	fmt.Printf("Document queued\n")
	fmt.Printf("Task ID:     %s\n", result.TaskID)
	fmt.Printf("Document ID: %s\n", result.DocumentID)
	fmt.Printf("File:        %s (%d bytes)\n", result.FileName, result.FileSizeBytes)
	fmt.Printf("Strategy:    %s\n", result.Strategy)
	fmt.Printf("Trace ID:    %s\n", result.TraceID)

	if !ingestWait {
		fmt.Printf("\nPoll with: ragctl task %s\n", result.TaskID)
		return nil
	}

	// Hand off to the same polling loop as `ragctl task --wait`.
	taskWait = true
	return runTask(cmd, []string{result.TaskID})
}
