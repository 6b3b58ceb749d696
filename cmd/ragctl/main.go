// Package main implements the ragctl CLI for manual operations against
// the ragd daemon and its document pipeline.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the ragd ops listener
	serverURL string
	// configPath is the optional YAML config file for local commands
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "CLI for ragd document pipeline operations",
	Long: `ragctl is a command-line interface for the ragd daemon.
It submits documents for ingestion, runs retrieval queries, previews
chunking, inspects the model catalog, and checks daemon health.

Commands that talk to infrastructure directly (ingest, ask, search,
models) read the same configuration as the daemon: pass -config or set
RAGD_-prefixed environment variables. Commands that poll the daemon
(health, task) use --server.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "ragd ops listener URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(taskCmd)
}

// healthCmd checks daemon health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check ragd daemon health",
	Long: `Check the health status of the ragd daemon and its dependencies.

Examples:
  # Check health
  ragctl health

  # Check health on a different listener
  ragctl health --server http://localhost:9091`,
	RunE: runHealth,
}

// taskCmd polls one ingestion task
var taskCmd = &cobra.Command{
	Use:   "task <task-id>",
	Short: "Show the status of an ingestion task",
	Long: `Show the cached status snapshot of an ingestion task.

Examples:
  # Poll a task once
  ragctl task task-3f2a...

  # Poll until the task finishes
  ragctl task task-3f2a... --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

var taskWait bool

func init() {
	taskCmd.Flags().BoolVar(&taskWait, "wait", false, "poll until the task completes or fails")
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	for name, status := range healthResp.Services {
		fmt.Printf("  %s: %s\n", name, status)
	}

	return nil
}

// runTask handles the task command
func runTask(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	if !taskWait {
		snapshot, err := fetchTask(taskID)
		if err != nil {
			return err
		}
		return outputJSON(snapshot)
	}

	// Poll until the worker reports a terminal state. Snapshots expire
	// from the cache, so a vanished task also ends the loop.
	for {
		snapshot, err := fetchTask(taskID)
		if err != nil {
			return err
		}

		status, _ := snapshot["status"].(string)
		switch status {
		case "completed", "failed":
			return outputJSON(snapshot)
		}

		fmt.Fprintf(os.Stderr, "task %s: %s\n", taskID, status)
		time.Sleep(2 * time.Second)
	}
}

// fetchTask reads one task snapshot from the daemon.
func fetchTask(taskID string) (map[string]any, error) {
	url := fmt.Sprintf("%s/api/v1/tasks/%s", serverURL, taskID)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("task %s not found (snapshots expire after the cache TTL)", taskID)
	}
	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var snapshot map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return snapshot, nil
}

// Helper functions

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
