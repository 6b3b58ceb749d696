package main

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

func TestInitLogger(t *testing.T) {
	cfg := config.Default()

	logger, err := initLogger(cfg)
	if err != nil {
		t.Fatalf("initLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("initLogger() returned nil logger")
	}
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "verbose"

	if _, err := initLogger(cfg); err == nil {
		t.Fatal("initLogger() expected error for unknown level")
	}
}

func TestInitLoggerStdioMode(t *testing.T) {
	cfg := config.Default()
	cfg.MCP.Stdio = true

	// Must not fail; stdio mode redirects logs to stderr so stdout
	// stays free for the MCP protocol.
	if _, err := initLogger(cfg); err != nil {
		t.Fatalf("initLogger() error = %v", err)
	}
}

func TestMainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	// Set test port to avoid conflicts
	os.Setenv("RAGD_SERVER__PORT", "9094")
	defer os.Unsetenv("RAGD_SERVER__PORT")

	// Create context with timeout for the test
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Start daemon in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, "", false)
	}()

	// Wait for the ops listener to start
	time.Sleep(500 * time.Millisecond)

	// Test health check endpoint
	resp, err := http.Get("http://localhost:9094/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Cancel context to shut the daemon down
	cancel()

	// Wait for shutdown
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}
