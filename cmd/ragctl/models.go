package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/registry"
)

var modelsJSON bool

func init() {
	rootCmd.AddCommand(modelsCmd)

	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output models as JSON")
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	Long: `List the models in the registry file, with their capabilities and
status. The registry seeds itself with defaults on first use; edit the
file (or the daemon's watcher will pick up edits) to add endpoints.

Examples:
  # List models
  ragctl models

  # As JSON
  ragctl models --json -config ragd.yaml`,
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := quietLogger()
	if err != nil {
		return err
	}

	reg, err := registry.Open(cfg.Registry.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open model registry: %w", err)
	}

	models := reg.List()

	if modelsJSON {
		// API keys stay out of listings.
		redacted := make([]registry.Model, len(models))
		for i, m := range models {
			m.APIKey = ""
			redacted[i] = m
		}
		return outputJSON(redacted)
	}

	fmt.Printf("Registry: %s\n", reg.Path())
	fmt.Printf("Models: %d\n\n", len(models))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tSTATUS\tCAPABILITIES\tMAX TOKENS")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			m.ID,
			truncate(m.Name, 28),
			m.Provider,
			m.Status,
			strings.Join(m.Capabilities, ","),
			m.MaxTokens,
		)
	}
	w.Flush()

	return nil
}
