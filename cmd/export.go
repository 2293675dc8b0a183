package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kozaktomas/class-attendance/internal/config"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export enrolled embeddings as JSON",
	Long: `Export every enrolled student with a valid embedding.

The output has the same shape as GET /api/v1/identities/export and can be
used to seed an offline matcher.

Examples:
  attendance export --section CSE-3A > cse-3a.json
  attendance export --output all.json`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("section", "", "Only export this section (default: all)")
	exportCmd.Flags().String("output", "", "Write to this file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) error {
	section := mustGetString(cmd, "section")
	output := mustGetString(cmd, "output")

	cfg := config.Load()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	candidates, err := b.service.Export(ctx, section)
	if err != nil {
		return fmt.Errorf("failed to export embeddings: %w", err)
	}

	payload := map[string]any{"count": len(candidates), "identities": candidates}
	if output == "" {
		return outputJSON(payload)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := writeJSON(f, payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d identities to %s\n", len(candidates), output)
	return nil
}
