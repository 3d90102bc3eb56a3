package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// newExportCmd creates the 'export' subcommand, which writes retained records to a workbook.
func newExportCmd() *cobra.Command {
	var source string
	var limit int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports retained records as a spreadsheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var src researcher.Source
			if source != "" {
				parsed, err := researcher.ParseSource(source)
				if err != nil {
					return err
				}
				src = parsed
			}
			if limit < 0 {
				return errors.New("--limit must be >= 0")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			artifact, err := appInstance.ExportRecords(cmd.Context(), src, limit)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(artifact); err != nil {
				return fmt.Errorf("write artifact: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "restrict to one source (BR, INT or Scholar); all sources when empty")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records, newest first; 0 means no limit")
	return cmd
}
