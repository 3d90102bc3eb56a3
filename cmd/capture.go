package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scholar-crawler/internal/pipeline"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

type captureFlags struct {
	platform        string
	profileURL      string
	query           string
	maxPublications int
	export          bool
}

// newCaptureCmd creates the 'capture' subcommand, a one-shot capture printed as JSON.
func newCaptureCmd() *cobra.Command {
	var flags captureFlags
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Captures one researcher profile",
		Example: `  scholarcrawler capture --platform orcid --profile-url https://orcid.org/0000-0002-1825-0097
  scholarcrawler capture --platform scholar --query "Ana Souza" --max-publications 40 --export`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCapture(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.platform, "platform", "", "source platform: BR (lattes), INT (orcid) or Scholar")
	cmd.Flags().StringVar(&flags.profileURL, "profile-url", "", "profile URL or identifier")
	cmd.Flags().StringVar(&flags.query, "query", "", "researcher name to search for")
	cmd.Flags().IntVar(&flags.maxPublications, "max-publications", researcher.DefaultMaxPublications,
		"maximum number of publications to capture")
	cmd.Flags().BoolVar(&flags.export, "export", false, "write a spreadsheet artifact for the captured record")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func runCapture(cmd *cobra.Command, flags captureFlags) error {
	platform, err := researcher.ParseSource(flags.platform)
	if err != nil {
		return err
	}
	if flags.profileURL == "" && flags.query == "" {
		return errors.New("one of --profile-url or --query is required")
	}
	if flags.maxPublications <= 0 {
		return errors.New("--max-publications must be > 0")
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	resp := appInstance.Capture(cmd.Context(), pipeline.Request{
		Platform:        platform,
		Query:           flags.query,
		ProfileURL:      flags.profileURL,
		ExportArtifact:  flags.export,
		MaxPublications: flags.maxPublications,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if !resp.Success && resp.Error != nil {
		return fmt.Errorf("capture failed (%s): %s", resp.Error.Kind, resp.Error.Message)
	}
	return nil
}
