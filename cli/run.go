package cli

import (
	"github.com/spf13/cobra"

	"realestate-crawler/services"
)

var runCmd = &cobra.Command{
	Use:   "run [site...]",
	Short: "Crawl, extract and merge in one pass",
	Long: `Crawls the given sites (or every enabled site), extracts a record
from every page fetched in this run, resolves locations and merges the
records into the JSON store. When POSTGRES_ENABLED is set the records are
also upserted into PostgreSQL.`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.pipeline(cmd.Context(), true)
	if err != nil {
		return err
	}

	sum, err := p.Run(cmd.Context(), services.RunOptions{
		Sites:       a.siteNames(args),
		ManifestCSV: a.manifestReportPath(),
	})
	if sum.Manifest != nil {
		printManifest(cmd, sum.Manifest)
	}
	printSummary(cmd, sum, a.cfg.RecordsPath)
	return err
}
