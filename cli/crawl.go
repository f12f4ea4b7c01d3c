package cli

import (
	"sort"

	"github.com/spf13/cobra"

	"realestate-crawler/models"
	"realestate-crawler/services"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl [site...]",
	Short: "Crawl listing sites into the content store",
	Long: `Discovers listings on the given sites (or every enabled site in the
sites file), fetches each one through the browser session pool and stores
the page text. Listings fetched within FRESHNESS_WINDOW are skipped.
A manifest CSV is written under REPORTS_DIR.`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctl, err := a.controller()
	if err != nil {
		return err
	}

	m, err := ctl.Run(cmd.Context(), a.siteNames(args))
	if m != nil {
		printManifest(cmd, m)
		path := a.manifestReportPath()
		if werr := services.WriteManifestCSV(path, m); werr != nil {
			logger.Error("CSV write failed: %v", werr)
		} else {
			cmd.Printf("Manifest saved to %s\n", path)
		}
	}
	return err
}

func printManifest(cmd *cobra.Command, m *models.CrawlManifest) {
	counts := m.Counts()
	cmd.Printf("Run %s: %d fetched, %d skipped, %d failed\n", m.RunID,
		counts[models.StatusFetched], counts[models.StatusSkipped], counts[models.StatusFailed])

	sites := make([]string, 0, len(m.SiteErrors))
	for site := range m.SiteErrors {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	for _, site := range sites {
		cmd.Printf("  %s stopped early: %s\n", site, m.SiteErrors[site])
	}
}
