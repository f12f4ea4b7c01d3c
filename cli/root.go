// Package cli is the command-line surface of the crawler.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"realestate-crawler/config"
	"realestate-crawler/utils"
)

var (
	cfg    *config.Config
	logger = utils.NewLogger()

	logLevel string
)

// loadConfig is replaced in tests.
var loadConfig = func() *config.Config {
	c, _ := config.Load()
	return c
}

var rootCmd = &cobra.Command{
	Use:   "realestate-crawler",
	Short: "Crawl property listings into a structured record store",
	Long: `Crawls real-estate listing sites through a headless browser, extracts
structured property records with a language model, normalises their
locations and merges them into a JSON record store.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		cfg = loadConfig()
		logger = utils.NewLoggerWithOutput(cmd.ErrOrStderr(), cfg.LogLevel)
		if logLevel != "" {
			cfg.LogLevel = logLevel
			logger.SetLevel(logLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run; stores
// are left consistent.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
