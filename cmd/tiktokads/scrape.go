package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"tiktokads/pkg/logger"
	"tiktokads/pkg/scraper"
	"tiktokads/pkg/ui"
)

var (
	scrapeJob    jobFlags
	resumeScrape bool
	forceRestart bool
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape [advertiser_id...]",
	Short: "Scrape ads of one or more advertiser accounts",
	Long: `Fetch every ad of the given advertiser accounts from the ad library,
merge repeated sightings of the same ad and export the result.

Accounts given as arguments replace job.accounts from the configuration.
The access token is taken from the configuration, TTADS_ACCESS_TOKEN, or the
token stored with 'tiktokads token set'.

Exit codes:
  0  every account completed
  1  some accounts failed but records were exported
  2  nothing was exported or the export failed`,
	Example: `  # Scrape two accounts into a CSV file
  tiktokads scrape 7012345678901 7098765432109 --output ads.csv

  # Only ads shown in January, as JSON
  tiktokads scrape 7012345678901 --from 2024-01-01 --to 2024-01-31 --format json

  # Resume an interrupted run
  tiktokads scrape 7012345678901 --resume

  # Force restart, ignoring existing checkpoint
  tiktokads scrape 7012345678901 --force-restart`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeJob.register(scrapeCmd)
	scrapeCmd.Flags().BoolVar(&resumeScrape, "resume", false, "resume from last checkpoint")
	scrapeCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "force restart, ignoring existing checkpoint")
	scrapeCmd.MarkFlagsMutuallyExclusive("resume", "force-restart")
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(scrapeJob.values(cmd, args))
	if err != nil {
		return &exitError{code: scraper.ExitFailure, err: err}
	}
	resolveToken(cfg, profile)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(map[string]interface{}{
		"version":  version,
		"accounts": cfg.Job.Accounts,
	}).Info("Starting scrape")
	ui.PrintInfo("Accounts", joinAccounts(cfg.Job.Accounts))

	report, err := runJob(ctx, cfg, runOptions{
		resume:       resumeScrape,
		forceRestart: forceRestart,
		out:          ui.Output,
		debug:        verbose,
	})
	if report == nil {
		return &exitError{code: scraper.ExitFailure, err: err}
	}
	if code := report.ExitCode(); code != scraper.ExitSuccess || err != nil {
		if code == scraper.ExitSuccess {
			code = scraper.ExitFailure
		}
		return &exitError{code: code, err: err}
	}
	return nil
}

func joinAccounts(accounts []string) string {
	if len(accounts) == 0 {
		return "(none)"
	}
	if len(accounts) > 5 {
		return fmt.Sprintf("%s and %d more", strings.Join(accounts[:3], ", "), len(accounts)-3)
	}
	return strings.Join(accounts, ", ")
}
