package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"tiktokads/pkg/config"
	"tiktokads/pkg/logger"
	"tiktokads/pkg/scheduler"
	"tiktokads/pkg/scraper"
	"tiktokads/pkg/ui"
)

var (
	scheduleJob   jobFlags
	scheduleCron  string
	scheduleEvery time.Duration
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule [advertiser_id...]",
	Short: "Run the scrape job repeatedly",
	Long: `Run the configured scrape job on a cron expression or at a fixed
interval until interrupted.

A run that is still in progress when the next one is due causes that next
run to be skipped. Every run resumes from the checkpoint of an interrupted
predecessor. The cron expression wins when both --cron and --every are set.`,
	Example: `  # Every day at 06:00 UTC
  tiktokads schedule 7012345678901 --cron "0 6 * * *"

  # Every four hours, starting now
  tiktokads schedule 7012345678901 --every 4h --output-dir ./exports`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleJob.register(scheduleCmd)
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression (UTC)")
	scheduleCmd.Flags().DurationVar(&scheduleEvery, "every", 0, "interval between runs (default 24h)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	flags := scheduleJob.values(cmd, args)
	if cmd.Flags().Changed("cron") {
		flags["cron"] = scheduleCron
	}
	if cmd.Flags().Changed("every") {
		flags["every"] = scheduleEvery
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return &exitError{code: scraper.ExitFailure, err: err}
	}
	resolveToken(cfg, profile)
	if _, err := newJob(cfg); err != nil {
		return &exitError{code: scraper.ExitFailure, err: err}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(cfg.Schedule, scheduledRun(cfg), logger.GetLogger())
	if err != nil {
		return &exitError{code: scraper.ExitFailure, err: err}
	}
	if err := sched.Start(ctx); err != nil {
		return &exitError{code: scraper.ExitFailure, err: err}
	}

	if cfg.Schedule.Cron != "" {
		ui.PrintInfo("Schedule", "cron "+cfg.Schedule.Cron)
	} else {
		ui.PrintInfo("Schedule", "every "+cfg.Schedule.Interval.String())
	}
	if next := sched.NextRun(); !next.IsZero() {
		ui.PrintInfo("Next run", next.Local().Format(time.DateTime))
	}

	<-ctx.Done()

	stats := sched.Stats()
	fmt.Fprintf(ui.Output, "\n%s Scheduler stopped after %d runs (%d failed, %d skipped)\n",
		ui.Yellow("■"), stats.Runs, stats.Failures, stats.Skipped)
	return nil
}

// scheduledRun adapts runJob to the scheduler. A run counts as failed when
// it could not be started or did not complete every account.
func scheduledRun(cfg *config.Config) scheduler.RunFunc {
	return func(ctx context.Context) error {
		report, err := runJob(ctx, cfg, runOptions{resume: true, out: ui.Output, debug: verbose})
		if err != nil {
			return err
		}
		if code := report.ExitCode(); code != scraper.ExitSuccess {
			return fmt.Errorf("run finished with exit code %d", code)
		}
		return nil
	}
}
