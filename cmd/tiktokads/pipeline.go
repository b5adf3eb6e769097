package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"tiktokads/pkg/auth"
	"tiktokads/pkg/checkpoint"
	"tiktokads/pkg/config"
	"tiktokads/pkg/logger"
	"tiktokads/pkg/models"
	"tiktokads/pkg/publisher"
	"tiktokads/pkg/ratelimit"
	"tiktokads/pkg/scraper"
	"tiktokads/pkg/storage/postgres"
	"tiktokads/pkg/tiktok"
	"tiktokads/pkg/ui"
)

var errCheckpointExists = errors.New("checkpoint exists - use --resume to continue or --force-restart to start fresh")

// jobFlags are the job settings shared by scrape and schedule
type jobFlags struct {
	from       string
	to         string
	format     string
	output     string
	outputDir  string
	baseURL    string
	concurrent int
	rateLimit  int
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "first day of the date range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "last day of the date range, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "output format: csv, json or xml (default csv)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file (default tiktok_ads_<unix>.<ext> in the output directory)")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "directory for generated output file names (default data)")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "ad library search endpoint")
	cmd.Flags().IntVar(&f.concurrent, "concurrent", 0, "number of accounts fetched concurrently (default 3)")
	cmd.Flags().IntVar(&f.rateLimit, "rate-limit", 0, "requests per minute across all accounts (default 60)")
}

// values returns the flags the user actually set, keyed the way
// config.MergeCommandLineFlags expects
func (f *jobFlags) values(cmd *cobra.Command, accounts []string) map[string]interface{} {
	flags := make(map[string]interface{})
	if len(accounts) > 0 {
		flags["accounts"] = accounts
	}
	set := cmd.Flags().Changed
	if set("from") {
		flags["from"] = f.from
	}
	if set("to") {
		flags["to"] = f.to
	}
	if set("format") {
		flags["format"] = f.format
	}
	if set("output") {
		flags["output"] = f.output
	}
	if set("output-dir") {
		flags["output-dir"] = f.outputDir
	}
	if set("base-url") {
		flags["base-url"] = f.baseURL
	}
	if set("concurrent") {
		flags["concurrent"] = f.concurrent
	}
	if set("rate-limit") {
		flags["rate-limit"] = f.rateLimit
	}
	return flags
}

// loadConfig merges the global flags into flags, loads the configuration
// and initializes the global logger from it
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	flags["log-level"] = effectiveLogLevel()
	if logFile != "" {
		flags["log-file"] = logFile
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// resolveToken fills in the access token from the token stores when neither
// the config file nor the environment provided one. Requests go out
// unauthenticated when no token is found.
func resolveToken(cfg *config.Config, profile string) {
	if cfg.API.AccessToken != "" {
		return
	}

	manager, err := auth.NewManager()
	if err != nil {
		logger.WithError(err).Warn("Token stores unavailable")
		return
	}
	token, err := manager.Retrieve(profile)
	if err != nil {
		logger.WithField("profile", profile).Warn("No access token found, sending unauthenticated requests")
		return
	}

	cfg.API.AccessToken = token.AccessToken
	logger.WithFields(map[string]interface{}{
		"profile": token.Profile,
		"token":   auth.MaskToken(token.AccessToken),
	}).Info("Using stored access token")
}

// newJob builds the scrape job described by the configuration
func newJob(cfg *config.Config) (*models.ScrapeJob, error) {
	from, to, err := cfg.DateRange()
	if err != nil {
		return nil, err
	}
	format, err := models.ParseOutputFormat(cfg.Job.OutputFormat)
	if err != nil {
		return nil, err
	}
	return models.NewScrapeJob(cfg.Job.Accounts, models.DateRange{Start: from, End: to}, format, cfg.Job.OutputPath)
}

type runOptions struct {
	resume       bool
	forceRestart bool
	// out receives the progress line and the final report
	out   io.Writer
	debug bool
}

// runJob wires the collaborators of one scrape job and runs it. The report
// is nil when the job could not be started.
func runJob(ctx context.Context, cfg *config.Config, opts runOptions) (*scraper.Report, error) {
	log := logger.GetLogger()

	job, err := newJob(cfg)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	client := tiktok.NewClientFromConfig(cfg, limiter, log)

	sinks, closeSinks, err := openSinks(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer closeSinks()

	var checkpointer scraper.Checkpointer
	if cfg.Checkpoint.Enabled {
		mgr, err := checkpoint.NewManager(cfg.Checkpoint.Dir, job.Key(), log)
		if err != nil {
			return nil, err
		}
		if err := prepareCheckpoint(mgr, opts, log); err != nil {
			return nil, err
		}
		checkpointer = mgr
	}

	out := opts.out
	if out == nil {
		out = ui.Output
	}
	display := ui.NewProgressDisplay(out, len(job.Accounts()), opts.debug)

	s, err := scraper.New(scraper.Options{
		Fetcher:       client,
		Sinks:         sinks,
		Checkpointer:  checkpointer,
		Concurrency:   cfg.Job.Concurrency,
		DrainTimeout:  cfg.Job.DrainTimeout,
		OutputDir:     cfg.Job.OutputDir,
		OnStateChange: display.StateChanged,
		OnProgress:    display.Update,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	report, err := s.Run(ctx, job)
	display.Complete(report)
	return report, err
}

// prepareCheckpoint applies --resume and --force-restart to an existing
// checkpoint
func prepareCheckpoint(mgr *checkpoint.Manager, opts runOptions, log logger.Logger) error {
	if !mgr.Exists() {
		return nil
	}

	switch {
	case opts.forceRestart:
		if err := mgr.Backup(); err != nil {
			log.WithError(err).Warn("Failed to back up existing checkpoint")
		}
		if err := mgr.Delete(); err != nil {
			log.WithError(err).Warn("Failed to delete existing checkpoint")
		}
		ui.PrintInfo("Force restart", "Ignoring existing checkpoint")
		return nil
	case opts.resume:
		ui.PrintInfo("Resuming from checkpoint", mgr.Path())
		return nil
	default:
		if info, _ := mgr.Info(); info != nil {
			fmt.Fprintf(ui.Output, "\n%s Previous run of this job found (%d ads, %d of %d accounts done, %v ago)\n",
				ui.Yellow("►"), info["records"], info["accounts_done"], info["accounts"], info["age"])
		} else {
			fmt.Fprintf(ui.Output, "\n%s Previous run of this job found\n", ui.Yellow("►"))
		}
		fmt.Fprintf(ui.Output, "  Use: %s to continue where it left off\n", ui.Green("--resume"))
		fmt.Fprintf(ui.Output, "  Use: %s to start fresh\n\n", ui.Yellow("--force-restart"))
		return errCheckpointExists
	}
}

// openSinks connects the optional PostgreSQL store and RabbitMQ publisher.
// The returned func closes whatever was opened.
func openSinks(ctx context.Context, cfg *config.Config, log logger.Logger) ([]scraper.Sink, func(), error) {
	var sinks []scraper.Sink
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.WithError(err).Warn("Failed to close sink")
			}
		}
	}

	if cfg.Postgres.Enabled {
		store, err := postgres.NewFromConfig(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		sinks = append(sinks, store)
		closers = append(closers, store)
	}

	if cfg.RabbitMQ.Enabled {
		pub, err := publisher.NewRabbitMQ(cfg.RabbitMQ, log)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		sinks = append(sinks, pub)
		closers = append(closers, pub)
	}

	return sinks, closeAll, nil
}
