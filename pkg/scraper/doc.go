// Package scraper runs scrape jobs against the ad library.
//
// A job moves through a fixed lifecycle:
//
//	idle -> fetching -> parsing -> exporting -> done
//
// and may drop to failed from any non-terminal state. During fetching a
// bounded pool of account workers pages through every advertiser; each page
// is handed to a single parse stage that normalizes the raw ads, drops those
// outside the job's date range, and merges them into the deduplicating store.
// Every stored record is also forwarded to the configured sinks (Postgres,
// RabbitMQ); a sink failure is logged and counted, never fatal.
//
// Usage:
//
//	client := tiktok.NewClientFromConfig(cfg, limiter, log)
//	s, err := scraper.New(scraper.Options{
//	    Fetcher:     client,
//	    Concurrency: cfg.Scraper.Concurrency,
//	    Logger:      log,
//	})
//	if err != nil {
//	    return err
//	}
//	report, err := s.Run(ctx, job)
//	os.Exit(report.ExitCode())
//
// Cancellation:
//
// Cancelling the context stops new page requests. Requests already in flight
// get the drain timeout to finish, and whatever was fetched is still exported.
// Accounts that did not finish are reported as interrupted.
//
// Resume:
//
// With a Checkpointer the per-account cursor and the records collected so far
// are saved after every page. A later run of the same job skips finished
// accounts and continues the others from their cursor. The checkpoint is
// removed only after a fully successful run.
package scraper
