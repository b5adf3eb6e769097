// Package scheduler repeats a scrape on a cron expression or a fixed
// interval using gocron. Runs never overlap: a tick that arrives while the
// previous scrape is still going is skipped and counted.
package scheduler
