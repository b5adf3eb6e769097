package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"tiktokads/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
	profile    string
	noColor    bool
	quiet      bool
	verbose    bool
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tiktokads",
	Short: "Scrape the TikTok ad library into CSV, JSON or XML",
	Long: `tiktokads collects ad records for a set of advertiser accounts from the
TikTok ad library, merges repeated sightings of the same ad and exports the
result.

Features:
  - Concurrent per-account pagination with a shared rate limit
  - Retry with exponential backoff for transient failures
  - Resume interrupted jobs from a checkpoint
  - Optional PostgreSQL store and RabbitMQ publisher
  - Recurring runs on a cron expression or interval`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColor(false)
		}
		if quiet {
			ui.Output = io.Discard
		}
		if cmd.Name() == "scrape" || cmd.Name() == "schedule" {
			ui.PrintBanner()
		}
	},
}

// Execute adds all child commands to the root command and runs it
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			ui.PrintError(exit.err.Error())
		}
		os.Exit(exit.code)
	}
	ui.PrintError(err.Error())
	os.Exit(2)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .tiktokads.yaml or ~/.config/tiktokads/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "stored access token profile (default \"default\")")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show debug logs and per-page progress")

	rootCmd.SetVersionTemplate(`tiktokads {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// effectiveLogLevel resolves the verbosity flags. Without any of them the
// progress line is the only output and logs are limited to errors.
func effectiveLogLevel() string {
	switch {
	case logLevel != "":
		return logLevel
	case verbose:
		return "debug"
	default:
		return "error"
	}
}
