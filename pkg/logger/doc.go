// Package logger provides the structured logging interface used across the
// ad scraper.
//
// It wraps zerolog behind the Logger interface so components receive an
// injected logger and tests can swap in NewNopLogger or NewTestLogger.
// Console output is colored and human oriented; when a log file is
// configured, JSON lines are appended to it as well.
//
// Basic usage:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "fetcher")
//	log.InfoWithFields("page fetched", map[string]interface{}{
//	    "account": "7012345678",
//	    "ads":     50,
//	})
//
// Helpers such as LogRequest and LogRateLimit keep field names consistent
// between components.
package logger
