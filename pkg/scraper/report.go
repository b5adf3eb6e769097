package scraper

import (
	"time"

	"github.com/google/uuid"

	"tiktokads/pkg/models"
)

// Exit codes of a scrape run
const (
	ExitSuccess = 0
	ExitPartial = 1
	ExitFailure = 2
)

// AccountStatus is the outcome of one advertiser
type AccountStatus string

const (
	AccountPending     AccountStatus = "pending"
	AccountCompleted   AccountStatus = "completed"
	AccountFailed      AccountStatus = "failed"
	AccountInterrupted AccountStatus = "interrupted"
)

// AccountResult summarizes one advertiser of a run
type AccountResult struct {
	AdvertiserID string
	Status       AccountStatus
	Pages        int
	Ads          int
	Stored       int
	OutOfRange   int
	ParseErrors  int
	// Resumed is set when the account was already complete in a checkpoint
	Resumed bool
	Err     error
}

// Progress is reported after every page and when an account ends
type Progress struct {
	AdvertiserID string
	Pages        int
	Ads          int
	Stored       int
	Done         bool
	Err          error
}

// Report is the outcome of a run
type Report struct {
	JobID      uuid.UUID
	JobKey     string
	State      State
	Format     models.OutputFormat
	OutputPath string
	Accounts   []AccountResult
	// Records is the number of rows exported
	Records    int
	Inserted   int
	Updated    int
	SinkErrors int
	Resumed    bool
	Cancelled  bool
	ExportErr  error
	StartedAt  time.Time
	Duration   time.Duration
}

// ExitCode maps the report to the process exit code: 0 when every account
// completed, 1 when some did not but records were exported, 2 when nothing
// was exported or the export failed.
func (r *Report) ExitCode() int {
	if r.ExportErr != nil {
		return ExitFailure
	}
	if len(r.Incomplete()) == 0 {
		return ExitSuccess
	}
	if r.Records > 0 {
		return ExitPartial
	}
	return ExitFailure
}

// Incomplete returns the accounts that failed or were interrupted
func (r *Report) Incomplete() []AccountResult {
	var out []AccountResult
	for _, a := range r.Accounts {
		if a.Status != AccountCompleted {
			out = append(out, a)
		}
	}
	return out
}

// Errors returns the error of every failed account
func (r *Report) Errors() []error {
	var errs []error
	for _, a := range r.Accounts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	if r.ExportErr != nil {
		errs = append(errs, r.ExportErr)
	}
	return errs
}

// Account returns the result for one advertiser
func (r *Report) Account(id string) (AccountResult, bool) {
	for _, a := range r.Accounts {
		if a.AdvertiserID == id {
			return a, true
		}
	}
	return AccountResult{}, false
}
