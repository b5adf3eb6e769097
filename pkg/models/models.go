package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AdRecord is the normalized form of one advertisement
type AdRecord struct {
	AdID                string            `json:"ad_id" db:"ad_id"`
	AdvertiserID        string            `json:"advertiser_id" db:"advertiser_id"`
	CreativeURL         string            `json:"creative_url" db:"creative_url"`
	FirstSeenAt         time.Time         `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt          time.Time         `json:"last_seen_at" db:"last_seen_at"`
	ImpressionsEstimate int64             `json:"impressions_estimate" db:"impressions_estimate"`
	Metadata            map[string]string `json:"metadata,omitempty" db:"-"`
}

// Validate checks the record invariants
func (r *AdRecord) Validate() error {
	if r.AdID == "" {
		return fmt.Errorf("ad_id is required")
	}
	if r.AdvertiserID == "" {
		return fmt.Errorf("advertiser_id is required")
	}
	if r.LastSeenAt.Before(r.FirstSeenAt) {
		return fmt.Errorf("last_seen_at %s is before first_seen_at %s",
			r.LastSeenAt.Format(time.RFC3339), r.FirstSeenAt.Format(time.RFC3339))
	}
	return nil
}

// Clone returns a deep copy of the record
func (r AdRecord) Clone() AdRecord {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

// RawAd is one ad as decoded from the source, before normalization
type RawAd map[string]interface{}

// PageCursor is the opaque continuation token returned by the source.
// The zero value requests the first page.
type PageCursor string

// IsZero reports whether the cursor is empty
func (c PageCursor) IsZero() bool {
	return c == ""
}

// OutputFormat names an export file format
type OutputFormat string

const (
	FormatCSV  OutputFormat = "csv"
	FormatJSON OutputFormat = "json"
	FormatXML  OutputFormat = "xml"
)

// ParseOutputFormat accepts a case insensitive format name
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatXML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// DateRange is an inclusive range of calendar days in UTC. A zero bound is
// open.
type DateRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Overlaps reports whether an ad seen from first to last falls into the range
func (d DateRange) Overlaps(first, last time.Time) bool {
	if !d.Start.IsZero() && last.Before(d.Start) {
		return false
	}
	if !d.End.IsZero() && !first.Before(d.End.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func (d DateRange) String() string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format(time.DateOnly)
	}
	return format(d.Start) + ".." + format(d.End)
}

// ScrapeJob is one request to scrape a set of advertisers. It is immutable
// once created.
type ScrapeJob struct {
	id         uuid.UUID
	accounts   []string
	dateRange  DateRange
	format     OutputFormat
	outputPath string
}

// NewScrapeJob validates the inputs and creates a job. Accounts are
// de-duplicated and sorted.
func NewScrapeJob(accounts []string, dateRange DateRange, format OutputFormat, outputPath string) (*ScrapeJob, error) {
	seen := make(map[string]struct{}, len(accounts))
	var unique []string
	for _, a := range accounts {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		unique = append(unique, a)
	}
	if len(unique) == 0 {
		return nil, fmt.Errorf("at least one target account is required")
	}
	slices.Sort(unique)

	if !dateRange.Start.IsZero() && !dateRange.End.IsZero() && dateRange.End.Before(dateRange.Start) {
		return nil, fmt.Errorf("date range end %s is before start %s",
			dateRange.End.Format(time.DateOnly), dateRange.Start.Format(time.DateOnly))
	}
	if format == "" {
		format = FormatCSV
	}
	if _, err := ParseOutputFormat(string(format)); err != nil {
		return nil, err
	}

	return &ScrapeJob{
		id:         uuid.New(),
		accounts:   unique,
		dateRange:  dateRange,
		format:     format,
		outputPath: outputPath,
	}, nil
}

// ID returns the run identifier
func (j *ScrapeJob) ID() uuid.UUID { return j.id }

// Accounts returns a copy of the target accounts
func (j *ScrapeJob) Accounts() []string { return slices.Clone(j.accounts) }

// DateRange returns the job's date range
func (j *ScrapeJob) DateRange() DateRange { return j.dateRange }

// Format returns the export format
func (j *ScrapeJob) Format() OutputFormat { return j.format }

// OutputPath returns the export destination
func (j *ScrapeJob) OutputPath() string { return j.outputPath }

// Key identifies the job's inputs independently of its run ID, so a rerun
// of the same job can find its checkpoint.
func (j *ScrapeJob) Key() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", strings.Join(j.accounts, ","), j.dateRange, j.format, j.outputPath)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
