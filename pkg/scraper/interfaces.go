package scraper

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"tiktokads/pkg/checkpoint"
	"tiktokads/pkg/models"
	"tiktokads/pkg/tiktok"
)

// Fetcher retrieves one page of an advertiser's ads
type Fetcher interface {
	Fetch(ctx context.Context, req tiktok.PageRequest) (*tiktok.Page, error)
}

// Normalizer turns a raw ad into a record
type Normalizer interface {
	Normalize(raw models.RawAd) (*models.AdRecord, error)
}

// Exporter writes the final records to a file
type Exporter interface {
	Export(ctx context.Context, records []models.AdRecord, format models.OutputFormat, path string) (int, error)
}

// Sink receives every record stored during a run, merged state included
type Sink interface {
	Name() string
	Write(ctx context.Context, rec models.AdRecord, isNew bool) error
}

// Checkpointer persists the resume state of one job
type Checkpointer interface {
	Create() *checkpoint.Checkpoint
	Load() (*checkpoint.Checkpoint, error)
	Save(cp *checkpoint.Checkpoint) error
	Delete() error
}
