package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"tiktokads/pkg/logger"
	"tiktokads/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const table = "ads"

// mergeClause applies the store merge rule inside the database: first seen
// only moves earlier, last seen only moves later, descriptive columns follow
// the more recent sighting unless it is empty, metadata keys are merged with
// the incoming side winning.
const mergeClause = `
	ON CONFLICT (ad_id) DO UPDATE SET
		first_seen_at = LEAST(ads.first_seen_at, EXCLUDED.first_seen_at),
		last_seen_at = GREATEST(ads.last_seen_at, EXCLUDED.last_seen_at),
		advertiser_id = CASE
			WHEN EXCLUDED.advertiser_id <> '' AND EXCLUDED.last_seen_at >= ads.last_seen_at
			THEN EXCLUDED.advertiser_id ELSE ads.advertiser_id END,
		creative_url = CASE
			WHEN EXCLUDED.creative_url <> '' AND (EXCLUDED.last_seen_at >= ads.last_seen_at OR ads.creative_url = '')
			THEN EXCLUDED.creative_url ELSE ads.creative_url END,
		impressions_estimate = CASE
			WHEN EXCLUDED.impressions_estimate <> 0 AND (EXCLUDED.last_seen_at >= ads.last_seen_at OR ads.impressions_estimate = 0)
			THEN EXCLUDED.impressions_estimate ELSE ads.impressions_estimate END,
		metadata = ads.metadata || EXCLUDED.metadata,
		updated_at = NOW()
	RETURNING (xmax = 0) AS inserted`

var columns = []string{
	"ad_id", "advertiser_id", "creative_url", "first_seen_at",
	"last_seen_at", "impressions_estimate", "metadata",
}

// adRow is the database shape of an AdRecord
type adRow struct {
	AdID                string    `db:"ad_id"`
	AdvertiserID        string    `db:"advertiser_id"`
	CreativeURL         string    `db:"creative_url"`
	FirstSeenAt         time.Time `db:"first_seen_at"`
	LastSeenAt          time.Time `db:"last_seen_at"`
	ImpressionsEstimate int64     `db:"impressions_estimate"`
	Metadata            []byte    `db:"metadata"`
}

func (r adRow) record() (models.AdRecord, error) {
	rec := models.AdRecord{
		AdID:                r.AdID,
		AdvertiserID:        r.AdvertiserID,
		CreativeURL:         r.CreativeURL,
		FirstSeenAt:         r.FirstSeenAt.UTC(),
		LastSeenAt:          r.LastSeenAt.UTC(),
		ImpressionsEstimate: r.ImpressionsEstimate,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &rec.Metadata); err != nil {
			return models.AdRecord{}, fmt.Errorf("failed to decode metadata of ad %s: %w", r.AdID, err)
		}
		if len(rec.Metadata) == 0 {
			rec.Metadata = nil
		}
	}
	return rec, nil
}

// AdStore persists ads across runs. It is a scrape sink.
type AdStore struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
	logger  logger.Logger
}

// NewAdStore creates an ad store on an open database
func NewAdStore(db *sqlx.DB, log logger.Logger) *AdStore {
	if log == nil {
		log = logger.GetLogger()
	}
	return &AdStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger:  log.WithField("component", "postgres"),
	}
}

// Name identifies the sink in logs
func (s *AdStore) Name() string {
	return "postgres"
}

// Write upserts rec. The database merges it with what earlier runs stored.
func (s *AdStore) Write(ctx context.Context, rec models.AdRecord, isNew bool) error {
	_, err := s.Upsert(ctx, rec)
	return err
}

// Upsert inserts rec or merges it into the stored row. It reports whether
// the row was created.
func (s *AdStore) Upsert(ctx context.Context, rec models.AdRecord) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, fmt.Errorf("invalid ad record: %w", err)
	}

	query, args, err := s.upsertQuery(rec)
	if err != nil {
		return false, err
	}

	var inserted bool
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&inserted); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return false, fmt.Errorf("failed to upsert ad %s: %w (code: %s)", rec.AdID, err, pqErr.Code)
		}
		return false, fmt.Errorf("failed to upsert ad %s: %w", rec.AdID, err)
	}
	return inserted, nil
}

func (s *AdStore) upsertQuery(rec models.AdRecord) (string, []interface{}, error) {
	metadata := []byte("{}")
	if len(rec.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return "", nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	query, args, err := s.builder.
		Insert(table).
		Columns(columns...).
		Values(
			rec.AdID,
			rec.AdvertiserID,
			rec.CreativeURL,
			rec.FirstSeenAt.UTC(),
			rec.LastSeenAt.UTC(),
			rec.ImpressionsEstimate,
			string(metadata),
		).
		Suffix(mergeClause).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build upsert: %w", err)
	}
	return query, args, nil
}

// Get returns one ad
func (s *AdStore) Get(ctx context.Context, adID string) (models.AdRecord, bool, error) {
	query, args, err := s.builder.
		Select(columns...).
		From(table).
		Where(sq.Eq{"ad_id": adID}).
		ToSql()
	if err != nil {
		return models.AdRecord{}, false, fmt.Errorf("failed to build query: %w", err)
	}

	var row adRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AdRecord{}, false, nil
		}
		return models.AdRecord{}, false, fmt.Errorf("failed to get ad %s: %w", adID, err)
	}
	rec, err := row.record()
	if err != nil {
		return models.AdRecord{}, false, err
	}
	return rec, true, nil
}

// ListFilter narrows List. Zero fields do not filter.
type ListFilter struct {
	AdvertiserIDs []string
	DateRange     models.DateRange
}

// List returns stored ads ordered by ad_id
func (s *AdStore) List(ctx context.Context, filter ListFilter) ([]models.AdRecord, error) {
	qb := s.builder.Select(columns...).From(table).OrderBy("ad_id")
	if len(filter.AdvertiserIDs) > 0 {
		qb = qb.Where(sq.Eq{"advertiser_id": filter.AdvertiserIDs})
	}
	if !filter.DateRange.Start.IsZero() {
		qb = qb.Where(sq.GtOrEq{"last_seen_at": filter.DateRange.Start})
	}
	if !filter.DateRange.End.IsZero() {
		qb = qb.Where(sq.Lt{"first_seen_at": filter.DateRange.End.AddDate(0, 0, 1)})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []adRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list ads: %w", err)
	}

	out := make([]models.AdRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of stored ads
func (s *AdStore) Count(ctx context.Context) (int, error) {
	query, args, err := s.builder.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count ads: %w", err)
	}
	return n, nil
}

// Close closes the database
func (s *AdStore) Close() error {
	return s.db.Close()
}
