package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"tiktokads/pkg/models"
)

// UpsertResult describes what an upsert did
type UpsertResult struct {
	// Inserted is true when the ad was not known before
	Inserted bool
	// Record is the stored record after merging
	Record models.AdRecord
}

// Store deduplicates ad records by ad_id. Implementations must be safe for
// concurrent use.
type Store interface {
	Upsert(ctx context.Context, rec models.AdRecord) (UpsertResult, error)
}

var _ Store = (*MemoryStore)(nil)

// Merge folds an incoming observation of an ad into the stored one.
// first_seen_at only moves earlier and last_seen_at only moves later.
// Metadata is the union of both with incoming keys winning. Descriptive
// fields come from whichever observation is more recent, and empty values
// never overwrite populated ones.
func Merge(existing, incoming models.AdRecord) models.AdRecord {
	out := existing.Clone()

	if incoming.FirstSeenAt.Before(out.FirstSeenAt) {
		out.FirstSeenAt = incoming.FirstSeenAt
	}
	newer := !incoming.LastSeenAt.Before(existing.LastSeenAt)
	if incoming.LastSeenAt.After(out.LastSeenAt) {
		out.LastSeenAt = incoming.LastSeenAt
	}

	if incoming.AdvertiserID != "" && (newer || out.AdvertiserID == "") {
		out.AdvertiserID = incoming.AdvertiserID
	}
	if incoming.CreativeURL != "" && (newer || out.CreativeURL == "") {
		out.CreativeURL = incoming.CreativeURL
	}
	if incoming.ImpressionsEstimate != 0 && (newer || out.ImpressionsEstimate == 0) {
		out.ImpressionsEstimate = incoming.ImpressionsEstimate
	}

	if len(incoming.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]string, len(incoming.Metadata))
		}
		maps.Copy(out.Metadata, incoming.Metadata)
	}
	return out
}

// MemoryStore keeps records in a map guarded by a single lock
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.AdRecord
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.AdRecord)}
}

// Upsert inserts rec or merges it into the stored record with the same ad_id
func (s *MemoryStore) Upsert(ctx context.Context, rec models.AdRecord) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return UpsertResult{}, err
	}
	if err := rec.Validate(); err != nil {
		return UpsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.AdID]
	if !ok {
		stored := rec.Clone()
		s.records[rec.AdID] = stored
		return UpsertResult{Inserted: true, Record: stored.Clone()}, nil
	}

	merged := Merge(existing, rec)
	s.records[rec.AdID] = merged
	return UpsertResult{Record: merged.Clone()}, nil
}

// Load seeds the store, merging with anything already present
func (s *MemoryStore) Load(records []models.AdRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if existing, ok := s.records[rec.AdID]; ok {
			s.records[rec.AdID] = Merge(existing, rec)
			continue
		}
		s.records[rec.AdID] = rec.Clone()
	}
}

// Get returns a copy of the record for adID
func (s *MemoryStore) Get(adID string) (models.AdRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[adID]
	if !ok {
		return models.AdRecord{}, false
	}
	return rec.Clone(), true
}

// Len returns the number of distinct ads
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns a snapshot of every record sorted by ad_id
func (s *MemoryStore) Records() []models.AdRecord {
	s.mu.Lock()
	out := make([]models.AdRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b models.AdRecord) int {
		return strings.Compare(a.AdID, b.AdID)
	})
	return out
}
