package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiktokads/pkg/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ad(id string, first, last int, meta map[string]string) models.AdRecord {
	return models.AdRecord{
		AdID:         id,
		AdvertiserID: "adv",
		FirstSeenAt:  t0.AddDate(0, 0, first),
		LastSeenAt:   t0.AddDate(0, 0, last),
		Metadata:     meta,
	}
}

func TestUpsertInsertsThenMerges(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res, err := s.Upsert(ctx, ad("1", 0, 2, map[string]string{"a": "1", "b": "1"}))
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	res, err = s.Upsert(ctx, ad("1", 1, 5, map[string]string{"b": "2", "c": "2"}))
	require.NoError(t, err)
	assert.False(t, res.Inserted)

	got, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, t0, got.FirstSeenAt, "first seen never regresses")
	assert.Equal(t, t0.AddDate(0, 0, 5), got.LastSeenAt)
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "2"}, got.Metadata)
	assert.Equal(t, got, res.Record)
	assert.Equal(t, 1, s.Len())
}

func TestEarliestFirstLatestLastRegardlessOfOrder(t *testing.T) {
	older := ad("x", 0, 3, nil)
	newer := ad("x", 2, 9, nil)

	for name, order := range map[string][]models.AdRecord{
		"older first": {older, newer},
		"newer first": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			s := NewMemoryStore()
			for _, rec := range order {
				_, err := s.Upsert(context.Background(), rec)
				require.NoError(t, err)
			}
			got, _ := s.Get("x")
			assert.Equal(t, t0, got.FirstSeenAt)
			assert.Equal(t, t0.AddDate(0, 0, 9), got.LastSeenAt)
		})
	}
}

func TestMergeDescriptiveFields(t *testing.T) {
	existing := ad("1", 0, 5, nil)
	existing.CreativeURL = "https://old"
	existing.ImpressionsEstimate = 100

	stale := ad("1", 0, 1, nil)
	stale.CreativeURL = "https://stale"
	stale.ImpressionsEstimate = 5
	merged := Merge(existing, stale)
	assert.Equal(t, "https://old", merged.CreativeURL)
	assert.Equal(t, int64(100), merged.ImpressionsEstimate)

	fresh := ad("1", 0, 6, nil)
	fresh.ImpressionsEstimate = 500
	merged = Merge(existing, fresh)
	assert.Equal(t, "https://old", merged.CreativeURL, "empty never overwrites")
	assert.Equal(t, int64(500), merged.ImpressionsEstimate)
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	existing := ad("1", 0, 1, map[string]string{"k": "v"})
	merged := Merge(existing, ad("1", 0, 2, map[string]string{"k": "w"}))
	assert.Equal(t, "v", existing.Metadata["k"])
	assert.Equal(t, "w", merged.Metadata["k"])
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Upsert(context.Background(), ad("1", 3, 1, nil))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Upsert(ctx, ad("2", 0, 1, nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len())
}

func TestConcurrentUpsertsNeverDuplicate(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := s.Upsert(context.Background(), ad(fmt.Sprintf("ad-%02d", i%25), w, w+i%7, nil))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	records := s.Records()
	require.Len(t, records, 25)
	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("ad-%02d", i), rec.AdID, "sorted by ad_id")
		assert.Equal(t, t0, rec.FirstSeenAt)
	}
}

func TestLoadSeedsStore(t *testing.T) {
	s := NewMemoryStore()
	s.Load([]models.AdRecord{ad("b", 1, 2, nil), ad("a", 0, 1, nil)})
	s.Load([]models.AdRecord{ad("a", 0, 4, nil)})

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].AdID)
	assert.Equal(t, t0.AddDate(0, 0, 4), records[0].LastSeenAt)
}
