package tiktok

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiktokads/pkg/models"
)

func TestSearchURL(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		raw, err := SearchURL("", PageRequest{AdvertiserID: "adv 1"}, 0)
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "library.tiktok.com", u.Host)
		assert.Equal(t, "adv 1", u.Query().Get("advertiser_id"))
		assert.Equal(t, "50", u.Query().Get("count"))
		assert.False(t, u.Query().Has("cursor"))
		assert.False(t, u.Query().Has("start_date"))
	})

	t.Run("page size is capped", func(t *testing.T) {
		raw, err := SearchURL("http://example.test/search", PageRequest{AdvertiserID: "a"}, 1000)
		require.NoError(t, err)
		u, _ := url.Parse(raw)
		assert.Equal(t, "100", u.Query().Get("count"))
	})

	t.Run("existing query is kept", func(t *testing.T) {
		raw, err := SearchURL("http://example.test/search?region=US", PageRequest{
			AdvertiserID: "a",
			Cursor:       "abc=/+",
			DateRange:    models.DateRange{Start: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		}, 10)
		require.NoError(t, err)
		u, _ := url.Parse(raw)
		assert.Equal(t, "US", u.Query().Get("region"))
		assert.Equal(t, "abc=/+", u.Query().Get("cursor"))
		assert.Equal(t, "2024-05-01", u.Query().Get("start_date"))
		assert.False(t, u.Query().Has("end_date"))
	})

	t.Run("invalid base", func(t *testing.T) {
		_, err := SearchURL("not a url", PageRequest{AdvertiserID: "a"}, 10)
		assert.Error(t, err)
	})
}

func TestIsValidAdvertiserID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"7012345678901234567", true},
		{"brand_account-01", true},
		{"shop.eu", true},
		{"", false},
		{"has space", false},
		{"semi;colon", false},
		{string(make([]byte, 65)), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidAdvertiserID(tt.id), tt.id)
	}
}

func TestSanitizeAdvertiserID(t *testing.T) {
	assert.Equal(t, "brand", SanitizeAdvertiserID("  @brand/ "))
	assert.Equal(t, "7012", SanitizeAdvertiserID("7012"))
	assert.Equal(t, "", SanitizeAdvertiserID(""))
}
