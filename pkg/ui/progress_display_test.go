package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tiktokads/pkg/scraper"
)

func TestProgressDisplayLine(t *testing.T) {
	var sb strings.Builder
	p := NewProgressDisplay(&sb, 2, false)

	p.StateChanged(scraper.StateIdle, scraper.StateFetching)
	p.Update(scraper.Progress{AdvertiserID: "a", Pages: 1, Ads: 50, Stored: 48})
	p.Update(scraper.Progress{AdvertiserID: "a", Pages: 2, Ads: 70, Stored: 66, Done: true})
	p.Update(scraper.Progress{AdvertiserID: "b", Pages: 1, Done: true, Err: errors.New("401")})

	line := p.Line()
	assert.True(t, strings.HasPrefix(line, "fetching [━━━━━━━━━━━━━━━━━━━━]"), line)
	assert.Contains(t, line, "2/2 accounts")
	assert.Contains(t, line, "3 pages")
	assert.Contains(t, line, "66 ads")
	assert.Contains(t, line, "1 failed")
	assert.Contains(t, sb.String(), "\r")
}

func TestProgressDisplayDebug(t *testing.T) {
	SetColor(false)
	var sb strings.Builder
	p := NewProgressDisplay(&sb, 1, true)

	p.StateChanged(scraper.StateIdle, scraper.StateFetching)
	p.Update(scraper.Progress{AdvertiserID: "a", Pages: 1, Ads: 5})
	p.Update(scraper.Progress{AdvertiserID: "a", Pages: 1, Ads: 5, Done: true})

	out := sb.String()
	assert.Contains(t, out, "→ idle -> fetching\n")
	assert.Contains(t, out, "· a • page 1 • 5 ads\n")
	assert.Contains(t, out, "✓ a • 1 pages • 5 ads\n")
}

func TestPrintReport(t *testing.T) {
	SetColor(false)
	var sb strings.Builder
	PrintReport(&sb, &scraper.Report{
		OutputPath: "/tmp/ads.csv",
		Records:    12,
		Inserted:   10,
		Updated:    2,
		Cancelled:  true,
		SinkErrors: 1,
		Duration:   75 * time.Second,
		Accounts: []scraper.AccountResult{
			{AdvertiserID: "a", Status: scraper.AccountCompleted},
			{AdvertiserID: "b", Status: scraper.AccountFailed, Err: errors.New("unauthorized")},
			{AdvertiserID: "c", Status: scraper.AccountInterrupted},
		},
	})

	out := sb.String()
	assert.Contains(t, out, "! Exported 12 ads to /tmp/ads.csv")
	assert.Contains(t, out, "10 new • 2 updated • 1m15s")
	assert.Contains(t, out, "cancelled, partial result")
	assert.Contains(t, out, "1 sink writes failed")
	assert.Contains(t, out, "✗ b: unauthorized")
	assert.Contains(t, out, "✗ c: interrupted")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
}

func TestColorToggle(t *testing.T) {
	SetColor(true)
	assert.Equal(t, "\033[32mok\033[0m", Green("ok"))
	SetColor(false)
	assert.Equal(t, "ok", Green("ok"))
}
