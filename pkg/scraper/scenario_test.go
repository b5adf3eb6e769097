package scraper

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiktokads/internal/adlibtest"
	"tiktokads/pkg/checkpoint"
	"tiktokads/pkg/export"
	"tiktokads/pkg/logger"
	"tiktokads/pkg/models"
	"tiktokads/pkg/ratelimit"
	"tiktokads/pkg/retry"
	"tiktokads/pkg/tiktok"
)

var day0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fastRetry(attempts int) *retry.Policy {
	return &retry.Policy{
		MaxAttempts: attempts,
		Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     retry.DefaultRetryIf,
		MaxDelay:    10 * time.Millisecond,
		Logger:      logger.NewNopLogger(),
	}
}

func newTestClient(srv *adlibtest.Server, pageSize int, limiter ratelimit.Limiter) *tiktok.Client {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return tiktok.NewClient(tiktok.Options{
		BaseURL:  srv.URL(),
		PageSize: pageSize,
		Limiter:  limiter,
		Retry:    fastRetry(4),
	}, logger.NewNopLogger())
}

func csvJob(t *testing.T, dir string, accounts ...string) *models.ScrapeJob {
	t.Helper()
	job, err := models.NewScrapeJob(accounts, models.DateRange{}, models.FormatCSV, filepath.Join(dir, "ads.csv"))
	require.NoError(t, err)
	return job
}

func readExport(t *testing.T, path string) []models.AdRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := export.ReadCSV(f)
	require.NoError(t, err)
	return records
}

func addAll(srv *adlibtest.Server, advertiser string, ads []map[string]interface{}) {
	srv.AddAds(advertiser, ads...)
}

func TestScenarioTransientFailuresRecover(t *testing.T) {
	srv := adlibtest.NewServer()
	defer srv.Close()
	addAll(srv, "adv1", adlibtest.Ads("adv1", 120, day0))
	srv.FailNext("adv1", http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	dir := t.TempDir()
	sc, err := New(Options{Fetcher: newTestClient(srv, 50, nil), Logger: logger.NewNopLogger()})
	require.NoError(t, err)

	report, err := sc.Run(context.Background(), csvJob(t, dir, "adv1"))
	require.NoError(t, err)

	assert.Equal(t, ExitSuccess, report.ExitCode())
	assert.Equal(t, 120, report.Records)
	assert.Equal(t, 6, srv.RequestsFor("adv1"))
	assert.Len(t, readExport(t, report.OutputPath), 120)
}

func TestScenarioPermanentFailureIsolated(t *testing.T) {
	srv := adlibtest.NewServer()
	defer srv.Close()
	addAll(srv, "good", adlibtest.Ads("good", 7, day0))
	addAll(srv, "bad", adlibtest.Ads("bad", 7, day0))
	srv.FailAlways("bad", http.StatusInternalServerError)

	dir := t.TempDir()
	sc, err := New(Options{Fetcher: newTestClient(srv, 5, nil), Concurrency: 2, Logger: logger.NewNopLogger()})
	require.NoError(t, err)

	report, err := sc.Run(context.Background(), csvJob(t, dir, "good", "bad"))
	require.NoError(t, err)

	assert.Equal(t, ExitPartial, report.ExitCode())
	assert.Equal(t, 4, srv.RequestsFor("bad"))

	bad, _ := report.Account("bad")
	assert.Equal(t, AccountFailed, bad.Status)
	good, _ := report.Account("good")
	assert.Equal(t, AccountCompleted, good.Status)
	assert.Equal(t, 2, good.Pages)

	records := readExport(t, report.OutputPath)
	require.Len(t, records, 7)
	for _, rec := range records {
		assert.Equal(t, "good", rec.AdvertiserID)
	}
}

func TestScenarioDuplicateSightingsMerged(t *testing.T) {
	srv := adlibtest.NewServer()
	defer srv.Close()
	d := func(n int) time.Time { return day0.AddDate(0, 0, n) }
	srv.AddAds("adv1",
		adlibtest.Ad("dup", "adv1", d(3), d(4)),
		adlibtest.Ad("dup", "adv1", d(1), d(2)),
		adlibtest.Ad("dup", "adv1", d(2), d(9)),
		adlibtest.Ad("solo", "adv1", d(5), d(5)),
	)

	dir := t.TempDir()
	sc, err := New(Options{Fetcher: newTestClient(srv, 1, nil), Logger: logger.NewNopLogger()})
	require.NoError(t, err)

	report, err := sc.Run(context.Background(), csvJob(t, dir, "adv1"))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 2, report.Updated)

	records := readExport(t, report.OutputPath)
	require.Len(t, records, 2)
	assert.Equal(t, "dup", records[0].AdID)
	assert.True(t, records[0].FirstSeenAt.Equal(d(1)))
	assert.True(t, records[0].LastSeenAt.Equal(d(9)))
}

func TestScenarioCancellationExportsPartialResult(t *testing.T) {
	srv := adlibtest.NewServer()
	defer srv.Close()
	addAll(srv, "adv1", adlibtest.Ads("adv1", 10, day0))
	srv.SetDelay("adv1", 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	sc, err := New(Options{
		Fetcher:    newTestClient(srv, 1, nil),
		Logger:     logger.NewNopLogger(),
		OnProgress: func(Progress) { cancel() },
	})
	require.NoError(t, err)

	report, err := sc.Run(ctx, csvJob(t, dir, "adv1"))
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, ExitPartial, report.ExitCode())

	a, _ := report.Account("adv1")
	assert.Equal(t, AccountInterrupted, a.Status)
	assert.GreaterOrEqual(t, report.Records, 1)
	assert.Less(t, report.Records, 10)
	assert.Len(t, readExport(t, report.OutputPath), report.Records)
}

func TestScenarioResumeFromCheckpoint(t *testing.T) {
	srv := adlibtest.NewServer()
	defer srv.Close()
	addAll(srv, "adv1", adlibtest.Ads("adv1", 6, day0))
	srv.SetDelay("adv1", 20*time.Millisecond)

	dir := t.TempDir()
	job := csvJob(t, dir, "adv1")

	manager, err := checkpoint.NewManager(filepath.Join(dir, "checkpoints"), job.Key(), logger.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	first, err := New(Options{
		Fetcher:      newTestClient(srv, 1, nil),
		Checkpointer: manager,
		Logger:       logger.NewNopLogger(),
		OnProgress:   func(Progress) { cancel() },
	})
	require.NoError(t, err)

	report, err := first.Run(ctx, job)
	cancel()
	require.NoError(t, err)
	require.True(t, report.Cancelled)
	require.True(t, manager.Exists())

	fetched := srv.RequestsFor("adv1")
	require.Less(t, fetched, 6)

	second, err := New(Options{
		Fetcher:      newTestClient(srv, 1, nil),
		Checkpointer: manager,
		Logger:       logger.NewNopLogger(),
	})
	require.NoError(t, err)

	report, err = second.Run(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, report.Resumed)
	assert.Equal(t, ExitSuccess, report.ExitCode())
	assert.Equal(t, 6, report.Records)
	assert.Len(t, readExport(t, report.OutputPath), 6)
	assert.False(t, manager.Exists())

	// the second run continued from the saved cursor instead of page one
	cursors := srv.CursorsFor("adv1")
	assert.NotEqual(t, "", cursors[fetched])
	assert.Equal(t, 6, srv.RequestsFor("adv1"))
}

func TestScenarioRateLimitSpacesRequests(t *testing.T) {
	srv := adlibtest.NewServer()
	defer srv.Close()
	addAll(srv, "adv1", adlibtest.Ads("adv1", 3, day0))
	addAll(srv, "adv2", adlibtest.Ads("adv2", 3, day0))

	limiter := ratelimit.NewTokenBucket(20, time.Second, 1)

	dir := t.TempDir()
	sc, err := New(Options{
		Fetcher:     newTestClient(srv, 1, limiter),
		Concurrency: 2,
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)

	start := time.Now()
	report, err := sc.Run(context.Background(), csvJob(t, dir, "adv1", "adv2"))
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, ExitSuccess, report.ExitCode())
	assert.Equal(t, 6, srv.RequestCount())
	// six requests at 20/s with a burst of one take at least 250ms
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
}
