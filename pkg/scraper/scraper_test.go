package scraper

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tiktokads/pkg/checkpoint"
	errs "tiktokads/pkg/errors"
	"tiktokads/pkg/logger"
	"tiktokads/pkg/models"
	"tiktokads/pkg/scraper/mocks"
	"tiktokads/pkg/tiktok"
)

func rawAd(id, advertiser, first, last string) models.RawAd {
	return models.RawAd{
		"ad_id":         id,
		"advertiser_id": advertiser,
		"first_seen_at": first,
		"last_seen_at":  last,
	}
}

// pagedFetcher serves fixed pages per advertiser; a cursor is the index of
// the next page
func pagedFetcher(pages map[string][][]models.RawAd, failures map[string]error) func(context.Context, tiktok.PageRequest) (*tiktok.Page, error) {
	return func(ctx context.Context, req tiktok.PageRequest) (*tiktok.Page, error) {
		if err := failures[req.AdvertiserID]; err != nil {
			return nil, err
		}
		index := 0
		if req.Cursor != "" {
			index = int(req.Cursor[0] - '0')
		}
		all := pages[req.AdvertiserID]
		page := &tiktok.Page{}
		if index < len(all) {
			page.Ads = all[index]
		}
		if index+1 < len(all) {
			page.Next = models.PageCursor(string(rune('0' + index + 1)))
		}
		return page, nil
	}
}

type ScraperTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	fetcher      *mocks.MockFetcher
	exporter     *mocks.MockExporter
	sink         *mocks.MockSink
	checkpointer *mocks.MockCheckpointer

	log      *logger.TestLogger
	exported []models.AdRecord
	states   []State
	mu       sync.Mutex
}

func (s *ScraperTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.fetcher = mocks.NewMockFetcher(s.ctrl)
	s.exporter = mocks.NewMockExporter(s.ctrl)
	s.sink = mocks.NewMockSink(s.ctrl)
	s.checkpointer = mocks.NewMockCheckpointer(s.ctrl)
	s.log = logger.NewTestLogger()
	s.exported = nil
	s.states = nil

	s.sink.EXPECT().Name().Return("test-sink").AnyTimes()
}

func (s *ScraperTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestScraperTestSuite(t *testing.T) {
	suite.Run(t, new(ScraperTestSuite))
}

func (s *ScraperTestSuite) newScraper(withCheckpoint bool) *Scraper {
	opts := Options{
		Fetcher:     s.fetcher,
		Exporter:    s.exporter,
		Sinks:       []Sink{s.sink},
		Concurrency: 2,
		Logger:      s.log,
		OnStateChange: func(from, to State) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.states = append(s.states, to)
		},
	}
	if withCheckpoint {
		opts.Checkpointer = s.checkpointer
	}
	sc, err := New(opts)
	s.Require().NoError(err)
	return sc
}

func (s *ScraperTestSuite) newJob(accounts ...string) *models.ScrapeJob {
	job, err := models.NewScrapeJob(accounts, models.DateRange{}, models.FormatCSV, "/out/ads.csv")
	s.Require().NoError(err)
	return job
}

func (s *ScraperTestSuite) expectExport() {
	s.exporter.EXPECT().
		Export(gomock.Any(), gomock.Any(), models.FormatCSV, "/out/ads.csv").
		DoAndReturn(func(_ context.Context, recs []models.AdRecord, _ models.OutputFormat, _ string) (int, error) {
			s.exported = recs
			return len(recs), nil
		})
}

func (s *ScraperTestSuite) TestRun_AllAccountsSucceed() {
	pages := map[string][][]models.RawAd{
		"a": {
			{rawAd("1", "a", "2024-01-01", "2024-01-02"), rawAd("2", "a", "2024-01-01", "2024-01-03")},
			{rawAd("3", "a", "2024-01-05", "2024-01-05")},
		},
		"b": {
			{rawAd("4", "b", "2024-01-01", "2024-01-01")},
		},
	}
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(pagedFetcher(pages, nil)).Times(3)
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), true).Return(nil).Times(4)
	s.expectExport()

	report, err := s.newScraper(false).Run(context.Background(), s.newJob("a", "b"))
	s.Require().NoError(err)

	s.Equal(ExitSuccess, report.ExitCode())
	s.Equal(StateDone, report.State)
	s.Equal(4, report.Records)
	s.Equal(4, report.Inserted)
	s.Len(s.exported, 4)
	s.Equal([]State{StateFetching, StateParsing, StateExporting, StateDone}, s.states)

	a, ok := report.Account("a")
	s.Require().True(ok)
	s.Equal(AccountCompleted, a.Status)
	s.Equal(2, a.Pages)
	s.Equal(3, a.Stored)
}

func (s *ScraperTestSuite) TestRun_DuplicatesAreMerged() {
	pages := map[string][][]models.RawAd{
		"a": {
			{rawAd("1", "a", "2024-01-03", "2024-01-04")},
			{rawAd("1", "a", "2024-01-01", "2024-01-02"), rawAd("1", "a", "2024-01-05", "2024-01-09")},
		},
	}
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(pagedFetcher(pages, nil)).Times(2)
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), true).Return(nil).Times(1)
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), false).Return(nil).Times(2)
	s.expectExport()

	report, err := s.newScraper(false).Run(context.Background(), s.newJob("a"))
	s.Require().NoError(err)

	s.Equal(1, report.Records)
	s.Equal(1, report.Inserted)
	s.Equal(2, report.Updated)
	s.Require().Len(s.exported, 1)
	s.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), s.exported[0].FirstSeenAt)
	s.Equal(time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), s.exported[0].LastSeenAt)
}

func (s *ScraperTestSuite) TestRun_OneAccountFails() {
	pages := map[string][][]models.RawAd{
		"good": {{rawAd("1", "good", "2024-01-01", "2024-01-01")}},
	}
	failure := &errs.FetchError{Type: errs.ErrorTypeServerError, Account: "bad", StatusCode: http.StatusBadGateway, Attempts: 5}
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).
		DoAndReturn(pagedFetcher(pages, map[string]error{"bad": failure})).Times(2)
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), true).Return(nil).Times(1)
	s.expectExport()

	report, err := s.newScraper(false).Run(context.Background(), s.newJob("good", "bad"))
	s.Require().NoError(err)

	s.Equal(ExitPartial, report.ExitCode())
	s.Require().Len(s.exported, 1)
	s.Equal("good", s.exported[0].AdvertiserID)

	bad, _ := report.Account("bad")
	s.Equal(AccountFailed, bad.Status)
	s.Equal("bad", errs.Account(bad.Err))
	s.Len(report.Errors(), 1)
	s.True(s.log.HasMessage("Account failed"))
}

func (s *ScraperTestSuite) TestRun_EveryAccountFails() {
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).
		Return(nil, errs.NewStatusError("a", http.StatusUnauthorized))
	s.expectExport()

	report, err := s.newScraper(false).Run(context.Background(), s.newJob("a"))
	s.Require().NoError(err)
	s.Equal(0, report.Records)
	s.Equal(ExitFailure, report.ExitCode())
}

func (s *ScraperTestSuite) TestRun_ParseErrorsSkipRecords() {
	pages := map[string][][]models.RawAd{
		"a": {{
			rawAd("1", "a", "2024-01-01", "2024-01-01"),
			{"advertiser_id": "a", "first_seen_at": "2024-01-01"},
			rawAd("2", "a", "2024-01-05", "2024-01-01"),
		}},
	}
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(pagedFetcher(pages, nil))
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	s.expectExport()

	report, err := s.newScraper(false).Run(context.Background(), s.newJob("a"))
	s.Require().NoError(err)

	a, _ := report.Account("a")
	s.Equal(2, a.ParseErrors)
	s.Equal(1, a.Stored)
	s.Equal(ExitSuccess, report.ExitCode())
}

func (s *ScraperTestSuite) TestRun_DateRangeFilter() {
	pages := map[string][][]models.RawAd{
		"a": {{
			rawAd("before", "a", "2023-12-01", "2023-12-31"),
			rawAd("overlap", "a", "2023-12-20", "2024-01-02"),
			rawAd("inside", "a", "2024-01-10", "2024-01-11"),
			rawAd("last-day", "a", "2024-01-31T23:59:59Z", "2024-02-03"),
			rawAd("after", "a", "2024-02-01", "2024-02-02"),
		}},
	}
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(pagedFetcher(pages, nil))
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), true).Return(nil).Times(3)
	s.expectExport()

	dr := models.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	job, err := models.NewScrapeJob([]string{"a"}, dr, models.FormatCSV, "/out/ads.csv")
	s.Require().NoError(err)

	report, err := s.newScraper(false).Run(context.Background(), job)
	s.Require().NoError(err)

	a, _ := report.Account("a")
	s.Equal(2, a.OutOfRange)
	var ids []string
	for _, rec := range s.exported {
		ids = append(ids, rec.AdID)
	}
	s.Equal([]string{"inside", "last-day", "overlap"}, ids)
}

func (s *ScraperTestSuite) TestRun_SinkFailureIsNotFatal() {
	pages := map[string][][]models.RawAd{
		"a": {{rawAd("1", "a", "2024-01-01", "2024-01-01"), rawAd("2", "a", "2024-01-01", "2024-01-01")}},
	}
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(pagedFetcher(pages, nil))
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), true).Return(errors.New("connection refused")).Times(2)
	s.expectExport()

	report, err := s.newScraper(false).Run(context.Background(), s.newJob("a"))
	s.Require().NoError(err)
	s.Equal(2, report.SinkErrors)
	s.Equal(2, report.Records)
	s.Equal(ExitSuccess, report.ExitCode())
	s.True(s.log.HasMessage("Sink write failed"))
}

func (s *ScraperTestSuite) TestRun_ExportFailureAbortsJob() {
	pages := map[string][][]models.RawAd{
		"a": {{rawAd("1", "a", "2024-01-01", "2024-01-01")}},
	}
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(pagedFetcher(pages, nil))
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), true).Return(nil)
	s.exporter.EXPECT().Export(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(0, errors.New("permission denied"))
	s.checkpointer.EXPECT().Load().Return(nil, nil)
	s.checkpointer.EXPECT().Create().Return(&checkpoint.Checkpoint{JobKey: "k", Version: checkpoint.Version})
	s.checkpointer.EXPECT().Save(gomock.Any()).Return(nil)
	// checkpoint is kept for the next attempt

	report, err := s.newScraper(true).Run(context.Background(), s.newJob("a"))
	s.Require().Error(err)

	var ee *errs.ExportError
	s.True(errors.As(err, &ee))
	s.Equal("/out/ads.csv", ee.Path)
	s.Equal(StateFailed, report.State)
	s.Equal(ExitFailure, report.ExitCode())
	s.Equal([]State{StateFetching, StateParsing, StateExporting, StateFailed}, s.states)
}

func (s *ScraperTestSuite) TestRun_CheckpointSavedPerPageAndDeleted() {
	pages := map[string][][]models.RawAd{
		"a": {
			{rawAd("1", "a", "2024-01-01", "2024-01-01")},
			{rawAd("2", "a", "2024-01-01", "2024-01-01")},
		},
	}
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(pagedFetcher(pages, nil)).Times(2)
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), true).Return(nil).Times(2)
	s.expectExport()

	cp := &checkpoint.Checkpoint{JobKey: "k", Version: checkpoint.Version}
	var saved []checkpoint.AccountState
	s.checkpointer.EXPECT().Load().Return(nil, nil)
	s.checkpointer.EXPECT().Create().Return(cp)
	s.checkpointer.EXPECT().Save(cp).DoAndReturn(func(c *checkpoint.Checkpoint) error {
		saved = append(saved, c.Account("a"))
		return nil
	}).Times(2)
	s.checkpointer.EXPECT().Delete().Return(nil)

	report, err := s.newScraper(true).Run(context.Background(), s.newJob("a"))
	s.Require().NoError(err)
	s.Equal(ExitSuccess, report.ExitCode())

	s.Require().Len(saved, 2)
	s.Equal(checkpoint.AccountState{Cursor: "1", Pages: 1, Ads: 1}, saved[0])
	s.Equal(checkpoint.AccountState{Pages: 2, Ads: 2, Done: true}, saved[1])
	s.Len(cp.Records, 2)
}

func (s *ScraperTestSuite) TestRun_ResumeSkipsCompletedAccounts() {
	seen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cp := &checkpoint.Checkpoint{
		JobKey:  "k",
		Version: checkpoint.Version,
		Accounts: map[string]checkpoint.AccountState{
			"a": {Pages: 1, Ads: 1, Done: true},
			"b": {Cursor: "1", Pages: 1, Ads: 1},
		},
		Records: []models.AdRecord{
			{AdID: "a1", AdvertiserID: "a", FirstSeenAt: seen, LastSeenAt: seen},
			{AdID: "b1", AdvertiserID: "b", FirstSeenAt: seen, LastSeenAt: seen},
		},
	}
	s.checkpointer.EXPECT().Load().Return(cp, nil)
	s.checkpointer.EXPECT().Save(cp).Return(nil)
	s.checkpointer.EXPECT().Delete().Return(nil)

	s.fetcher.EXPECT().
		Fetch(gomock.Any(), tiktok.PageRequest{AdvertiserID: "b", Cursor: "1"}).
		Return(&tiktok.Page{Ads: []models.RawAd{rawAd("b2", "b", "2024-01-02", "2024-01-02")}}, nil)
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), true).Return(nil)
	s.expectExport()

	report, err := s.newScraper(true).Run(context.Background(), s.newJob("a", "b"))
	s.Require().NoError(err)

	s.True(report.Resumed)
	s.Equal(3, report.Records)
	a, _ := report.Account("a")
	s.True(a.Resumed)
	s.Equal(AccountCompleted, a.Status)
	b, _ := report.Account("b")
	s.Equal(2, b.Pages)
}

func (s *ScraperTestSuite) TestRun_CheckpointLoadFailure() {
	s.checkpointer.EXPECT().Load().Return(nil, errors.New("corrupt"))

	report, err := s.newScraper(true).Run(context.Background(), s.newJob("a"))
	s.Require().Error(err)
	s.Equal(StateFailed, report.State)
	s.Equal([]State{StateFailed}, s.states)
}

func (s *ScraperTestSuite) TestRun_ProgressReported() {
	pages := map[string][][]models.RawAd{
		"a": {{rawAd("1", "a", "2024-01-01", "2024-01-01")}, {}},
	}
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(pagedFetcher(pages, nil)).Times(2)
	s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), true).Return(nil)
	s.expectExport()

	var updates []Progress
	sc, err := New(Options{
		Fetcher:    s.fetcher,
		Exporter:   s.exporter,
		Sinks:      []Sink{s.sink},
		Logger:     s.log,
		OnProgress: func(p Progress) { updates = append(updates, p) },
	})
	s.Require().NoError(err)

	_, err = sc.Run(context.Background(), s.newJob("a"))
	s.Require().NoError(err)
	s.Require().Len(updates, 2)
	s.Equal(Progress{AdvertiserID: "a", Pages: 1, Ads: 1, Stored: 1}, updates[0])
	s.True(updates[1].Done)
}

func TestNewRequiresFetcher(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected an error without a fetcher")
	}
}
