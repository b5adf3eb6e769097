package scraper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"tiktokads/internal/worker"
	"tiktokads/pkg/checkpoint"
	errs "tiktokads/pkg/errors"
	"tiktokads/pkg/export"
	"tiktokads/pkg/logger"
	"tiktokads/pkg/models"
	"tiktokads/pkg/normalize"
	"tiktokads/pkg/store"
)

// Options wires the collaborators of a Scraper. Only Fetcher is required.
type Options struct {
	Fetcher    Fetcher
	Normalizer Normalizer
	Store      *store.MemoryStore
	Exporter   Exporter
	Sinks      []Sink
	// Checkpointer enables resume support when set
	Checkpointer Checkpointer

	Concurrency  int
	DrainTimeout time.Duration
	// OutputDir receives the export when the job has no output path
	OutputDir string

	OnStateChange func(from, to State)
	OnProgress    func(Progress)

	Logger logger.Logger
}

// Scraper runs scrape jobs: account workers fetch pages, a single parse
// stage normalizes and deduplicates them, and the result is exported.
type Scraper struct {
	fetcher      Fetcher
	normalizer   Normalizer
	store        *store.MemoryStore
	exporter     Exporter
	sinks        []Sink
	checkpointer Checkpointer
	concurrency  int
	drainTimeout time.Duration
	outputDir    string
	onState      func(from, to State)
	onProgress   func(Progress)
	logger       logger.Logger
	now          func() time.Time
}

// New creates a Scraper
func New(opts Options) (*Scraper, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.New()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Exporter == nil {
		opts.Exporter = export.New(opts.Logger)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = worker.DefaultDrainTimeout
	}

	return &Scraper{
		fetcher:      opts.Fetcher,
		normalizer:   opts.Normalizer,
		store:        opts.Store,
		exporter:     opts.Exporter,
		sinks:        opts.Sinks,
		checkpointer: opts.Checkpointer,
		concurrency:  opts.Concurrency,
		drainTimeout: opts.DrainTimeout,
		outputDir:    opts.OutputDir,
		onState:      opts.OnStateChange,
		onProgress:   opts.OnProgress,
		logger:       opts.Logger,
		now:          time.Now,
	}, nil
}

// run holds the mutable state of one Run call. Account results and the
// checkpoint are only touched by the parse stage.
type run struct {
	job      *models.ScrapeJob
	machine  *StateMachine
	report   *Report
	accounts map[string]*AccountResult
	cp       *checkpoint.Checkpoint
	logger   logger.Logger
}

// Run executes job and returns its report. The report is always non-nil;
// the error is set when the job failed as a whole (checkpoint load or
// export). Per-account failures are only recorded in the report.
//
// Cancelling ctx stops new page fetches. Pages already fetched are still
// deduplicated and the partial result is exported.
func (s *Scraper) Run(ctx context.Context, job *models.ScrapeJob) (*Report, error) {
	r := &run{
		job:     job,
		machine: NewStateMachine(s.onState),
		report: &Report{
			JobID:     job.ID(),
			JobKey:    job.Key(),
			Format:    job.Format(),
			StartedAt: s.now(),
		},
		accounts: make(map[string]*AccountResult),
		logger: s.logger.WithFields(map[string]interface{}{
			"job_id":  job.ID().String(),
			"job_key": job.Key(),
		}),
	}
	for _, id := range job.Accounts() {
		r.accounts[id] = &AccountResult{AdvertiserID: id, Status: AccountPending}
	}

	logger.LogComponentStart(r.logger, "scrape_job", map[string]interface{}{
		"accounts":    len(r.accounts),
		"date_range":  job.DateRange().String(),
		"format":      string(job.Format()),
		"concurrency": s.concurrency,
	})

	err := s.run(ctx, r)
	r.report.State = r.machine.State()
	r.report.Duration = time.Since(r.report.StartedAt)
	r.report.Accounts = make([]AccountResult, 0, len(r.accounts))
	for _, a := range r.accounts {
		r.report.Accounts = append(r.report.Accounts, *a)
	}
	slices.SortFunc(r.report.Accounts, func(a, b AccountResult) int {
		return strings.Compare(a.AdvertiserID, b.AdvertiserID)
	})

	r.logger.InfoWithFields("Scrape job finished", map[string]interface{}{
		"state":       r.report.State.String(),
		"records":     r.report.Records,
		"inserted":    r.report.Inserted,
		"updated":     r.report.Updated,
		"incomplete":  len(r.report.Incomplete()),
		"sink_errors": r.report.SinkErrors,
		"cancelled":   r.report.Cancelled,
		"exit_code":   r.report.ExitCode(),
		"duration":    r.report.Duration,
	})
	return r.report, err
}

func (s *Scraper) run(ctx context.Context, r *run) error {
	if err := s.restore(r); err != nil {
		r.machine.Fail()
		return err
	}
	if err := r.machine.Transition(StateFetching); err != nil {
		return err
	}

	pool := worker.NewPool(s.concurrency, s.fetcher, s.drainTimeout, r.logger)
	pool.Start(ctx)

	// work that was already fetched is finished even after cancellation
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range pool.Results() {
			s.processPage(workCtx, r, result)
		}
	}()

	for _, id := range r.job.Accounts() {
		if r.cp != nil && r.cp.IsDone(id) {
			continue
		}
		state := checkpoint.AccountState{}
		if r.cp != nil {
			state = r.cp.Account(id)
		}
		err := pool.Submit(worker.AccountJob{
			AdvertiserID: id,
			Cursor:       state.Cursor,
			Pages:        state.Pages,
			DateRange:    r.job.DateRange(),
		})
		if err != nil {
			r.logger.WarnWithFields("Stopped submitting accounts", map[string]interface{}{
				"advertiser_id": id,
				"error":         err.Error(),
			})
			break
		}
	}

	pool.Stop()
	if err := r.machine.Transition(StateParsing); err != nil {
		return err
	}
	wg.Wait()

	if ctx.Err() != nil {
		r.report.Cancelled = true
	}
	for _, a := range r.accounts {
		if a.Status == AccountPending {
			a.Status = AccountInterrupted
		}
	}

	if err := r.machine.Transition(StateExporting); err != nil {
		return err
	}
	if err := s.export(workCtx, r); err != nil {
		r.machine.Fail()
		return err
	}
	if err := r.machine.Transition(StateDone); err != nil {
		return err
	}

	s.finishCheckpoint(r)
	return nil
}

// restore loads the checkpoint, seeding the store and marking accounts that
// were already complete
func (s *Scraper) restore(r *run) error {
	if s.checkpointer == nil {
		return nil
	}

	cp, err := s.checkpointer.Load()
	if err != nil {
		r.logger.WithError(err).Error("Failed to load checkpoint")
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		r.cp = s.checkpointer.Create()
		return nil
	}

	r.cp = cp
	r.report.Resumed = true
	s.store.Load(cp.Records)
	for id, a := range r.accounts {
		state := cp.Account(id)
		a.Pages = state.Pages
		a.Ads = state.Ads
		if state.Done {
			a.Status = AccountCompleted
			a.Resumed = true
		}
	}

	r.logger.InfoWithFields("Resuming from checkpoint", map[string]interface{}{
		"records":  len(cp.Records),
		"accounts": len(cp.Accounts),
	})
	return nil
}

// processPage is the parse stage: normalize, filter, deduplicate, forward to
// sinks, checkpoint
func (s *Scraper) processPage(ctx context.Context, r *run, result worker.PageResult) {
	acct, ok := r.accounts[result.AdvertiserID]
	if !ok {
		return
	}
	log := r.logger.WithField("advertiser_id", result.AdvertiserID)

	if result.Err != nil {
		acct.Status = AccountFailed
		acct.Err = result.Err
		log.ErrorWithFields("Account failed", map[string]interface{}{
			"page":     result.PageNumber,
			"attempts": fetchAttempts(result.Err),
			"error":    result.Err.Error(),
		})
		s.progress(acct, true, result.Err)
		return
	}

	acct.Pages = result.PageNumber
	acct.Ads += len(result.Page.Ads)
	dateRange := r.job.DateRange()

	for _, raw := range result.Page.Ads {
		rec, err := s.normalizer.Normalize(raw)
		if err != nil {
			var pe *errs.ParseError
			if errors.As(err, &pe) && pe.Account == "" {
				pe.Account = result.AdvertiserID
			}
			acct.ParseErrors++
			log.WarnWithFields("Skipping malformed ad", map[string]interface{}{
				"page":  result.PageNumber,
				"error": err.Error(),
			})
			continue
		}
		if !dateRange.Overlaps(rec.FirstSeenAt, rec.LastSeenAt) {
			acct.OutOfRange++
			continue
		}

		res, err := s.store.Upsert(ctx, *rec)
		if err != nil {
			acct.ParseErrors++
			log.WarnWithFields("Failed to store ad", map[string]interface{}{
				"ad_id": rec.AdID,
				"error": err.Error(),
			})
			continue
		}
		acct.Stored++
		if res.Inserted {
			r.report.Inserted++
		} else {
			r.report.Updated++
		}
		s.writeSinks(ctx, r, log, res)
	}

	if result.Done {
		acct.Status = AccountCompleted
	}
	s.saveCheckpoint(r, result)
	s.progress(acct, result.Done, nil)
}

func (s *Scraper) writeSinks(ctx context.Context, r *run, log logger.Logger, res store.UpsertResult) {
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, res.Record, res.Inserted); err != nil {
			r.report.SinkErrors++
			log.WarnWithFields("Sink write failed", map[string]interface{}{
				"sink":  sink.Name(),
				"ad_id": res.Record.AdID,
				"error": err.Error(),
			})
		}
	}
}

func (s *Scraper) saveCheckpoint(r *run, result worker.PageResult) {
	if r.cp == nil {
		return
	}
	acct := r.accounts[result.AdvertiserID]
	r.cp.SetAccount(result.AdvertiserID, checkpoint.AccountState{
		Cursor: result.Page.Next,
		Pages:  result.PageNumber,
		Ads:    acct.Ads,
		Done:   result.Done,
	})
	r.cp.Records = s.store.Records()
	if err := s.checkpointer.Save(r.cp); err != nil {
		r.logger.WithError(err).Warn("Failed to update checkpoint")
	}
}

// finishCheckpoint removes the checkpoint of a fully successful job
func (s *Scraper) finishCheckpoint(r *run) {
	if s.checkpointer == nil || r.report.ExitCode() != ExitSuccess {
		return
	}
	if err := s.checkpointer.Delete(); err != nil {
		r.logger.WithError(err).Warn("Failed to delete checkpoint")
		return
	}
	r.logger.Info("Checkpoint deleted after successful completion")
}

func (s *Scraper) export(ctx context.Context, r *run) error {
	path := r.job.OutputPath()
	if path == "" {
		path = export.DefaultPath(s.outputDir, r.job.Format(), s.now())
	}
	r.report.OutputPath = path

	n, err := s.exporter.Export(ctx, s.store.Records(), r.job.Format(), path)
	if err != nil {
		var ee *errs.ExportError
		if !errors.As(err, &ee) {
			err = &errs.ExportError{Path: path, Format: string(r.job.Format()), Err: err}
		}
		r.report.ExportErr = err
		r.logger.WithError(err).Error("Export failed")
		return err
	}
	r.report.Records = n
	return nil
}

func (s *Scraper) progress(acct *AccountResult, done bool, err error) {
	if s.onProgress == nil {
		return
	}
	s.onProgress(Progress{
		AdvertiserID: acct.AdvertiserID,
		Pages:        acct.Pages,
		Ads:          acct.Ads,
		Stored:       acct.Stored,
		Done:         done,
		Err:          err,
	})
}

func fetchAttempts(err error) int {
	var fe *errs.FetchError
	if errors.As(err, &fe) && fe.Attempts > 0 {
		return fe.Attempts
	}
	return 1
}
