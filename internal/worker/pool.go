package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tiktokads/pkg/logger"
	"tiktokads/pkg/models"
	"tiktokads/pkg/retry"
	"tiktokads/pkg/tiktok"
)

// DefaultDrainTimeout bounds how long in-flight requests may run after the
// pool's context is cancelled
const DefaultDrainTimeout = 10 * time.Second

// PageFetcher retrieves one page of an advertiser's ads
type PageFetcher interface {
	Fetch(ctx context.Context, req tiktok.PageRequest) (*tiktok.Page, error)
}

// AccountJob asks a worker to page through one advertiser. Cursor and Pages
// resume a previously interrupted account.
type AccountJob struct {
	AdvertiserID string
	Cursor       models.PageCursor
	Pages        int
	DateRange    models.DateRange
}

// PageResult is one fetched page, or the error that ended an account.
// Done is set on the last result of an account.
type PageResult struct {
	AdvertiserID string
	// PageNumber counts pages of this account, starting at 1
	PageNumber int
	// Cursor is the cursor the page was requested with
	Cursor   models.PageCursor
	Page     *tiktok.Page
	Err      error
	Done     bool
	Duration time.Duration
}

// Pool runs a bounded number of account workers. Each worker pages through
// one advertiser at a time and owns that account's cursor.
type Pool struct {
	numWorkers   int
	drainTimeout time.Duration
	fetcher      PageFetcher
	jobQueue     chan AccountJob
	resultQueue  chan PageResult
	wg           sync.WaitGroup
	ctx          context.Context
	fetchCtx     context.Context
	cancelFetch  context.CancelFunc
	stopDrain    func() bool
	active       atomic.Int32
	logger       logger.Logger
}

// NewPool creates a pool of numWorkers account workers
func NewPool(numWorkers int, fetcher PageFetcher, drainTimeout time.Duration, log logger.Logger) *Pool {
	if log == nil {
		log = logger.GetLogger()
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}

	return &Pool{
		numWorkers:   numWorkers,
		drainTimeout: drainTimeout,
		fetcher:      fetcher,
		jobQueue:     make(chan AccountJob, numWorkers*2),
		resultQueue:  make(chan PageResult, numWorkers),
		logger:       log,
	}
}

// Start launches the workers. Cancelling ctx stops new fetches, retries
// included; requests already in flight get the drain timeout to finish
// before they are aborted.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	drainCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.fetchCtx = retry.WithStop(drainCtx, ctx)
	p.cancelFetch = cancel
	p.stopDrain = context.AfterFunc(ctx, func() {
		p.logger.InfoWithFields("Cancellation requested, draining in-flight requests", map[string]interface{}{
			"drain_timeout": p.drainTimeout,
		})
		time.AfterFunc(p.drainTimeout, p.cancelFetch)
	})

	logger.LogComponentStart(p.logger, "worker_pool", map[string]interface{}{
		"num_workers":   p.numWorkers,
		"drain_timeout": p.drainTimeout,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues an account. It fails once the pool's context is done.
func (p *Pool) Submit(job AccountJob) error {
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("worker pool is shutting down: %w", err)
	}
	select {
	case p.jobQueue <- job:
		p.logger.DebugWithFields("Account submitted to queue", map[string]interface{}{
			"advertiser_id": job.AdvertiserID,
			"cursor":        string(job.Cursor),
		})
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", p.ctx.Err())
	}
}

// Results returns the channel of fetched pages. It must be drained until it
// is closed by Stop.
func (p *Pool) Results() <-chan PageResult {
	return p.resultQueue
}

// Stop closes the queue, waits for every worker to finish and closes the
// results channel
func (p *Pool) Stop() {
	close(p.jobQueue)
	p.wg.Wait()
	close(p.resultQueue)

	p.stopDrain()
	p.cancelFetch()

	logger.LogComponentStop(p.logger, "worker_pool", "queue drained")
}

// QueueSize returns the number of accounts waiting for a worker
func (p *Pool) QueueSize() int {
	return len(p.jobQueue)
}

// ActiveWorkers returns the number of workers currently paging an account
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for job := range p.jobQueue {
		if p.ctx.Err() != nil {
			p.logger.DebugWithFields("Worker skipping account - context cancelled", map[string]interface{}{
				"worker_id":     id,
				"advertiser_id": job.AdvertiserID,
			})
			continue
		}

		p.active.Add(1)
		p.processAccount(job, id)
		p.active.Add(-1)
	}

	p.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

// processAccount pages through one advertiser until the last page, an
// error, or cancellation. An interrupted account emits no final result.
// A cursor the account has already been fetched with ends pagination.
func (p *Pool) processAccount(job AccountJob, workerID int) {
	log := p.logger.WithFields(map[string]interface{}{
		"worker_id":     workerID,
		"advertiser_id": job.AdvertiserID,
	})
	log.Debug("Worker processing account")

	cursor := job.Cursor
	pages := job.Pages
	ads := 0
	seen := map[models.PageCursor]bool{cursor: true}

	for {
		if p.ctx.Err() != nil {
			log.InfoWithFields("Account interrupted", map[string]interface{}{
				"pages":  pages,
				"cursor": string(cursor),
			})
			return
		}

		start := time.Now()
		page, err := p.fetcher.Fetch(p.fetchCtx, tiktok.PageRequest{
			AdvertiserID: job.AdvertiserID,
			Cursor:       cursor,
			DateRange:    job.DateRange,
		})
		if err != nil {
			if p.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				log.InfoWithFields("Account interrupted during fetch", map[string]interface{}{
					"pages": pages,
				})
				return
			}
			log.ErrorWithFields("Worker failed to fetch account", map[string]interface{}{
				"page":  pages + 1,
				"error": err.Error(),
			})
			p.resultQueue <- PageResult{
				AdvertiserID: job.AdvertiserID,
				PageNumber:   pages + 1,
				Cursor:       cursor,
				Err:          err,
				Done:         true,
				Duration:     time.Since(start),
			}
			return
		}

		if page.HasMore() && seen[page.Next] {
			log.WarnWithFields("Cursor repeated, stopping pagination", map[string]interface{}{
				"page":   pages + 1,
				"cursor": string(page.Next),
			})
			page.Next = ""
		}
		seen[page.Next] = true

		pages++
		ads += len(page.Ads)
		done := !page.HasMore()
		p.resultQueue <- PageResult{
			AdvertiserID: job.AdvertiserID,
			PageNumber:   pages,
			Cursor:       cursor,
			Page:         page,
			Done:         done,
			Duration:     time.Since(start),
		}
		logger.LogAccountProgress(log, job.AdvertiserID, pages, ads)

		if done {
			log.DebugWithFields("Worker completed account", map[string]interface{}{
				"pages": pages,
				"ads":   ads,
			})
			return
		}
		cursor = page.Next
	}
}
