package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"tiktokads/pkg/config"
	"tiktokads/pkg/logger"
)

// RunFunc runs one scheduled scrape
type RunFunc func(ctx context.Context) error

// Stats describes the runs so far
type Stats struct {
	Runs            int
	Failures        int
	Skipped         int
	LastStartedAt   time.Time
	LastCompletedAt time.Time
	LastError       error
}

// Scheduler runs a scrape on a cron expression or a fixed interval. A run
// that would overlap the previous one is skipped.
type Scheduler struct {
	cron    *gocron.Scheduler
	run     RunFunc
	cfg     config.ScheduleConfig
	logger  logger.Logger
	mu      sync.Mutex
	running bool
	stats   Stats
}

// New creates a scheduler. Cron wins over Interval; one of them is required.
func New(cfg config.ScheduleConfig, run RunFunc, log logger.Logger) (*Scheduler, error) {
	if cfg.Cron == "" && cfg.Interval <= 0 {
		return nil, fmt.Errorf("schedule needs a cron expression or a positive interval")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		run:    run,
		cfg:    cfg,
		logger: log.WithField("component", "scheduler"),
	}, nil
}

// Start schedules the job and returns immediately. Interval schedules run
// once right away. The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	var job *gocron.Scheduler
	fields := map[string]interface{}{}
	if s.cfg.Cron != "" {
		job = s.cron.Cron(s.cfg.Cron)
		fields["cron"] = s.cfg.Cron
	} else {
		job = s.cron.Every(s.cfg.Interval)
		fields["interval"] = s.cfg.Interval.String()
	}

	_, err := job.Do(func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule scrape: %w", err)
	}

	logger.LogComponentStart(s.logger, "scheduler", fields)
	s.cron.StartAsync()

	go func() {
		<-ctx.Done()
		s.cron.Stop()
		logger.LogComponentStop(s.logger, "scheduler", map[string]interface{}{
			"runs":     s.Stats().Runs,
			"failures": s.Stats().Failures,
		})
	}()
	return nil
}

// RunOnce runs the scrape now unless a run is already in progress. It
// reports whether the run happened.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.stats.Skipped++
		s.mu.Unlock()
		s.logger.Warn("Previous scrape still running, skipping")
		return false
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.stats.LastStartedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("Scheduled scrape starting")
	err := s.run(ctx)

	s.mu.Lock()
	s.running = false
	s.stats.Runs++
	s.stats.LastCompletedAt = time.Now()
	s.stats.LastError = err
	if err != nil {
		s.stats.Failures++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).Error("Scheduled scrape failed")
	} else {
		s.logger.Info("Scheduled scrape completed")
	}
	return true
}

// NextRun returns the time of the next scheduled run, or the zero time
// before Start
func (s *Scheduler) NextRun() time.Time {
	_, next := s.cron.NextRun()
	return next
}

// Stats returns a snapshot of the run counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
