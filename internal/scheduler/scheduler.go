package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/portops/sof-server/internal/db"
)

// Job names, as logged in scheduler_runs
const (
	JobRetention   = "retention-sweep"
	JobHealthCheck = "ai-health-check"
)

// RunStore is the part of the database the jobs need.
type RunStore interface {
	ExpireRuns(ctx context.Context, now time.Time) ([]db.ExpiredRun, error)
	LogJob(ctx context.Context, jobType string, now time.Time) (int64, error)
	CompleteJob(ctx context.Context, id int64, errMsg string, now time.Time) error
}

// Remover deletes an upload from disk.
type Remover interface {
	Remove(path string) error
}

// HealthChecker is an AI backend that can be probed.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	scheduler gocron.Scheduler
	store     RunStore
	uploads   Remover
	backend   HealthChecker
	clock     clockwork.Clock
	logger    zerolog.Logger

	mu        sync.RWMutex
	healthErr error
	checkedAt time.Time
}

// Config holds scheduler configuration
type Config struct {
	Location      *time.Location
	SweepInterval time.Duration
	ProbeInterval time.Duration
	Clock         clockwork.Clock
}

// New creates a new scheduler. backend may be nil when no AI backend is in use.
func New(store RunStore, uploads Remover, backend HealthChecker, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 5 * time.Minute
	}

	s, err := gocron.NewScheduler(
		gocron.WithLocation(cfg.Location),
		gocron.WithClock(cfg.Clock),
	)
	if err != nil {
		return nil, err
	}

	sch := &Scheduler{
		scheduler: s,
		store:     store,
		uploads:   uploads,
		backend:   backend,
		clock:     cfg.Clock,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}

	_, err = s.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(sch.sweep),
		gocron.WithName(JobRetention),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", JobRetention, err)
	}

	if backend != nil {
		_, err = s.NewJob(
			gocron.DurationJob(cfg.ProbeInterval),
			gocron.NewTask(sch.probe),
			gocron.WithName(JobHealthCheck),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("registering %s: %w", JobHealthCheck, err)
		}
	}

	return sch, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info().Int("jobs", len(s.scheduler.Jobs())).Msg("scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if _, err := s.SweepNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("retention sweep failed")
	}
}

func (s *Scheduler) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ProbeNow(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("ai backend unreachable")
	}
}

// SweepNow deletes expired runs and their uploads, returning how many runs
// were removed.
func (s *Scheduler) SweepNow(ctx context.Context) (int, error) {
	return s.track(ctx, JobRetention, func(ctx context.Context) (int, error) {
		expired, err := s.store.ExpireRuns(ctx, s.clock.Now())
		if err != nil {
			return 0, fmt.Errorf("expiring runs: %w", err)
		}
		for _, e := range expired {
			if err := s.uploads.Remove(e.UploadPath); err != nil {
				s.logger.Warn().Err(err).Str("run_id", e.RunID).Msg("could not remove upload")
			}
		}
		if len(expired) > 0 {
			s.logger.Info().Int("runs", len(expired)).Msg("expired runs removed")
		}
		return len(expired), nil
	})
}

// ProbeNow checks the AI backend and records the result for Health.
func (s *Scheduler) ProbeNow(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	_, err := s.track(ctx, JobHealthCheck, func(ctx context.Context) (int, error) {
		err := s.backend.HealthCheck(ctx)

		s.mu.Lock()
		s.healthErr = err
		s.checkedAt = s.clock.Now()
		s.mu.Unlock()
		return 0, err
	})
	return err
}

// Health returns the last probe result. A zero time means no probe has run.
func (s *Scheduler) Health() (checkedAt time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkedAt, s.healthErr
}

// track records a job execution in scheduler_runs.
func (s *Scheduler) track(ctx context.Context, job string, fn func(context.Context) (int, error)) (int, error) {
	id, logErr := s.store.LogJob(ctx, job, s.clock.Now())
	if logErr != nil {
		s.logger.Warn().Err(logErr).Str("job", job).Msg("could not log job start")
	}

	n, err := fn(ctx)

	if logErr == nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if cerr := s.store.CompleteJob(ctx, id, msg, s.clock.Now()); cerr != nil {
			s.logger.Warn().Err(cerr).Str("job", job).Msg("could not log job completion")
		}
	}
	return n, err
}
