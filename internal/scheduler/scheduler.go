package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const warmupTimeout = 5 * time.Minute

// Warmer primes the balance cache for every active account.
type Warmer interface {
	Warmup(ctx context.Context) (int, error)
}

// Scheduler runs the periodic maintenance jobs.
type Scheduler struct {
	cron     *cron.Cron
	warmer   Warmer
	schedule string
	logger   *slog.Logger
}

// New builds a scheduler that warms the cache on schedule (standard cron
// syntax or descriptors such as "@every 10m").
func New(warmer Warmer, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		warmer:   warmer,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.WarmBalances); err != nil {
		return fmt.Errorf("schedule balance warmup %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled balance warmup", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop halts scheduling and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// WarmBalances is the cache warmup job.
func (s *Scheduler) WarmBalances() {
	ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
	defer cancel()

	started := time.Now()
	primed, err := s.warmer.Warmup(ctx)
	if err != nil {
		s.logger.Error("balance warmup failed", "primed", primed, "error", err)
		return
	}
	s.logger.Info("balance warmup finished", "primed", primed, "took", time.Since(started))
}
