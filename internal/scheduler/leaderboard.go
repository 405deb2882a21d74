package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/progression"
	"go.uber.org/zap"
)

const leaderboardJobName = "leaderboard_refresh"

var errMissingRecomputer = errors.New("leaderboard refresher: recomputer required")

// Recomputer rebuilds the leaderboard snapshot.
type Recomputer interface {
	RecomputeLeaderboard(ctx context.Context) ([]progression.LeaderboardEntry, error)
}

type Config struct {
	Progress Recomputer
	// Interval between refreshes. Zero disables the job.
	Interval time.Duration
	Logger   *zap.Logger
}

// LeaderboardRefresher periodically recomputes the leaderboard in the
// background. Runs never overlap.
type LeaderboardRefresher struct {
	progress  Recomputer
	interval  time.Duration
	logger    *zap.Logger
	mu        sync.Mutex
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

func NewLeaderboardRefresher(cfg Config) (*LeaderboardRefresher, error) {
	if cfg.Progress == nil {
		return nil, errMissingRecomputer
	}
	if cfg.Interval < 0 {
		return nil, errors.New("leaderboard refresher: interval must not be negative")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaderboardRefresher{
		progress: cfg.Progress,
		interval: cfg.Interval,
		logger:   logger,
	}, nil
}

// Enabled reports whether Start schedules anything.
func (r *LeaderboardRefresher) Enabled() bool {
	return r.interval > 0
}

// Start schedules the refresh job, running it once immediately. Calling Start
// on a disabled or already running refresher does nothing.
func (r *LeaderboardRefresher) Start(ctx context.Context) error {
	if !r.Enabled() {
		r.logger.Info("leaderboard refresh disabled")
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		return nil
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	jobCtx, cancel := context.WithCancel(ctx)
	_, err = scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.RunOnce(jobCtx) }),
		gocron.WithName(leaderboardJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return err
	}
	scheduler.Start()

	r.scheduler = scheduler
	r.cancel = cancel
	r.logger.Info("leaderboard refresh scheduled", zap.Duration("interval", r.interval))
	return nil
}

// RunOnce recomputes the leaderboard and logs the outcome.
func (r *LeaderboardRefresher) RunOnce(ctx context.Context) {
	started := time.Now()
	entries, err := r.progress.RecomputeLeaderboard(ctx)
	if err != nil {
		r.logger.Warn("leaderboard refresh failed", zap.Error(err))
		return
	}
	r.logger.Debug("leaderboard refreshed",
		zap.Int("entries", len(entries)),
		zap.Duration("elapsed", time.Since(started)))
}

// Stop cancels any in-flight run and shuts the scheduler down.
func (r *LeaderboardRefresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler == nil {
		return nil
	}
	r.cancel()
	err := r.scheduler.Shutdown()
	r.scheduler = nil
	r.cancel = nil
	return err
}
