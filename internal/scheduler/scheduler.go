// Package scheduler decides when sync runs happen: the startup decision, a
// weekly cadence, and rate-limited manual triggers. It owns a single
// background goroutine; all run execution is delegated to the orchestrator,
// whose persistent run lock rejects overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfleming85/beatcal/internal/boundaries"
	"github.com/mfleming85/beatcal/internal/notify"
	"github.com/mfleming85/beatcal/internal/police"
	"github.com/mfleming85/beatcal/internal/progress"
	"github.com/mfleming85/beatcal/internal/syncer"
	"github.com/mfleming85/beatcal/internal/syncstate"
)

// ErrRateLimited means a manual trigger arrived before the minimum gap
// since the previous one elapsed.
var ErrRateLimited = errors.New("manual sync rate limited")

// Runner executes sync runs. Satisfied by *syncer.Orchestrator.
type Runner interface {
	Run(ctx context.Context, scope syncer.Scope) (syncstate.SyncRun, error)
}

// Config holds scheduling policy.
type Config struct {
	// Interval between scheduled full syncs. Default one week.
	Interval time.Duration
	// ManualMinGap is the minimum spacing between manual triggers.
	// Default one hour.
	ManualMinGap time.Duration
	// StaleLockAge mirrors the orchestrator's failover threshold; used to
	// recognize a crashed run at startup.
	StaleLockAge time.Duration
	// Thresholds tune the startup decision.
	Thresholds syncer.Thresholds
}

// Scheduler triggers sync runs.
type Scheduler struct {
	cfg      Config
	runner   Runner
	state    syncstate.Repository
	bounds   boundaries.Repository
	tracker  *progress.Tracker
	notifier notify.Provider
	clock    police.Clock
	logger   *zap.Logger

	mu         sync.Mutex
	lastManual time.Time
	baseCtx    context.Context
}

// New builds a Scheduler.
func New(
	cfg Config,
	runner Runner,
	state syncstate.Repository,
	bounds boundaries.Repository,
	tracker *progress.Tracker,
	notifier notify.Provider,
	clock police.Clock,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 7 * 24 * time.Hour
	}
	if cfg.ManualMinGap <= 0 {
		cfg.ManualMinGap = time.Hour
	}
	if cfg.StaleLockAge <= 0 {
		cfg.StaleLockAge = 2 * time.Hour
	}
	if cfg.Thresholds == (syncer.Thresholds{}) {
		cfg.Thresholds = syncer.DefaultThresholds()
	}
	if notifier == nil {
		notifier = notify.NoOp{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		state:    state,
		bounds:   bounds,
		tracker:  tracker,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		baseCtx:  context.Background(),
	}
}

// Start applies the startup decision, then ticks on the configured
// interval. It blocks until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	decision, err := s.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("startup decision: %w", err)
	}
	s.logger.Info("startup decision",
		zap.String("action", string(decision.Action)),
		zap.Duration("delay", decision.Delay),
		zap.String("reason", decision.Reason),
	)

	if decision.Action != syncer.ActionNone {
		select {
		case <-time.After(decision.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		scope := syncer.FullScope()
		if decision.Action == syncer.ActionRecoverySync {
			scope = syncer.RecoveryScope(decision.RecoverRunID)
		}
		s.runAndNotify(ctx, scope, "startup")
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runAndNotify(ctx, syncer.FullScope(), "scheduled")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Evaluate computes the startup decision from persisted state.
func (s *Scheduler) Evaluate(ctx context.Context) (syncer.Decision, error) {
	count, err := s.bounds.Count(ctx)
	if err != nil {
		return syncer.Decision{}, fmt.Errorf("count boundaries: %w", err)
	}

	in := syncer.DecisionInput{BoundaryCount: count, Now: s.clock.Now()}

	meta, err := s.state.Metadata(ctx)
	switch {
	case err == nil:
		in.Metadata = &meta
	case errors.Is(err, syncstate.ErrNotFound):
	default:
		return syncer.Decision{}, fmt.Errorf("load metadata: %w", err)
	}

	latest, err := s.state.LatestRun(ctx)
	switch {
	case err == nil:
		in.LatestRun = &latest
		if latest.Status == syncstate.RunRunning &&
			latest.HeartbeatAt.Before(in.Now.Add(-s.cfg.StaleLockAge)) {
			in.StaleLock = &latest
		}
	case errors.Is(err, syncstate.ErrNotFound):
	default:
		return syncer.Decision{}, fmt.Errorf("load latest run: %w", err)
	}

	return syncer.Decide(in, s.cfg.Thresholds), nil
}

// TriggerManual requests an immediate full sync. The trigger is rejected
// with ErrRateLimited within the minimum gap of the previous accepted
// trigger, and with ErrRunAlreadyActive while a run is in flight. The run
// itself executes in the background.
func (s *Scheduler) TriggerManual(ctx context.Context) error {
	s.mu.Lock()
	now := s.clock.Now()
	if !s.lastManual.IsZero() && now.Sub(s.lastManual) < s.cfg.ManualMinGap {
		s.mu.Unlock()
		return ErrRateLimited
	}
	if s.tracker.Snapshot().Active {
		s.mu.Unlock()
		return syncstate.ErrRunAlreadyActive
	}
	s.lastManual = now
	base := s.baseCtx
	s.mu.Unlock()

	go s.runAndNotify(base, syncer.FullScope(), "manual")
	return nil
}

func (s *Scheduler) runAndNotify(ctx context.Context, scope syncer.Scope, trigger string) {
	run, err := s.runner.Run(ctx, scope)
	if err != nil {
		if errors.Is(err, syncstate.ErrRunAlreadyActive) {
			s.logger.Warn("sync skipped, another run active", zap.String("trigger", trigger))
			return
		}
		s.logger.Error("sync run error", zap.String("trigger", trigger), zap.Error(err))
	}
	if run.ID == (uuid.UUID{}) {
		return
	}

	summary := notify.RunSummary{
		RunID:           run.ID.String(),
		Scope:           string(run.Scope),
		Status:          string(run.Status),
		Trigger:         trigger,
		StartedAt:       run.StartedAt,
		ForcesTotal:     run.ForcesTotal,
		ForcesSucceeded: run.ForcesSucceeded,
		ForcesFailed:    run.ForcesFailed,
	}
	if run.FinishedAt != nil {
		summary.FinishedAt = *run.FinishedAt
	}
	if err := s.notifier.Publish(context.WithoutCancel(ctx), summary); err != nil {
		s.logger.Warn("publish run summary", zap.Error(err))
	}
}
