// Package syncer drives sync runs: it takes the persistent run lock,
// sweeps forces and their neighbourhood boundaries through the upstream
// client into the spatial store, and finalizes the run with its outcome.
// Per-neighbourhood failures are recorded and skipped; only state store
// failures abort a run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfleming85/beatcal/internal/boundaries"
	"github.com/mfleming85/beatcal/internal/metrics"
	"github.com/mfleming85/beatcal/internal/police"
	"github.com/mfleming85/beatcal/internal/progress"
	"github.com/mfleming85/beatcal/internal/syncstate"
)

// Scope selects which forces a run processes.
type Scope struct {
	Kind syncstate.RunScope
	// RecoverRunID is consulted for recovery runs: the forces that did not
	// succeed in that run are re-processed.
	RecoverRunID uuid.UUID
}

// FullScope processes every force.
func FullScope() Scope {
	return Scope{Kind: syncstate.ScopeFull}
}

// RecoveryScope re-processes the unfinished forces of a previous run.
func RecoveryScope(runID uuid.UUID) Scope {
	return Scope{Kind: syncstate.ScopeRecovery, RecoverRunID: runID}
}

// Config holds orchestrator tuning.
type Config struct {
	// Concurrency bounds parallel neighbourhood fetches within a force.
	Concurrency int
	// StaleLockAge is how old a Running run's heartbeat may be before the
	// run is failed over at startup.
	StaleLockAge time.Duration
	// MinSuccessRate, in percent of forces, below which a run with failures
	// is finalized Failed. Zero means any force failure fails the run.
	MinSuccessRate float64
}

// Orchestrator runs syncs.
type Orchestrator struct {
	cfg        Config
	client     police.Client
	state      syncstate.Repository
	boundaries boundaries.Repository
	tracker    *progress.Tracker
	clock      police.Clock
	logger     *zap.Logger
}

// New builds an Orchestrator.
func New(
	cfg Config,
	client police.Client,
	state syncstate.Repository,
	store boundaries.Repository,
	tracker *progress.Tracker,
	clock police.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.StaleLockAge <= 0 {
		cfg.StaleLockAge = 2 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		client:     client,
		state:      state,
		boundaries: store,
		tracker:    tracker,
		clock:      clock,
		logger:     logger,
	}
}

type forceOutcome struct {
	total      int
	synced     int
	failed     int
	noBoundary int
	errSummary *string
	succeeded  bool
}

// Run executes one sync run and returns its finalized record. It fails over
// any stale lock first, so a crashed holder never blocks a new run forever.
// ErrRunAlreadyActive is returned when a live run holds the lock.
func (o *Orchestrator) Run(ctx context.Context, scope Scope) (syncstate.SyncRun, error) {
	now := o.clock.Now()
	if n, err := o.state.FailStaleRuns(ctx, now.Add(-o.cfg.StaleLockAge)); err != nil {
		return syncstate.SyncRun{}, fmt.Errorf("fail over stale runs: %w", err)
	} else if n > 0 {
		o.logger.Warn("failed over stale sync runs", zap.Int64("count", n))
	}

	scope, forceIDs, err := o.targetForces(ctx, scope)
	if err != nil {
		return syncstate.SyncRun{}, err
	}

	run := syncstate.SyncRun{
		ID:          uuid.Must(uuid.NewV7()),
		Scope:       scope.Kind,
		Status:      syncstate.RunRunning,
		StartedAt:   now,
		HeartbeatAt: now,
		ForcesTotal: len(forceIDs),
	}
	if err := o.state.BeginRun(ctx, run); err != nil {
		return syncstate.SyncRun{}, err
	}

	o.logger.Info("sync run started",
		zap.String("run_id", run.ID.String()),
		zap.String("scope", string(scope.Kind)),
		zap.Int("forces", len(forceIDs)),
	)
	o.tracker.StartRun(run.ID, string(scope.Kind), len(forceIDs), now)
	metrics.SetRunInProgress(true)
	metrics.SetForcesRemaining(len(forceIDs))
	defer metrics.SetRunInProgress(false)

	var infraErr error
	for i, forceID := range forceIDs {
		if ctx.Err() != nil {
			break
		}
		outcome, err := o.syncForce(ctx, run.ID, forceID)
		if err != nil {
			infraErr = err
			break
		}
		if outcome.succeeded {
			run.ForcesSucceeded++
		} else {
			run.ForcesFailed++
		}
		run.NeighbourhoodsTotal += outcome.total
		run.NeighbourhoodsSynced += outcome.synced
		run.NeighbourhoodsFailed += outcome.failed
		run.NeighbourhoodsNoBoundary += outcome.noBoundary
		o.tracker.ForceDone()
		if err := o.state.Heartbeat(ctx, run.ID, o.clock.Now()); err != nil {
			infraErr = fmt.Errorf("heartbeat: %w", err)
			break
		}
		metrics.SetForcesRemaining(len(forceIDs) - i - 1)
	}
	// Cancellation anywhere, including during the last force, fails the run
	// so a partial sweep is never recorded as completed.
	if infraErr == nil && ctx.Err() != nil {
		infraErr = fmt.Errorf("run canceled: %w", context.Cause(ctx))
	}

	return o.finalize(ctx, run, infraErr)
}

// targetForces resolves the run's force list. A recovery run whose prior run
// recorded no per-force rows (it died before writing any) widens to a full
// sync rather than sweeping zero forces and reporting a vacuous success.
func (o *Orchestrator) targetForces(ctx context.Context, scope Scope) (Scope, []string, error) {
	if scope.Kind == syncstate.ScopeRecovery {
		ids, err := o.state.ForcesNeedingRecovery(ctx, scope.RecoverRunID)
		if err != nil {
			return scope, nil, fmt.Errorf("list forces needing recovery: %w", err)
		}
		if len(ids) > 0 {
			return scope, ids, nil
		}
		o.logger.Warn("no forces recorded for recovery, widening to full sync",
			zap.String("recover_run_id", scope.RecoverRunID.String()))
		scope = FullScope()
	}
	forces, err := o.client.Forces(ctx)
	if err != nil {
		return scope, nil, fmt.Errorf("enumerate forces: %w", err)
	}
	ids := make([]string, len(forces))
	for i, f := range forces {
		ids[i] = f.ID
	}
	return scope, ids, nil
}

// syncForce processes one force. The outcome reports its counts and whether
// it succeeded; a returned error is an infrastructure failure that must
// abort the run.
func (o *Orchestrator) syncForce(ctx context.Context, runID uuid.UUID, forceID string) (forceOutcome, error) {
	o.tracker.SetCurrentForce(forceID)
	if err := o.state.UpsertForceStatus(ctx, syncstate.ForceSyncStatus{
		RunID:     runID,
		ForceID:   forceID,
		Status:    syncstate.ForceInProgress,
		UpdatedAt: o.clock.Now(),
	}); err != nil {
		return forceOutcome{}, fmt.Errorf("mark force %s in progress: %w", forceID, err)
	}

	outcome := forceOutcome{}
	hoods, err := o.client.Neighbourhoods(ctx, forceID)
	if err != nil {
		// An unreachable force is a force-level failure, not a run abort.
		summary := fmt.Sprintf("list neighbourhoods: %v", err)
		outcome.errSummary = &summary
		o.observeFetchFailure(err)
	} else {
		outcome = o.syncNeighbourhoods(ctx, forceID, hoods)
	}

	status := syncstate.ForceSucceeded
	if outcome.failed > 0 || outcome.errSummary != nil {
		status = syncstate.ForceFailed
	}
	outcome.succeeded = status == syncstate.ForceSucceeded
	if err := o.state.UpsertForceStatus(ctx, syncstate.ForceSyncStatus{
		RunID:        runID,
		ForceID:      forceID,
		Status:       status,
		Synced:       outcome.synced,
		Failed:       outcome.failed,
		NoBoundary:   outcome.noBoundary,
		UpdatedAt:    o.clock.Now(),
		ErrorMessage: outcome.errSummary,
	}); err != nil {
		return forceOutcome{}, fmt.Errorf("record force %s outcome: %w", forceID, err)
	}

	o.logger.Info("force synced",
		zap.String("force", forceID),
		zap.String("status", string(status)),
		zap.Int("synced", outcome.synced),
		zap.Int("failed", outcome.failed),
		zap.Int("no_boundary", outcome.noBoundary),
	)
	return outcome, nil
}

// syncNeighbourhoods fetches and stores boundaries with bounded
// parallelism. Fetch failures are counted and skipped; a store write
// failure poisons the whole force as an error summary so the run-level
// abort decision stays with the caller's next state write.
func (o *Orchestrator) syncNeighbourhoods(ctx context.Context, forceID string, hoods []police.Neighbourhood) forceOutcome {
	var (
		mu      sync.Mutex
		outcome forceOutcome
		wg      sync.WaitGroup
	)
	outcome.total = len(hoods)
	sem := make(chan struct{}, o.cfg.Concurrency)

	launched := 0
	for _, hood := range hoods {
		if ctx.Err() != nil {
			break
		}
		launched++
		wg.Add(1)
		sem <- struct{}{}
		go func(hood police.Neighbourhood) {
			defer wg.Done()
			defer func() { <-sem }()

			boundary, ok, err := o.client.Boundary(ctx, forceID, hood.ID)
			if err != nil {
				o.observeFetchFailure(err)
				o.tracker.RecordFailed()
				mu.Lock()
				outcome.failed++
				if outcome.errSummary == nil {
					summary := fmt.Sprintf("%s: %v", hood.ID, err)
					outcome.errSummary = &summary
				}
				mu.Unlock()
				return
			}
			if !ok {
				metrics.ObserveBoundary("no_boundary")
				o.tracker.RecordNoBoundary()
				mu.Lock()
				outcome.noBoundary++
				mu.Unlock()
				return
			}

			n := boundaries.Neighbourhood{ForceID: forceID, NeighbourhoodID: hood.ID, Name: hood.Name}
			if err := o.boundaries.Upsert(ctx, n, boundary); err != nil {
				o.logger.Error("store boundary", zap.String("force", forceID), zap.String("neighbourhood", hood.ID), zap.Error(err))
				o.tracker.RecordFailed()
				mu.Lock()
				outcome.failed++
				if outcome.errSummary == nil {
					summary := fmt.Sprintf("%s: store: %v", hood.ID, err)
					outcome.errSummary = &summary
				}
				mu.Unlock()
				return
			}
			metrics.ObserveBoundary("synced")
			o.tracker.RecordSynced()
			mu.Lock()
			outcome.synced++
			mu.Unlock()
		}(hood)
	}
	wg.Wait()

	// Neighbourhoods never fetched because the run was canceled count as
	// failed so the force is not recorded Succeeded and recovery picks it up.
	if skipped := len(hoods) - launched; skipped > 0 {
		for i := 0; i < skipped; i++ {
			o.tracker.RecordFailed()
		}
		outcome.failed += skipped
		if outcome.errSummary == nil {
			summary := fmt.Sprintf("canceled before %d of %d neighbourhoods were fetched", skipped, len(hoods))
			outcome.errSummary = &summary
		}
	}
	return outcome
}

// finalize writes the terminal run record, archives the tracker state, and
// refreshes the service metadata. It runs even when the run is aborting so
// a run never stays Running.
func (o *Orchestrator) finalize(ctx context.Context, run syncstate.SyncRun, infraErr error) (syncstate.SyncRun, error) {
	finished := o.clock.Now()
	run.FinishedAt = &finished
	run.Status = o.terminalStatus(run, infraErr)
	if infraErr != nil {
		msg := infraErr.Error()
		run.ErrorMessage = &msg
	}

	// Finalizing must not be skipped on cancellation, so detach from the
	// caller's context.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := o.state.FinalizeRun(finalizeCtx, run); err != nil {
		o.logger.Error("finalize run", zap.String("run_id", run.ID.String()), zap.Error(err))
		if infraErr == nil {
			infraErr = fmt.Errorf("finalize run: %w", err)
		}
	}

	res := o.tracker.FinishRun(string(run.Status), finished)
	metrics.ObserveRun(string(run.Scope), string(run.Status))
	o.logger.Info("sync run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Duration("duration", res.Duration),
		zap.Int("synced", res.Synced),
		zap.Int("failed", res.Failed),
		zap.Int("no_boundary", res.NoBoundary),
	)

	processed := run.ForcesSucceeded + run.ForcesFailed
	if processed > 0 {
		o.updateMetadata(finalizeCtx, run, finished)
	}
	return run, infraErr
}

// terminalStatus maps a run's accounting to Completed or Failed. A run with
// force failures can still complete when the configured success-rate floor
// tolerates them.
func (o *Orchestrator) terminalStatus(run syncstate.SyncRun, infraErr error) syncstate.RunStatus {
	if infraErr != nil {
		return syncstate.RunFailed
	}
	if run.ForcesFailed == 0 {
		return syncstate.RunCompleted
	}
	if o.cfg.MinSuccessRate > 0 && run.ForcesTotal > 0 {
		rate := 100 * float64(run.ForcesSucceeded) / float64(run.ForcesTotal)
		if rate >= o.cfg.MinSuccessRate {
			return syncstate.RunCompleted
		}
	}
	return syncstate.RunFailed
}

// updateMetadata refreshes the startup staleness anchor. Any terminal run
// that processed at least one force counts: partial data still resets the
// staleness clock, and the run status records the severity.
func (o *Orchestrator) updateMetadata(ctx context.Context, run syncstate.SyncRun, finished time.Time) {
	count, err := o.boundaries.Count(ctx)
	if err != nil {
		o.logger.Error("count boundaries", zap.Error(err))
	}
	runID := run.ID
	if err := o.state.SetMetadata(ctx, syncstate.Metadata{
		LastSyncedAt:  &finished,
		LastRunID:     &runID,
		LastRunStatus: run.Status,
		BoundaryCount: count,
		UpdatedAt:     finished,
	}); err != nil {
		o.logger.Error("update sync metadata", zap.Error(err))
	}
}

func (o *Orchestrator) observeFetchFailure(err error) {
	var fe *police.FetchError
	if errors.As(err, &fe) {
		metrics.ObserveFetchFailure(string(fe.Class))
		return
	}
	metrics.ObserveFetchFailure("unknown")
}
