// Package syncstate declares the persistent sync bookkeeping model: runs,
// per-force statuses, and service-level metadata. State lives in Postgres so
// a crashed or redeployed instance can resume where the previous one
// stopped.
package syncstate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("sync record not found")

// ErrRunAlreadyActive means another live run holds the sync lock. A Running
// run with a fresh heartbeat is live; one with a stale heartbeat belongs to
// a dead instance and must be failed over first.
var ErrRunAlreadyActive = errors.New("a sync run is already active")

// RunStatus mirrors the sync_runs status column.
type RunStatus string

// Run statuses. Idle is never persisted; it is what the status API reports
// when no run exists yet.
const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunScope distinguishes a full sweep from a recovery pass over the forces
// the previous run left unfinished.
type RunScope string

// Run scopes persisted in sync_runs.scope.
const (
	ScopeFull     RunScope = "full"
	ScopeRecovery RunScope = "recovery"
)

// ForceStatus mirrors the force_sync_status status column.
type ForceStatus string

// Per-force statuses within a run.
const (
	ForcePending    ForceStatus = "pending"
	ForceInProgress ForceStatus = "in_progress"
	ForceSucceeded  ForceStatus = "succeeded"
	ForceFailed     ForceStatus = "failed"
)

// SyncRun models one row of sync_runs. A Running row doubles as the sync
// lock; HeartbeatAt is refreshed while the run makes progress so a stale
// value identifies a crashed holder.
type SyncRun struct {
	ID              uuid.UUID
	Scope           RunScope
	Status          RunStatus
	StartedAt       time.Time
	HeartbeatAt     time.Time
	FinishedAt      *time.Time
	ForcesTotal     int
	ForcesSucceeded int
	ForcesFailed    int
	// Neighbourhood-level aggregates across all forces of the run. Total
	// counts the neighbourhoods discovered; Synced + Failed + NoBoundary
	// sums to it for a run that reached every force.
	NeighbourhoodsTotal      int
	NeighbourhoodsSynced     int
	NeighbourhoodsFailed     int
	NeighbourhoodsNoBoundary int
	ErrorMessage             *string
}

// ForceSyncStatus models one row of force_sync_status: the outcome of one
// force within one run.
type ForceSyncStatus struct {
	RunID        uuid.UUID
	ForceID      string
	Status       ForceStatus
	Synced       int
	Failed       int
	NoBoundary   int
	UpdatedAt    time.Time
	ErrorMessage *string
}

// Metadata is the single-row service summary consulted at startup to decide
// whether and how to sync.
type Metadata struct {
	LastSyncedAt  *time.Time
	LastRunID     *uuid.UUID
	LastRunStatus RunStatus
	BoundaryCount int64
	UpdatedAt     time.Time
}

// Repository persists sync runs, per-force progress, and metadata.
type Repository interface {
	// BeginRun inserts a Running run, taking the sync lock. Returns
	// ErrRunAlreadyActive if a Running run already exists.
	BeginRun(ctx context.Context, run SyncRun) error
	// Heartbeat refreshes the lock holder's liveness timestamp.
	Heartbeat(ctx context.Context, runID uuid.UUID, at time.Time) error
	// FinalizeRun marks the run terminal with its aggregate counts.
	FinalizeRun(ctx context.Context, run SyncRun) error
	// FailStaleRuns fails over Running runs whose heartbeat predates the
	// cutoff and returns how many were failed.
	FailStaleRuns(ctx context.Context, heartbeatBefore time.Time) (int64, error)
	// LatestRun returns the most recently started run or ErrNotFound.
	LatestRun(ctx context.Context) (SyncRun, error)

	// UpsertForceStatus inserts or replaces one force's status within a run.
	UpsertForceStatus(ctx context.Context, fs ForceSyncStatus) error
	// ForceStatuses lists all per-force statuses of a run.
	ForceStatuses(ctx context.Context, runID uuid.UUID) ([]ForceSyncStatus, error)
	// ForcesNeedingRecovery lists force IDs of a run that did not succeed,
	// in the order they were first recorded.
	ForcesNeedingRecovery(ctx context.Context, runID uuid.UUID) ([]string, error)

	// Metadata loads the service summary or ErrNotFound before first sync.
	Metadata(ctx context.Context) (Metadata, error)
	// SetMetadata replaces the service summary.
	SetMetadata(ctx context.Context, m Metadata) error
}
