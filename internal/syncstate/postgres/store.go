// Package postgres provides the Postgres-backed syncstate repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mfleming85/beatcal/internal/syncstate"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements syncstate.Repository on Postgres.
type Store struct {
	pool querier
}

// New creates a Store with its own connection pool.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool querier) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// BeginRun takes the sync lock by inserting a Running run. The guarded
// insert keeps check-and-take atomic so two instances racing at startup
// cannot both win.
func (s *Store) BeginRun(ctx context.Context, run syncstate.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, scope, status, started_at, heartbeat_at, forces_total)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM sync_runs WHERE status = $7
		);
	`
	res, err := s.pool.Exec(ctx, query,
		run.ID, run.Scope, syncstate.RunRunning, run.StartedAt, run.HeartbeatAt, run.ForcesTotal,
		syncstate.RunRunning,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return syncstate.ErrRunAlreadyActive
	}
	return nil
}

// Heartbeat refreshes the run's liveness timestamp.
func (s *Store) Heartbeat(ctx context.Context, runID uuid.UUID, at time.Time) error {
	query := `UPDATE sync_runs SET heartbeat_at = $1 WHERE id = $2 AND status = $3;`
	_, err := s.pool.Exec(ctx, query, at, runID, syncstate.RunRunning)
	if err != nil {
		return fmt.Errorf("heartbeat run %s: %w", runID, err)
	}
	return nil
}

// FinalizeRun marks the run terminal with its aggregate counts.
func (s *Store) FinalizeRun(ctx context.Context, run syncstate.SyncRun) error {
	query := `
		UPDATE sync_runs
		SET status = $1, finished_at = $2, forces_total = $3,
			forces_succeeded = $4, forces_failed = $5,
			total_neighbourhoods = $6, synced = $7, failed = $8,
			no_boundary = $9, error_message = $10
		WHERE id = $11;
	`
	_, err := s.pool.Exec(ctx, query,
		run.Status, run.FinishedAt, run.ForcesTotal,
		run.ForcesSucceeded, run.ForcesFailed,
		run.NeighbourhoodsTotal, run.NeighbourhoodsSynced, run.NeighbourhoodsFailed,
		run.NeighbourhoodsNoBoundary, run.ErrorMessage,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	return nil
}

// FailStaleRuns fails over Running runs whose heartbeat predates the cutoff.
func (s *Store) FailStaleRuns(ctx context.Context, heartbeatBefore time.Time) (int64, error) {
	query := `
		UPDATE sync_runs
		SET status = $1, finished_at = now(), error_message = 'stale heartbeat, holder presumed dead'
		WHERE status = $2 AND heartbeat_at < $3;
	`
	res, err := s.pool.Exec(ctx, query, syncstate.RunFailed, syncstate.RunRunning, heartbeatBefore)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	return res.RowsAffected(), nil
}

const runColumns = `id, scope, status, started_at, heartbeat_at, finished_at,
	forces_total, forces_succeeded, forces_failed,
	total_neighbourhoods, synced, failed, no_boundary, error_message`

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (syncstate.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC LIMIT 1;`
	var run syncstate.SyncRun
	err := s.pool.QueryRow(ctx, query).Scan(
		&run.ID, &run.Scope, &run.Status, &run.StartedAt, &run.HeartbeatAt, &run.FinishedAt,
		&run.ForcesTotal, &run.ForcesSucceeded, &run.ForcesFailed,
		&run.NeighbourhoodsTotal, &run.NeighbourhoodsSynced, &run.NeighbourhoodsFailed,
		&run.NeighbourhoodsNoBoundary, &run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return syncstate.SyncRun{}, syncstate.ErrNotFound
		}
		return syncstate.SyncRun{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// UpsertForceStatus inserts or replaces one force's status within a run.
func (s *Store) UpsertForceStatus(ctx context.Context, fs syncstate.ForceSyncStatus) error {
	query := `
		INSERT INTO force_sync_status
			(run_id, force_id, status, synced, failed, no_boundary, updated_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, force_id) DO UPDATE
		SET status = EXCLUDED.status,
			synced = EXCLUDED.synced,
			failed = EXCLUDED.failed,
			no_boundary = EXCLUDED.no_boundary,
			updated_at = EXCLUDED.updated_at,
			error_message = EXCLUDED.error_message;
	`
	_, err := s.pool.Exec(ctx, query,
		fs.RunID, fs.ForceID, fs.Status, fs.Synced, fs.Failed, fs.NoBoundary, fs.UpdatedAt, fs.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("upsert force status %s/%s: %w", fs.RunID, fs.ForceID, err)
	}
	return nil
}

// ForceStatuses lists all per-force statuses of a run.
func (s *Store) ForceStatuses(ctx context.Context, runID uuid.UUID) ([]syncstate.ForceSyncStatus, error) {
	query := `
		SELECT run_id, force_id, status, synced, failed, no_boundary, updated_at, error_message
		FROM force_sync_status
		WHERE run_id = $1
		ORDER BY force_id;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list force statuses: %w", err)
	}
	defer rows.Close()

	var statuses []syncstate.ForceSyncStatus
	for rows.Next() {
		var fs syncstate.ForceSyncStatus
		err := rows.Scan(
			&fs.RunID, &fs.ForceID, &fs.Status, &fs.Synced, &fs.Failed,
			&fs.NoBoundary, &fs.UpdatedAt, &fs.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan force status row: %w", err)
		}
		statuses = append(statuses, fs)
	}
	return statuses, rows.Err()
}

// ForcesNeedingRecovery lists force IDs of a run that did not succeed.
func (s *Store) ForcesNeedingRecovery(ctx context.Context, runID uuid.UUID) ([]string, error) {
	query := `
		SELECT force_id
		FROM force_sync_status
		WHERE run_id = $1 AND status <> $2
		ORDER BY updated_at;
	`
	rows, err := s.pool.Query(ctx, query, runID, syncstate.ForceSucceeded)
	if err != nil {
		return nil, fmt.Errorf("list forces needing recovery: %w", err)
	}
	defer rows.Close()

	var forceIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan force id: %w", err)
		}
		forceIDs = append(forceIDs, id)
	}
	return forceIDs, rows.Err()
}

// Metadata loads the single-row service summary.
func (s *Store) Metadata(ctx context.Context) (syncstate.Metadata, error) {
	query := `
		SELECT last_synced_at, last_run_id, last_run_status, boundary_count, updated_at
		FROM sync_metadata
		WHERE id = TRUE;
	`
	var m syncstate.Metadata
	err := s.pool.QueryRow(ctx, query).Scan(
		&m.LastSyncedAt, &m.LastRunID, &m.LastRunStatus, &m.BoundaryCount, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return syncstate.Metadata{}, syncstate.ErrNotFound
		}
		return syncstate.Metadata{}, fmt.Errorf("load metadata: %w", err)
	}
	return m, nil
}

// SetMetadata replaces the service summary. The table holds one row keyed by
// a constant so the upsert cannot grow it.
func (s *Store) SetMetadata(ctx context.Context, m syncstate.Metadata) error {
	query := `
		INSERT INTO sync_metadata (id, last_synced_at, last_run_id, last_run_status, boundary_count, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET last_synced_at = EXCLUDED.last_synced_at,
			last_run_id = EXCLUDED.last_run_id,
			last_run_status = EXCLUDED.last_run_status,
			boundary_count = EXCLUDED.boundary_count,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.pool.Exec(ctx, query,
		m.LastSyncedAt, m.LastRunID, m.LastRunStatus, m.BoundaryCount, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}
