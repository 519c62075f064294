package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mfleming85/beatcal/internal/syncstate"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestBeginRunTakesLock(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	run := syncstate.SyncRun{
		ID:          uuid.Must(uuid.NewV7()),
		Scope:       syncstate.ScopeFull,
		StartedAt:   now,
		HeartbeatAt: now,
		ForcesTotal: 44,
	}

	mock.ExpectExec("INSERT INTO sync_runs").
		WithArgs(run.ID, run.Scope, syncstate.RunRunning, now, now, 44, syncstate.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.BeginRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginRunRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	run := syncstate.SyncRun{ID: uuid.Must(uuid.NewV7()), Scope: syncstate.ScopeFull, StartedAt: now, HeartbeatAt: now}

	mock.ExpectExec("INSERT INTO sync_runs").
		WithArgs(run.ID, run.Scope, syncstate.RunRunning, now, now, 0, syncstate.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.BeginRun(context.Background(), run)
	require.ErrorIs(t, err, syncstate.ErrRunAlreadyActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStaleRuns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := time.Unix(1700000000, 0).UTC().Add(-2 * time.Hour)

	mock.ExpectExec("UPDATE sync_runs").
		WithArgs(syncstate.RunFailed, syncstate.RunRunning, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := store.FailStaleRuns(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRunNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM sync_runs").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.LatestRun(context.Background())
	require.ErrorIs(t, err, syncstate.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRunScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	runID := uuid.Must(uuid.NewV7())
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(30 * time.Minute)

	rows := pgxmock.NewRows([]string{
		"id", "scope", "status", "started_at", "heartbeat_at", "finished_at",
		"forces_total", "forces_succeeded", "forces_failed",
		"total_neighbourhoods", "synced", "failed", "no_boundary", "error_message",
	}).AddRow(
		runID, syncstate.ScopeFull, syncstate.RunCompleted, started, finished, &finished,
		44, 44, 0, 4656, 4640, 0, 16, (*string)(nil),
	)
	mock.ExpectQuery("SELECT (.+) FROM sync_runs").WillReturnRows(rows)

	run, err := store.LatestRun(context.Background())
	require.NoError(t, err)
	require.Equal(t, runID, run.ID)
	require.Equal(t, syncstate.RunCompleted, run.Status)
	require.Equal(t, 44, run.ForcesSucceeded)
	require.Equal(t, 4656, run.NeighbourhoodsTotal)
	require.Equal(t, 4640, run.NeighbourhoodsSynced)
	require.Equal(t, 16, run.NeighbourhoodsNoBoundary)
	require.NotNil(t, run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeRunPersistsAggregates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	finished := time.Unix(1700000000, 0).UTC()
	run := syncstate.SyncRun{
		ID:                       uuid.Must(uuid.NewV7()),
		Scope:                    syncstate.ScopeFull,
		Status:                   syncstate.RunCompleted,
		FinishedAt:               &finished,
		ForcesTotal:              44,
		ForcesSucceeded:          44,
		NeighbourhoodsTotal:      4656,
		NeighbourhoodsSynced:     4640,
		NeighbourhoodsNoBoundary: 16,
	}

	mock.ExpectExec("UPDATE sync_runs").
		WithArgs(run.Status, run.FinishedAt, 44, 44, 0, 4656, 4640, 0, 16, (*string)(nil), run.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.FinalizeRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertForceStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	fs := syncstate.ForceSyncStatus{
		RunID:      uuid.Must(uuid.NewV7()),
		ForceID:    "leicestershire",
		Status:     syncstate.ForceSucceeded,
		Synced:     80,
		NoBoundary: 2,
		UpdatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO force_sync_status").
		WithArgs(fs.RunID, fs.ForceID, fs.Status, fs.Synced, fs.Failed, fs.NoBoundary, fs.UpdatedAt, fs.ErrorMessage).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertForceStatus(context.Background(), fs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForcesNeedingRecovery(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	runID := uuid.Must(uuid.NewV7())

	rows := pgxmock.NewRows([]string{"force_id"}).
		AddRow("kent").
		AddRow("met")
	mock.ExpectQuery("SELECT force_id").
		WithArgs(runID, syncstate.ForceSucceeded).
		WillReturnRows(rows)

	ids, err := store.ForcesNeedingRecovery(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, []string{"kent", "met"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	runID := uuid.Must(uuid.NewV7())
	m := syncstate.Metadata{
		LastSyncedAt:  &now,
		LastRunID:     &runID,
		LastRunStatus: syncstate.RunCompleted,
		BoundaryCount: 4656,
		UpdatedAt:     now,
	}

	mock.ExpectExec("INSERT INTO sync_metadata").
		WithArgs(m.LastSyncedAt, m.LastRunID, m.LastRunStatus, m.BoundaryCount, m.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.SetMetadata(context.Background(), m))

	rows := pgxmock.NewRows([]string{"last_synced_at", "last_run_id", "last_run_status", "boundary_count", "updated_at"}).
		AddRow(&now, &runID, syncstate.RunCompleted, int64(4656), now)
	mock.ExpectQuery("SELECT (.+) FROM sync_metadata").WillReturnRows(rows)

	got, err := store.Metadata(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4656), got.BoundaryCount)
	require.Equal(t, syncstate.RunCompleted, got.LastRunStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM sync_metadata").WillReturnError(pgx.ErrNoRows)

	_, err := store.Metadata(context.Background())
	require.ErrorIs(t, err, syncstate.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
