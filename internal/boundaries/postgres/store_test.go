package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mfleming85/beatcal/internal/boundaries"
	"github.com/mfleming85/beatcal/internal/police"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestUpsertClosesRingAndInserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	n := boundaries.Neighbourhood{ForceID: "leicestershire", NeighbourhoodID: "NC04", Name: "City Centre"}
	boundary := police.Boundary{
		{Latitude: 52.0, Longitude: -1.0},
		{Latitude: 52.1, Longitude: -1.0},
		{Latitude: 52.1, Longitude: -1.1},
	}

	mock.ExpectExec("INSERT INTO neighbourhood_boundaries").
		WithArgs("leicestershire", "NC04", "City Centre", "POLYGON((-1 52, -1 52.1, -1.1 52.1, -1 52))").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), n, boundary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsDegenerateBoundary(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	n := boundaries.Neighbourhood{ForceID: "met", NeighbourhoodID: "X"}
	err := store.Upsert(context.Background(), n, police.Boundary{{Latitude: 52, Longitude: -1}})
	require.ErrorContains(t, err, "at least 3 points")
}

func TestFindByPointHit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"force_id", "neighbourhood_id", "name"}).
		AddRow("leicestershire", "NC04", "City Centre")
	mock.ExpectQuery("SELECT force_id, neighbourhood_id, name").
		WithArgs(-1.1333, 52.6333).
		WillReturnRows(rows)

	n, err := store.FindByPoint(context.Background(), 52.6333, -1.1333)
	require.NoError(t, err)
	require.Equal(t, "leicestershire", n.ForceID)
	require.Equal(t, "NC04", n.NeighbourhoodID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByPointMiss(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT force_id, neighbourhood_id, name").
		WithArgs(2.3522, 48.8566).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindByPoint(context.Background(), 48.8566, 2.3522)
	require.ErrorIs(t, err, boundaries.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransformBNG(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"st_y", "st_x"}).AddRow(52.6333, -1.1333)
	mock.ExpectQuery("SELECT ST_Y").
		WithArgs(458123.0, 304567.0).
		WillReturnRows(rows)

	lat, lon, err := store.TransformBNG(context.Background(), police.Coordinates{Easting: 458123.0, Northing: 304567.0})
	require.NoError(t, err)
	require.InDelta(t, 52.6333, lat, 1e-9)
	require.InDelta(t, -1.1333, lon, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT count").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4656)))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 4656, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorageSize(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT pg_total_relation_size").
		WillReturnRows(pgxmock.NewRows([]string{"pg_total_relation_size"}).AddRow(int64(52428800)))

	size, err := store.StorageSize(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 52428800, size)
	require.NoError(t, mock.ExpectationsWereMet())
}
