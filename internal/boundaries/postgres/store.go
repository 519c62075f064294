// Package postgres implements the boundaries repository on Postgres with
// PostGIS. Polygons are stored as geometry(Polygon, 4326); BNG conversion
// and containment checks run in the database, which already carries the
// EPSG:27700 transform parameters.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mfleming85/beatcal/internal/boundaries"
	"github.com/mfleming85/beatcal/internal/police"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements boundaries.Repository on Postgres/PostGIS.
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

// Upsert stores or replaces one neighbourhood's boundary polygon.
func (s *Store) Upsert(ctx context.Context, n boundaries.Neighbourhood, boundary police.Boundary) error {
	wkt, err := boundaries.PolygonWKT(boundary)
	if err != nil {
		return fmt.Errorf("upsert boundary %s/%s: %w", n.ForceID, n.NeighbourhoodID, err)
	}
	query := `
		INSERT INTO neighbourhood_boundaries (force_id, neighbourhood_id, name, boundary)
		VALUES ($1, $2, $3, ST_GeomFromText($4, 4326))
		ON CONFLICT (force_id, neighbourhood_id) DO UPDATE
		SET name = EXCLUDED.name, boundary = EXCLUDED.boundary;
	`
	_, err = s.pool.Exec(ctx, query, n.ForceID, n.NeighbourhoodID, n.Name, wkt)
	if err != nil {
		return fmt.Errorf("upsert boundary %s/%s: %w", n.ForceID, n.NeighbourhoodID, err)
	}
	return nil
}

// FindByPoint returns the neighbourhood whose polygon contains the point.
// Boundaries of adjacent forces can overlap slightly at the edges; the
// smallest containing polygon wins so the most local match is returned.
func (s *Store) FindByPoint(ctx context.Context, latitude, longitude float64) (boundaries.Neighbourhood, error) {
	query := `
		SELECT force_id, neighbourhood_id, name
		FROM neighbourhood_boundaries
		WHERE ST_Contains(boundary, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		ORDER BY ST_Area(boundary)
		LIMIT 1;
	`
	var n boundaries.Neighbourhood
	err := s.pool.QueryRow(ctx, query, longitude, latitude).Scan(&n.ForceID, &n.NeighbourhoodID, &n.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return boundaries.Neighbourhood{}, boundaries.ErrNotFound
		}
		return boundaries.Neighbourhood{}, fmt.Errorf("find by point: %w", err)
	}
	return n, nil
}

// TransformBNG converts British National Grid coordinates to WGS84.
func (s *Store) TransformBNG(ctx context.Context, c police.Coordinates) (float64, float64, error) {
	query := `
		SELECT ST_Y(p), ST_X(p)
		FROM ST_Transform(ST_SetSRID(ST_MakePoint($1, $2), 27700), 4326) AS p;
	`
	var lat, lon float64
	err := s.pool.QueryRow(ctx, query, c.Easting, c.Northing).Scan(&lat, &lon)
	if err != nil {
		return 0, 0, fmt.Errorf("transform bng (%f, %f): %w", c.Easting, c.Northing, err)
	}
	return lat, lon, nil
}

// Count returns the number of stored boundaries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM neighbourhood_boundaries;`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count boundaries: %w", err)
	}
	return count, nil
}

// StorageSize returns the on-disk size of the boundary table in bytes,
// indexes included.
func (s *Store) StorageSize(ctx context.Context) (int64, error) {
	var size int64
	err := s.pool.QueryRow(ctx, `SELECT pg_total_relation_size('neighbourhood_boundaries');`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("boundary storage size: %w", err)
	}
	return size, nil
}
