// Package boundaries declares the geospatial persistence interface for
// neighbourhood boundary polygons and point-in-polygon lookups.
package boundaries

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mfleming85/beatcal/internal/police"
)

// ErrNotFound signals that no stored boundary contains the queried point.
var ErrNotFound = errors.New("no boundary contains this point")

// Neighbourhood is a stored boundary's identity, returned by point lookups.
type Neighbourhood struct {
	ForceID         string `json:"force_id"`
	NeighbourhoodID string `json:"neighbourhood_id"`
	Name            string `json:"name"`
}

// Repository persists boundary polygons and answers spatial queries.
type Repository interface {
	// Upsert stores or replaces one neighbourhood's boundary polygon.
	Upsert(ctx context.Context, n Neighbourhood, boundary police.Boundary) error
	// FindByPoint returns the neighbourhood whose polygon contains the WGS84
	// point, or ErrNotFound.
	FindByPoint(ctx context.Context, latitude, longitude float64) (Neighbourhood, error)
	// TransformBNG converts British National Grid coordinates to WGS84.
	TransformBNG(ctx context.Context, c police.Coordinates) (latitude, longitude float64, err error)
	// Count returns the number of stored boundaries.
	Count(ctx context.Context) (int64, error)
	// StorageSize returns the on-disk size of the boundary dataset in bytes.
	StorageSize(ctx context.Context) (int64, error)
}

// PolygonWKT renders a boundary as a well-known-text POLYGON in
// longitude/latitude axis order, closing the ring if the upstream left it
// open.
func PolygonWKT(boundary police.Boundary) (string, error) {
	if len(boundary) < 3 {
		return "", fmt.Errorf("polygon needs at least 3 points, got %d", len(boundary))
	}
	ring := boundary
	if boundary[0] != boundary[len(boundary)-1] {
		ring = append(append(police.Boundary{}, boundary...), boundary[0])
	}

	var b strings.Builder
	b.WriteString("POLYGON((")
	for i, p := range ring {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(p.Longitude, 'f', -1, 64))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(p.Latitude, 'f', -1, 64))
	}
	b.WriteString("))")
	return b.String(), nil
}
