package boundaries

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mfleming85/beatcal/internal/police"
)

func TestPolygonWKTClosesOpenRing(t *testing.T) {
	t.Parallel()

	open := police.Boundary{
		{Latitude: 52.0, Longitude: -1.0},
		{Latitude: 52.1, Longitude: -1.0},
		{Latitude: 52.1, Longitude: -1.1},
	}
	wkt, err := PolygonWKT(open)
	require.NoError(t, err)
	require.Equal(t, "POLYGON((-1 52, -1 52.1, -1.1 52.1, -1 52))", wkt)
}

func TestPolygonWKTKeepsClosedRing(t *testing.T) {
	t.Parallel()

	closed := police.Boundary{
		{Latitude: 52.0, Longitude: -1.0},
		{Latitude: 52.1, Longitude: -1.0},
		{Latitude: 52.1, Longitude: -1.1},
		{Latitude: 52.0, Longitude: -1.0},
	}
	wkt, err := PolygonWKT(closed)
	require.NoError(t, err)
	require.Equal(t, "POLYGON((-1 52, -1 52.1, -1.1 52.1, -1 52))", wkt)
}

func TestPolygonWKTRejectsDegeneratePolygon(t *testing.T) {
	t.Parallel()

	_, err := PolygonWKT(police.Boundary{{Latitude: 52, Longitude: -1}})
	require.ErrorContains(t, err, "at least 3 points")
}
