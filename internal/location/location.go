// Package location answers "which neighbourhood covers this postcode" by
// chaining the geocoder, the BNG to WGS84 transform, and the spatial store.
// Resolved postcodes are memoized; postcode centroids do not move.
package location

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mfleming85/beatcal/internal/boundaries"
	"github.com/mfleming85/beatcal/internal/cache"
	"github.com/mfleming85/beatcal/internal/geocode"
	"github.com/mfleming85/beatcal/internal/metrics"
	"github.com/mfleming85/beatcal/internal/police"
)

// ErrNotCovered means the postcode resolved to a point outside every stored
// boundary, or does not exist at all.
var ErrNotCovered = errors.New("postcode not covered by any neighbourhood")

// Service resolves postcodes to neighbourhoods.
type Service struct {
	geocoder police.Geocoder
	bounds   boundaries.Repository
	cache    *cache.Cache[boundaries.Neighbourhood]
	logger   *zap.Logger
}

// New builds a Service.
func New(geocoder police.Geocoder, bounds boundaries.Repository, memo *cache.Cache[boundaries.Neighbourhood], logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{geocoder: geocoder, bounds: bounds, cache: memo, logger: logger}
}

// FindByPostcode resolves a postcode to its policing neighbourhood.
func (s *Service) FindByPostcode(ctx context.Context, postcode string) (boundaries.Neighbourhood, error) {
	key := normalize(postcode)
	if key == "" {
		return boundaries.Neighbourhood{}, fmt.Errorf("%w: empty postcode", ErrNotCovered)
	}
	if n, ok := s.cache.Get(key); ok {
		metrics.ObserveCache("postcodes", true)
		metrics.ObserveLookup("found")
		return n, nil
	}
	metrics.ObserveCache("postcodes", false)

	coords, err := s.geocoder.FindPostcode(ctx, key)
	if err != nil {
		if errors.Is(err, geocode.ErrPostcodeNotFound) {
			metrics.ObserveLookup("not_covered")
			return boundaries.Neighbourhood{}, fmt.Errorf("%w: unknown postcode %q", ErrNotCovered, key)
		}
		metrics.ObserveLookup("error")
		return boundaries.Neighbourhood{}, err
	}

	lat, lon, err := s.bounds.TransformBNG(ctx, coords)
	if err != nil {
		metrics.ObserveLookup("error")
		return boundaries.Neighbourhood{}, err
	}

	n, err := s.bounds.FindByPoint(ctx, lat, lon)
	if err != nil {
		if errors.Is(err, boundaries.ErrNotFound) {
			metrics.ObserveLookup("not_covered")
			return boundaries.Neighbourhood{}, fmt.Errorf("%w: %q", ErrNotCovered, key)
		}
		metrics.ObserveLookup("error")
		return boundaries.Neighbourhood{}, err
	}

	s.cache.Put(key, n)
	metrics.ObserveLookup("found")
	s.logger.Debug("postcode resolved",
		zap.String("postcode", key),
		zap.String("force", n.ForceID),
		zap.String("neighbourhood", n.NeighbourhoodID),
	)
	return n, nil
}

// normalize upcases and collapses interior whitespace so "le1 6zg" and
// "LE1  6ZG" share a cache entry.
func normalize(postcode string) string {
	return strings.Join(strings.Fields(strings.ToUpper(postcode)), " ")
}
