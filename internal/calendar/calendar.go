// Package calendar builds neighbourhood event feeds. Rendered documents are
// cached because upstream event lists change rarely and feed readers poll
// aggressively.
package calendar

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mfleming85/beatcal/internal/cache"
	"github.com/mfleming85/beatcal/internal/metrics"
	"github.com/mfleming85/beatcal/internal/police"
)

// Feed is the input to a Serializer: one neighbourhood's events.
type Feed struct {
	ForceID         string
	NeighbourhoodID string
	Events          []police.Event
}

// Serializer renders a Feed into a document.
type Serializer interface {
	Serialize(feed Feed) ([]byte, error)
	ContentType() string
}

// Service produces serialized feeds with caching.
type Service struct {
	client police.Client
	cache  *cache.Cache[[]byte]
	ser    Serializer
	logger *zap.Logger
}

// New builds a Service.
func New(client police.Client, feedCache *cache.Cache[[]byte], ser Serializer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, cache: feedCache, ser: ser, logger: logger}
}

// ContentType reports the serializer's MIME type.
func (s *Service) ContentType() string {
	return s.ser.ContentType()
}

// Feed returns the serialized feed for one neighbourhood, from cache when
// fresh.
func (s *Service) Feed(ctx context.Context, forceID, neighbourhoodID string) ([]byte, error) {
	key := forceID + ":" + neighbourhoodID
	if doc, ok := s.cache.Get(key); ok {
		metrics.ObserveCache("feeds", true)
		return doc, nil
	}
	metrics.ObserveCache("feeds", false)

	events, err := s.client.Events(ctx, forceID, neighbourhoodID)
	if err != nil {
		return nil, fmt.Errorf("fetch events %s: %w", key, err)
	}
	doc, err := s.ser.Serialize(Feed{ForceID: forceID, NeighbourhoodID: neighbourhoodID, Events: events})
	if err != nil {
		return nil, fmt.Errorf("serialize feed %s: %w", key, err)
	}

	s.cache.Put(key, doc)
	s.logger.Debug("feed rendered", zap.String("key", key), zap.Int("events", len(events)))
	return doc, nil
}
