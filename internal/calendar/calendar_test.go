package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mfleming85/beatcal/internal/cache"
	"github.com/mfleming85/beatcal/internal/metrics"
	"github.com/mfleming85/beatcal/internal/police"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type stubEvents struct {
	police.Client
	events []police.Event
	err    error
	calls  int
}

func (s *stubEvents) Events(ctx context.Context, forceID, neighbourhoodID string) ([]police.Event, error) {
	s.calls++
	return s.events, s.err
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func TestFeedRendersAndCaches(t *testing.T) {
	t.Parallel()

	client := &stubEvents{events: []police.Event{{
		Title:     "Beat surgery",
		Address:   "Town Hall, Leicester",
		StartDate: "2026-09-03T18:00:00",
		EndDate:   "2026-09-03T19:00:00",
	}}}
	svc := New(client, cache.New[[]byte](10, time.Hour, realClock{}), ICS{}, nil)

	doc, err := svc.Feed(context.Background(), "leicestershire", "NC04")
	require.NoError(t, err)
	require.Contains(t, string(doc), "BEGIN:VCALENDAR")
	require.Contains(t, string(doc), "SUMMARY:Beat surgery")
	require.Contains(t, string(doc), "DTSTART:20260903T180000")
	require.Contains(t, string(doc), "LOCATION:Town Hall\\, Leicester")

	again, err := svc.Feed(context.Background(), "leicestershire", "NC04")
	require.NoError(t, err)
	require.Equal(t, doc, again)
	require.Equal(t, 1, client.calls, "second read must come from cache")
}

func TestFeedPropagatesFetchError(t *testing.T) {
	t.Parallel()

	client := &stubEvents{err: errors.New("upstream down")}
	svc := New(client, cache.New[[]byte](10, time.Hour, realClock{}), ICS{}, nil)

	_, err := svc.Feed(context.Background(), "kent", "K01")
	require.ErrorContains(t, err, "upstream down")
}

func TestICSSkipsUnparseableEvents(t *testing.T) {
	t.Parallel()

	doc, err := ICS{}.Serialize(Feed{
		ForceID:         "kent",
		NeighbourhoodID: "K01",
		Events: []police.Event{
			{Title: "Good", StartDate: "2026-09-03T18:00:00"},
			{Title: "Bad", StartDate: "not a date"},
		},
	})
	require.NoError(t, err)
	require.Contains(t, string(doc), "SUMMARY:Good")
	require.NotContains(t, string(doc), "SUMMARY:Bad")
}

func TestICSEmptyFeedIsValidEnvelope(t *testing.T) {
	t.Parallel()

	doc, err := ICS{}.Serialize(Feed{ForceID: "kent", NeighbourhoodID: "K01"})
	require.NoError(t, err)
	require.Contains(t, string(doc), "BEGIN:VCALENDAR")
	require.Contains(t, string(doc), "END:VCALENDAR")
	require.NotContains(t, string(doc), "BEGIN:VEVENT")
}
