package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second}, zap.NewNop())
}

func TestFindPostcode(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/find", r.URL.Path)
		require.Equal(t, "LE1 6ZG", r.URL.Query().Get("query"))
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Write([]byte(`{"results":[{"GAZETTEER_ENTRY":{"LOCAL_TYPE":"Postcode","GEOMETRY_X":458123.0,"GEOMETRY_Y":304567.0}}]}`))
	}))

	coords, err := c.FindPostcode(context.Background(), "LE1 6ZG")
	require.NoError(t, err)
	require.InDelta(t, 458123.0, coords.Easting, 1e-6)
	require.InDelta(t, 304567.0, coords.Northing, 1e-6)
}

func TestFindPostcodeNoResults(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))

	_, err := c.FindPostcode(context.Background(), "ZZ99 9ZZ")
	require.ErrorIs(t, err, ErrPostcodeNotFound)
}

func TestFindPostcodeIgnoresNonPostcodeEntries(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"GAZETTEER_ENTRY":{"LOCAL_TYPE":"City","GEOMETRY_X":1.0,"GEOMETRY_Y":2.0}}]}`))
	}))

	_, err := c.FindPostcode(context.Background(), "Leicester")
	require.ErrorIs(t, err, ErrPostcodeNotFound)
}

func TestFindPostcodeMissingAPIKey(t *testing.T) {
	t.Parallel()

	c := New(Config{BaseURL: "http://unused.invalid"}, zap.NewNop())
	_, err := c.FindPostcode(context.Background(), "LE1 6ZG")
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestFindPostcodeUpstreamError(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.FindPostcode(context.Background(), "LE1 6ZG")
	require.ErrorContains(t, err, "status 401")
}
