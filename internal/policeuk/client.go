// Package policeuk implements police.Client against the data.police.uk API.
// Failures are classified as temporary (timeouts, 5xx, rate limiting,
// connection resets) or permanent (other 4xx, malformed responses);
// temporary failures are retried with exponential backoff.
package policeuk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mfleming85/beatcal/internal/police"
)

// Config controls client behavior.
type Config struct {
	BaseURL        string
	Timeout        time.Duration // per attempt
	Retry          RetryPolicy
	RequestsPerSec float64 // courtesy limit toward the upstream; <=0 means unlimited
}

// Client is an HTTP client for the data.police.uk API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://data.police.uk/api"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Forces lists all police forces.
func (c *Client) Forces(ctx context.Context) ([]police.Force, error) {
	var forces []police.Force
	if err := c.getJSON(ctx, "/forces", &forces); err != nil {
		return nil, err
	}
	return forces, nil
}

// Neighbourhoods lists the neighbourhoods of one force.
func (c *Client) Neighbourhoods(ctx context.Context, forceID string) ([]police.Neighbourhood, error) {
	var hoods []police.Neighbourhood
	path := fmt.Sprintf("/%s/neighbourhoods", url.PathEscape(forceID))
	if err := c.getJSON(ctx, path, &hoods); err != nil {
		return nil, err
	}
	for i := range hoods {
		hoods[i].ForceID = forceID
	}
	return hoods, nil
}

// Boundary fetches a neighbourhood's boundary. A 404 or empty coordinate
// list means the upstream has no boundary for it; that is reported as
// ok=false, not an error.
func (c *Client) Boundary(ctx context.Context, forceID, neighbourhoodID string) (police.Boundary, bool, error) {
	var boundary police.Boundary
	path := fmt.Sprintf("/%s/%s/boundary", url.PathEscape(forceID), url.PathEscape(neighbourhoodID))
	err := c.getJSON(ctx, path, &boundary)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(boundary) == 0 {
		return nil, false, nil
	}
	return boundary, true, nil
}

// Events lists upcoming events for a neighbourhood.
func (c *Client) Events(ctx context.Context, forceID, neighbourhoodID string) ([]police.Event, error) {
	var events []police.Event
	path := fmt.Sprintf("/%s/%s/events", url.PathEscape(forceID), url.PathEscape(neighbourhoodID))
	if err := c.getJSON(ctx, path, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// errNotFound marks a 404 so Boundary can translate it to "no boundary".
var errNotFound = errors.New("resource not found")

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return c.attempt(ctx, path, out)
	})
}

func (c *Client) attempt(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &police.FetchError{Class: police.ClassTemporary, Cause: fmt.Errorf("rate limit wait: %w", err)}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return &police.FetchError{Class: police.ClassPermanent, Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures (timeouts, resets, DNS) are all retryable.
		return &police.FetchError{Class: police.ClassTemporary, Cause: fmt.Errorf("GET %s: %w", path, err)}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &police.FetchError{Class: police.ClassTemporary, Cause: fmt.Errorf("read body %s: %w", path, err)}
	}

	c.logger.Debug("upstream fetch",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &police.FetchError{Class: police.ClassPermanent, Cause: fmt.Errorf("GET %s: %w", path, errNotFound)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &police.FetchError{Class: police.ClassTemporary, Cause: fmt.Errorf("GET %s: status %d", path, resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &police.FetchError{Class: police.ClassPermanent, Cause: fmt.Errorf("GET %s: status %d", path, resp.StatusCode)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &police.FetchError{Class: police.ClassPermanent, Cause: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}
