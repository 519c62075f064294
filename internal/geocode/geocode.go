// Package geocode resolves UK postcodes to British National Grid coordinates
// via the Ordnance Survey Names API.
package geocode

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

	"github.com/mfleming85/beatcal/internal/police"
)

// ErrPostcodeNotFound means the gazetteer has no entry for the postcode.
var ErrPostcodeNotFound = errors.New("postcode not found")

// ErrMissingAPIKey means the OS Names API key was never configured.
var ErrMissingAPIKey = errors.New("os names api key not configured")

// Config controls the OS Names client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client queries the OS Names API find endpoint. It implements
// police.Geocoder.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.os.uk/search/names/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type findResponse struct {
	Results []struct {
		Entry struct {
			Type      string  `json:"LOCAL_TYPE"`
			GeometryX float64 `json:"GEOMETRY_X"`
			GeometryY float64 `json:"GEOMETRY_Y"`
		} `json:"GAZETTEER_ENTRY"`
	} `json:"results"`
}

// FindPostcode resolves a postcode to its BNG centroid. The gazetteer
// returns several entry types per query; only Postcode entries count.
func (c *Client) FindPostcode(ctx context.Context, postcode string) (police.Coordinates, error) {
	if c.cfg.APIKey == "" {
		return police.Coordinates{}, ErrMissingAPIKey
	}

	q := url.Values{}
	q.Set("query", postcode)
	q.Set("fq", "LOCAL_TYPE:Postcode")
	q.Set("maxresults", "1")
	q.Set("key", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/find?"+q.Encode(), nil)
	if err != nil {
		return police.Coordinates{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return police.Coordinates{}, fmt.Errorf("geocode %q: %w", postcode, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return police.Coordinates{}, fmt.Errorf("geocode %q: read body: %w", postcode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return police.Coordinates{}, fmt.Errorf("geocode %q: status %d", postcode, resp.StatusCode)
	}

	var parsed findResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return police.Coordinates{}, fmt.Errorf("geocode %q: decode: %w", postcode, err)
	}
	for _, r := range parsed.Results {
		if r.Entry.Type == "Postcode" {
			c.logger.Debug("postcode resolved",
				zap.String("postcode", postcode),
				zap.Float64("easting", r.Entry.GeometryX),
				zap.Float64("northing", r.Entry.GeometryY),
			)
			return police.Coordinates{Easting: r.Entry.GeometryX, Northing: r.Entry.GeometryY}, nil
		}
	}
	return police.Coordinates{}, fmt.Errorf("geocode %q: %w", postcode, ErrPostcodeNotFound)
}
