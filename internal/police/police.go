// Package police defines the core types and interfaces for the neighbourhood
// boundary sync and calendar service. It includes the upstream data model,
// the fetch error taxonomy, and the collaborator interfaces the sync engine
// depends on.
package police

import (
	"context"
	"time"
)

// Force is one of the ~44 upstream police administrative units. Immutable
// once fetched; the full set is refreshed wholesale each sync run.
type Force struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Neighbourhood is a sub-force policing area, keyed by (ForceID, ID).
type Neighbourhood struct {
	ID      string `json:"id"`
	ForceID string `json:"-"`
	Name    string `json:"name"`
}

// Point is a single WGS84 coordinate as returned by the upstream boundary
// endpoint.
type Point struct {
	Latitude  float64 `json:"latitude,string"`
	Longitude float64 `json:"longitude,string"`
}

// Boundary is the polygon outline of a neighbourhood. The upstream returns
// an open ring; storage closes it.
type Boundary []Point

// ContactDetails holds the optional contact block attached to an event.
type ContactDetails struct {
	Email     string `json:"email,omitempty"`
	Telephone string `json:"telephone,omitempty"`
	Web       string `json:"web,omitempty"`
}

// Event is a neighbourhood policing event used to build calendar feeds.
type Event struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Address        string         `json:"address"`
	Type           string         `json:"type"`
	ContactDetails ContactDetails `json:"contact_details"`
	StartDate      string         `json:"start_date"`
	EndDate        string         `json:"end_date"`
}

// Client is the upstream data source. Implementations retry internally;
// callers see at most one terminal error per call.
type Client interface {
	// Forces lists all police forces.
	Forces(ctx context.Context) ([]Force, error)
	// Neighbourhoods lists the neighbourhoods of one force.
	Neighbourhoods(ctx context.Context, forceID string) ([]Neighbourhood, error)
	// Boundary fetches a neighbourhood's boundary polygon. ok is false when
	// the upstream has no boundary for that neighbourhood, which is a
	// legitimate terminal state, not a failure.
	Boundary(ctx context.Context, forceID, neighbourhoodID string) (boundary Boundary, ok bool, err error)
	// Events lists upcoming events for a neighbourhood.
	Events(ctx context.Context, forceID, neighbourhoodID string) ([]Event, error)
}

// Coordinates is a British National Grid position (EPSG:27700).
type Coordinates struct {
	Easting  float64
	Northing float64
}

// Geocoder resolves a UK postcode to BNG coordinates.
type Geocoder interface {
	FindPostcode(ctx context.Context, postcode string) (Coordinates, error)
}

// Clock abstracts time.Now so time-dependent logic is testable.
type Clock interface {
	Now() time.Time
}
