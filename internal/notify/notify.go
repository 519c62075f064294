// Package notify publishes run-completion notifications so downstream
// consumers (dashboards, alerting) learn about sync outcomes without
// polling the status API.
package notify

import (
	"context"
	"sync"
	"time"
)

// RunSummary is the notification payload for one terminal sync run.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	Scope           string    `json:"scope"`
	Status          string    `json:"status"`
	Trigger         string    `json:"trigger"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	ForcesTotal     int       `json:"forces_total"`
	ForcesSucceeded int       `json:"forces_succeeded"`
	ForcesFailed    int       `json:"forces_failed"`
}

// Provider delivers run summaries.
type Provider interface {
	Publish(ctx context.Context, summary RunSummary) error
	Close() error
}

// NoOp discards notifications. It is the default provider.
type NoOp struct{}

// Publish discards the summary.
func (NoOp) Publish(ctx context.Context, summary RunSummary) error { return nil }

// Close is a no-op.
func (NoOp) Close() error { return nil }

// Memory collects notifications in memory for tests.
type Memory struct {
	mu        sync.Mutex
	published []RunSummary
}

// Publish appends the summary.
func (m *Memory) Publish(ctx context.Context, summary RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, summary)
	return nil
}

// Published returns a copy of everything published so far.
func (m *Memory) Published() []RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunSummary(nil), m.published...)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
