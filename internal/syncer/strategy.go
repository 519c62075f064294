package syncer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mfleming85/beatcal/internal/syncstate"
)

// Action is what the decision engine tells the scheduler to do at startup.
type Action string

// Startup actions.
const (
	ActionNone         Action = "none"
	ActionFullSync     Action = "full_sync"
	ActionRecoverySync Action = "recovery_sync"
)

// Decision is the startup verdict. For a recovery sync, RecoverRunID names
// the run whose unfinished forces should be re-processed.
type Decision struct {
	Action       Action
	Delay        time.Duration
	RecoverRunID uuid.UUID
	Reason       string
}

// DecisionInput is everything the decision engine consults. Metadata,
// LatestRun, and StaleLock are nil when absent.
type DecisionInput struct {
	BoundaryCount int64
	Metadata      *syncstate.Metadata
	LatestRun     *syncstate.SyncRun
	StaleLock     *syncstate.SyncRun
	Now           time.Time
}

// Thresholds are the decision engine's policy knobs.
type Thresholds struct {
	FullSyncDelay time.Duration // before a startup full sync
	RecoveryDelay time.Duration // before a startup recovery sync
	Fresh         time.Duration // dataset younger than this needs nothing
	Stale         time.Duration // dataset older than this needs a full sync
}

// DefaultThresholds match the documented policy: 2 and 5 minute startup
// delays, fresh under 6 days, stale over 8.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FullSyncDelay: 2 * time.Minute,
		RecoveryDelay: 5 * time.Minute,
		Fresh:         6 * 24 * time.Hour,
		Stale:         8 * 24 * time.Hour,
	}
}

// Decide picks the startup action. It is a pure function of its input; the
// conditions are checked in a fixed order and the first match wins, so
// crash and failure recovery always outrank staleness-driven resyncs.
func Decide(in DecisionInput, th Thresholds) Decision {
	if in.BoundaryCount == 0 {
		return Decision{Action: ActionFullSync, Delay: th.FullSyncDelay, Reason: "empty dataset"}
	}

	if in.StaleLock != nil {
		return Decision{
			Action:       ActionRecoverySync,
			Delay:        th.RecoveryDelay,
			RecoverRunID: in.StaleLock.ID,
			Reason:       "stale lock, previous holder presumed crashed",
		}
	}

	if in.LatestRun != nil {
		if in.LatestRun.Status == syncstate.RunFailed {
			return Decision{
				Action:       ActionRecoverySync,
				Delay:        th.RecoveryDelay,
				RecoverRunID: in.LatestRun.ID,
				Reason:       "latest run failed",
			}
		}
		// A run that claims to have finished before it started means the
		// state rows cannot be trusted; start over.
		if in.LatestRun.FinishedAt != nil && in.LatestRun.FinishedAt.Before(in.LatestRun.StartedAt) {
			return Decision{Action: ActionFullSync, Delay: th.FullSyncDelay, Reason: "corrupted run timestamps"}
		}
	}

	// Boundaries exist but nothing records when they were synced: a legacy
	// or hand-restored database. The data is assumed valid; the weekly
	// cadence will refresh it and write metadata then.
	if in.Metadata == nil || in.Metadata.LastSyncedAt == nil {
		return Decision{Action: ActionNone, Reason: "no sync metadata, assuming dataset valid"}
	}

	age := in.Now.Sub(*in.Metadata.LastSyncedAt)
	switch {
	case age > th.Stale:
		return Decision{
			Action: ActionFullSync,
			Delay:  th.FullSyncDelay,
			Reason: fmt.Sprintf("dataset %s old", age.Round(time.Hour)),
		}
	case age > th.Fresh:
		return Decision{Action: ActionNone, Reason: "dataset aging, next weekly sync will cover it"}
	default:
		return Decision{Action: ActionNone, Reason: "dataset fresh"}
	}
}
