package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	require.False(t, tr.Snapshot().Active)

	runID := uuid.Must(uuid.NewV7())
	started := time.Unix(1700000000, 0).UTC()
	tr.StartRun(runID, "full", 4, started)
	tr.SetCurrentForce("leicestershire")
	tr.RecordSynced()
	tr.RecordSynced()
	tr.RecordNoBoundary()
	tr.ForceDone()

	snap := tr.Snapshot()
	require.True(t, snap.Active)
	require.Equal(t, runID, snap.RunID)
	require.Equal(t, "leicestershire", snap.CurrentForce)
	require.Equal(t, 2, snap.Synced)
	require.Equal(t, 1, snap.NoBoundary)
	require.Equal(t, 1, snap.ForcesDone)
	require.InDelta(t, 25.0, snap.Percentage, 1e-9)
}

func TestTrackerFinishRunComputesSuccessRate(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	started := time.Unix(1700000000, 0).UTC()
	tr.StartRun(uuid.Must(uuid.NewV7()), "full", 2, started)
	tr.RecordSynced()
	tr.RecordSynced()
	tr.RecordSynced()
	tr.RecordFailed()

	res := tr.FinishRun("completed", started.Add(10*time.Minute))
	require.Equal(t, "completed", res.Status)
	require.Equal(t, 10*time.Minute, res.Duration)
	require.InDelta(t, 0.75, res.SuccessRate, 1e-9)

	require.False(t, tr.Snapshot().Active, "tracker should be idle after finish")
	last, ok := tr.LastResult()
	require.True(t, ok)
	require.Equal(t, res, last)
}

func TestTrackerEmptyRunHasFullSuccessRate(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	started := time.Unix(1700000000, 0).UTC()
	tr.StartRun(uuid.Must(uuid.NewV7()), "recovery", 0, started)
	res := tr.FinishRun("completed", started)
	require.InDelta(t, 1.0, res.SuccessRate, 1e-9)
}

func TestTrackerConcurrentWritersAndReaders(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.StartRun(uuid.Must(uuid.NewV7()), "full", 44, time.Unix(1700000000, 0).UTC())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				tr.RecordSynced()
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				_ = tr.Snapshot()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1000, tr.Snapshot().Synced)
}
