package providers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedger_AddUnits_AccumulatesCost(t *testing.T) {
	l := NewLedger("speech", UnitChars)
	l.AddUnits(100, 0.0001)
	l.AddUnits(50, 0.0001)

	snap := l.Snapshot()
	require.Equal(t, "speech", snap.Provider)
	require.Equal(t, UnitChars, snap.UnitType)
	require.InDelta(t, 150, snap.UnitsUsed, 0.001)
	require.InDelta(t, 0.015, snap.EstimatedCostUSD, 0.0001)
}

func TestLedger_RecordRequest_TracksCountAndLatency(t *testing.T) {
	l := NewLedger("avatar", UnitCredits)
	l.RecordRequest(120)
	l.RecordRequest(80)

	snap := l.Snapshot()
	require.Equal(t, 2, snap.RequestCount)
	require.EqualValues(t, 200, snap.LatencyMS)
}

func TestLedger_ConcurrentUpdatesAreSafe(t *testing.T) {
	l := NewLedger("video", UnitSeconds)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AddUnits(1, 0.01)
			l.RecordRequest(1)
		}()
	}
	wg.Wait()

	snap := l.Snapshot()
	require.InDelta(t, 100, snap.UnitsUsed, 0.001)
	require.Equal(t, 100, snap.RequestCount)
}

func TestResult_DurationSeconds(t *testing.T) {
	r := Result{DurationMS: 2500}
	require.InDelta(t, 2.5, r.DurationSeconds(), 0.0001)
}
