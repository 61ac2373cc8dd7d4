package stats

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecheck/internal/check"
)

func outcome(kind check.Kind, latency time.Duration, passed ...bool) check.Outcome {
	o := check.Outcome{Kind: kind, Latency: latency}
	names := []string{check.CheckStatus, check.CheckQuota}
	if kind == check.Blocked {
		names[1] = check.CheckBlockUntil
	}
	for i, p := range passed {
		o.Checks = append(o.Checks, check.CheckResult{Name: names[i], Passed: p})
	}
	return o
}

func TestStats_ConcurrentRecordNoLostUpdates(t *testing.T) {
	s := NewStats()

	const perKind = 2000
	kinds := []check.Kind{check.Allowed, check.Blocked, check.Unexpected}

	var wg sync.WaitGroup
	for _, k := range kinds {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(k check.Kind) {
				defer wg.Done()
				for i := 0; i < perKind/4; i++ {
					s.Record(check.Outcome{Kind: k, Latency: time.Millisecond})
				}
			}(k)
		}
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, uint64(perKind), snap.Allowed)
	assert.Equal(t, uint64(perKind), snap.Blocked)
	assert.Equal(t, uint64(perKind), snap.Unexpected)
	assert.Equal(t, uint64(3*perKind), snap.Total)
	assert.Equal(t, int64(3*perKind), snap.LatencySamples())
}

func TestStats_SnapshotConsistentWhileRecording(t *testing.T) {
	s := NewStats()
	done := make(chan struct{})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			kind := check.Kind(w % 3)
			for {
				select {
				case <-done:
					return
				default:
					s.Record(check.Outcome{Kind: kind})
				}
			}
		}(w)
	}

	for i := 0; i < 200; i++ {
		snap := s.Snapshot()
		require.Equal(t, snap.Total, snap.Allowed+snap.Blocked+snap.Unexpected)
		require.Equal(t, int64(snap.Total), snap.LatencySamples())
	}
	close(done)
	wg.Wait()
}

func TestStats_ChecksAndErrors(t *testing.T) {
	s := NewStats()
	s.Record(outcome(check.Allowed, time.Millisecond, true, true))
	s.Record(outcome(check.Allowed, time.Millisecond, true, false))
	s.Record(outcome(check.Blocked, time.Millisecond, true, false))
	s.Record(check.Outcome{
		Kind:   check.Unexpected,
		Err:    errors.New("connection refused"),
		Checks: []check.CheckResult{{Name: check.CheckStatus}},
	})

	snap := s.Snapshot()
	assert.Equal(t, CheckCounts{Passes: 3, Fails: 1}, snap.Checks[check.CheckStatus])
	assert.Equal(t, CheckCounts{Passes: 1, Fails: 1}, snap.Checks[check.CheckQuota])
	assert.Equal(t, CheckCounts{Passes: 0, Fails: 1}, snap.Checks[check.CheckBlockUntil])
	assert.Equal(t, uint64(3), snap.AssertionFailures())
	assert.Equal(t, uint64(1), snap.NetworkErrors)

	rate, ok := snap.CheckRate()
	require.True(t, ok)
	assert.InDelta(t, 4.0/7.0, rate, 1e-9)
}

func TestSnapshot_RatesEmpty(t *testing.T) {
	snap := NewStats().Snapshot()

	_, ok := snap.SuccessRate()
	assert.False(t, ok)
	_, ok = snap.BlockedRate()
	assert.False(t, ok)
	_, ok = snap.CheckRate()
	assert.False(t, ok)
	_, ok = snap.Latency(95)
	assert.False(t, ok)
	_, ok = snap.LatencyAvg()
	assert.False(t, ok)
}

func TestSnapshot_Rates(t *testing.T) {
	snap := Snapshot{Allowed: 90, Blocked: 10, Total: 100}

	rate, ok := snap.SuccessRate()
	require.True(t, ok)
	assert.InDelta(t, 0.9, rate, 1e-9)

	rate, ok = snap.BlockedRate()
	require.True(t, ok)
	assert.InDelta(t, 0.1, rate, 1e-9)

	rate, ok = snap.UnexpectedRate()
	require.True(t, ok)
	assert.Zero(t, rate)
}

func TestSnapshot_LatencyPercentiles(t *testing.T) {
	s := NewStats()
	for i := 1; i <= 100; i++ {
		s.Record(check.Outcome{Kind: check.Allowed, Latency: time.Duration(i) * time.Millisecond})
	}
	snap := s.Snapshot()

	p95, ok := snap.Latency(95)
	require.True(t, ok)
	assert.InDelta(t, 95.0, Ms(p95), 0.5)

	minLat, _ := snap.LatencyMin()
	maxLat, _ := snap.LatencyMax()
	avg, _ := snap.LatencyAvg()
	assert.InDelta(t, 1.0, Ms(minLat), 0.01)
	assert.InDelta(t, 100.0, Ms(maxLat), 0.1)
	assert.InDelta(t, 50.5, Ms(avg), 0.1)
}

func TestSnapshot_IsolatedFromLaterRecords(t *testing.T) {
	s := NewStats()
	s.Record(check.Outcome{Kind: check.Allowed, Latency: time.Millisecond})
	snap := s.Snapshot()

	s.Record(check.Outcome{Kind: check.Allowed, Latency: time.Millisecond})

	assert.Equal(t, uint64(1), snap.Total)
	assert.Equal(t, int64(1), snap.LatencySamples())
}

func TestLatency_ClampsOutOfRange(t *testing.T) {
	l := NewLatency()
	l.Record(0)
	l.Record(time.Hour)

	assert.Equal(t, int64(2), l.Count())
	assert.True(t, l.Max() >= 9*time.Minute)
}

func TestStats_SkippedAddsNoOutcomeOrSample(t *testing.T) {
	s := NewStats()
	s.Record(outcome(check.Allowed, 20*time.Millisecond, true, true))
	s.RecordSkipped()
	s.RecordSkipped()

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Skipped)
	assert.Equal(t, uint64(1), snap.Total)
	assert.Equal(t, int64(1), snap.LatencySamples())
	d, ok := snap.LatencyMin()
	require.True(t, ok)
	assert.GreaterOrEqual(t, d, 19*time.Millisecond)
}
