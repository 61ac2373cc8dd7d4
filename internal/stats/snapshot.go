package stats

import (
	"time"
)

// Snapshot is a read-only view of Stats at one instant.
type Snapshot struct {
	Allowed       uint64
	Blocked       uint64
	Unexpected    uint64
	Total         uint64
	NetworkErrors uint64
	Skipped       uint64
	Bytes         uint64
	Checks        map[string]CheckCounts
	TakenAt       time.Time

	latency *Latency
}

func ratio(n, d uint64) (float64, bool) {
	if d == 0 {
		return 0, false
	}
	return float64(n) / float64(d), true
}

// SuccessRate is allowed/total. ok is false when nothing was recorded.
func (s Snapshot) SuccessRate() (float64, bool) {
	return ratio(s.Allowed, s.Total)
}

func (s Snapshot) BlockedRate() (float64, bool) {
	return ratio(s.Blocked, s.Total)
}

func (s Snapshot) UnexpectedRate() (float64, bool) {
	return ratio(s.Unexpected, s.Total)
}

// CheckRate is the share of evaluated checks that passed.
func (s Snapshot) CheckRate() (float64, bool) {
	var pass, all uint64
	for _, c := range s.Checks {
		pass += c.Passes
		all += c.Passes + c.Fails
	}
	return ratio(pass, all)
}

// AssertionFailures sums failed checks across all check names.
func (s Snapshot) AssertionFailures() uint64 {
	var n uint64
	for _, c := range s.Checks {
		n += c.Fails
	}
	return n
}

func (s Snapshot) LatencySamples() int64 {
	if s.latency == nil {
		return 0
	}
	return s.latency.Count()
}

// Latency returns the p-th percentile (0..100) of request durations.
func (s Snapshot) Latency(p float64) (time.Duration, bool) {
	if s.LatencySamples() == 0 {
		return 0, false
	}
	return s.latency.Quantile(p), true
}

func (s Snapshot) LatencyAvg() (time.Duration, bool) {
	if s.LatencySamples() == 0 {
		return 0, false
	}
	return s.latency.Mean(), true
}

func (s Snapshot) LatencyMin() (time.Duration, bool) {
	if s.LatencySamples() == 0 {
		return 0, false
	}
	return s.latency.Min(), true
}

func (s Snapshot) LatencyMax() (time.Duration, bool) {
	if s.LatencySamples() == 0 {
		return 0, false
	}
	return s.latency.Max(), true
}

// Ms converts a duration to fractional milliseconds.
func Ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
