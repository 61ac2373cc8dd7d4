package stats

import (
	"sync"
	"time"

	"ratecheck/internal/check"
)

// CheckCounts tallies one named check.
type CheckCounts struct {
	Passes uint64 `json:"passes"`
	Fails  uint64 `json:"fails"`
}

// Stats aggregates outcomes from every virtual caller.
// Callers only ever Record; readers take a Snapshot.
type Stats struct {
	mu         sync.Mutex
	allowed    uint64
	blocked    uint64
	unexpected uint64
	netErrors  uint64
	skipped    uint64
	bytes      uint64
	checks     map[string]*CheckCounts
	latency    *Latency
}

func NewStats() *Stats {
	s := &Stats{
		checks:  make(map[string]*CheckCounts, len(check.Names)),
		latency: NewLatency(),
	}
	for _, name := range check.Names {
		s.checks[name] = &CheckCounts{}
	}
	return s
}

// Record adds one completed request. Safe for concurrent use.
func (s *Stats) Record(o check.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o.Kind {
	case check.Allowed:
		s.allowed++
	case check.Blocked:
		s.blocked++
	default:
		s.unexpected++
	}
	if o.Err != nil {
		s.netErrors++
	}
	if o.Bytes > 0 {
		s.bytes += uint64(o.Bytes)
	}

	for _, c := range o.Checks {
		cc, ok := s.checks[c.Name]
		if !ok {
			cc = &CheckCounts{}
			s.checks[c.Name] = cc
		}
		if c.Passed {
			cc.Passes++
		} else {
			cc.Fails++
		}
	}

	s.latency.Record(o.Latency)
}

// RecordSkipped counts an iteration whose request could not be built and was
// never sent. It adds no outcome and no latency sample.
func (s *Stats) RecordSkipped() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of the counters and latency sample.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Allowed:       s.allowed,
		Blocked:       s.blocked,
		Unexpected:    s.unexpected,
		Total:         s.allowed + s.blocked + s.unexpected,
		NetworkErrors: s.netErrors,
		Skipped:       s.skipped,
		Bytes:         s.bytes,
		Checks:        make(map[string]CheckCounts, len(s.checks)),
		TakenAt:       time.Now(),
		latency:       s.latency.Copy(),
	}
	for name, cc := range s.checks {
		snap.Checks[name] = *cc
	}
	return snap
}
