package stats

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	minLatencyUs = 1
	maxLatencyUs = int64(10 * time.Minute / time.Microsecond)
)

// Latency is an HdrHistogram of request durations in microseconds.
// Not synchronized; Stats guards it.
type Latency struct {
	hist *hdrhistogram.Histogram
}

func NewLatency() *Latency {
	// 1us to 10min, 3 significant figures
	return &Latency{hist: hdrhistogram.New(minLatencyUs, maxLatencyUs, 3)}
}

// Record clamps values outside the histogram range.
func (l *Latency) Record(d time.Duration) {
	us := d.Microseconds()
	if us < minLatencyUs {
		us = minLatencyUs
	}
	if us > maxLatencyUs {
		us = maxLatencyUs
	}
	_ = l.hist.RecordValue(us)
}

func (l *Latency) Copy() *Latency {
	return &Latency{hist: hdrhistogram.Import(l.hist.Export())}
}

func (l *Latency) Count() int64 {
	return l.hist.TotalCount()
}

// Quantile returns the q-th percentile (0..100).
func (l *Latency) Quantile(q float64) time.Duration {
	return time.Duration(l.hist.ValueAtQuantile(q)) * time.Microsecond
}

func (l *Latency) Mean() time.Duration {
	return time.Duration(l.hist.Mean() * float64(time.Microsecond))
}

func (l *Latency) Min() time.Duration {
	return time.Duration(l.hist.Min()) * time.Microsecond
}

func (l *Latency) Max() time.Duration {
	return time.Duration(l.hist.Max()) * time.Microsecond
}
