package threshold

import (
	"time"

	"ratecheck/internal/stats"
)

type Status string

const (
	StatusPass          Status = "pass"
	StatusFail          Status = "fail"
	StatusIndeterminate Status = "indeterminate"
)

type Result struct {
	Threshold Threshold
	Value     float64
	Status    Status
}

func (r Result) Passed() bool {
	return r.Status == StatusPass
}

// Verdict is the outcome of evaluating every threshold once.
type Verdict struct {
	Results []Result
	Passed  bool
}

// Failing counts results that did not pass.
func (v Verdict) Failing() int {
	n := 0
	for _, r := range v.Results {
		if !r.Passed() {
			n++
		}
	}
	return n
}

// HasFailure is true when at least one threshold was measurable and failed.
// Indeterminate results do not count.
func (v Verdict) HasFailure() bool {
	for _, r := range v.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

// Evaluate measures every threshold against snap. Thresholds whose value
// cannot be computed (no requests, no latency samples) are indeterminate
// and fail the verdict.
func Evaluate(ths []Threshold, snap stats.Snapshot) Verdict {
	v := Verdict{Passed: true}
	for _, th := range ths {
		res := Result{Threshold: th}
		value, ok := measure(th, snap)
		switch {
		case !ok:
			res.Status = StatusIndeterminate
		case th.Op.compare(value, th.Bound):
			res.Status = StatusPass
		default:
			res.Status = StatusFail
		}
		res.Value = value
		if !res.Passed() {
			v.Passed = false
		}
		v.Results = append(v.Results, res)
	}
	return v
}

func measure(th Threshold, snap stats.Snapshot) (float64, bool) {
	switch th.Metric {
	case MetricDuration:
		var d time.Duration
		var ok bool
		switch th.Aggregation {
		case AggAvg:
			d, ok = snap.LatencyAvg()
		case AggMin:
			d, ok = snap.LatencyMin()
		case AggMax:
			d, ok = snap.LatencyMax()
		case AggMed:
			d, ok = snap.Latency(50)
		default:
			d, ok = snap.Latency(th.Percentile)
		}
		return stats.Ms(d), ok
	case MetricSuccessRate:
		return snap.SuccessRate()
	case MetricBlockedRate:
		return snap.BlockedRate()
	case MetricUnexpectedRate, MetricReqFailed:
		return snap.UnexpectedRate()
	case MetricChecks:
		return snap.CheckRate()
	case MetricReqs:
		return float64(snap.Total), true
	case MetricAssertionFailures:
		return float64(snap.AssertionFailures()), true
	}
	return 0, false
}
