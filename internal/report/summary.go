package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ratecheck/internal/check"
	"ratecheck/internal/runner"
	"ratecheck/internal/stats"
	"ratecheck/internal/threshold"
)

// Latency is in milliseconds. Zero when no samples were recorded.
type Latency struct {
	Samples int64   `json:"samples"`
	AvgMs   float64 `json:"avg_ms"`
	MinMs   float64 `json:"min_ms"`
	MedMs   float64 `json:"med_ms"`
	MaxMs   float64 `json:"max_ms"`
	P90Ms   float64 `json:"p90_ms"`
	P95Ms   float64 `json:"p95_ms"`
	P99Ms   float64 `json:"p99_ms"`
}

type CheckSummary struct {
	Name   string `json:"name"`
	Passes uint64 `json:"passes"`
	Fails  uint64 `json:"fails"`
}

type ThresholdSummary struct {
	Metric string           `json:"metric"`
	Expr   string           `json:"expr"`
	Value  float64          `json:"value"`
	Status threshold.Status `json:"status"`
}

// Summary is the end-of-run report. Rates are nil when nothing was sent.
type Summary struct {
	ID        string         `json:"id"`
	Target    string         `json:"target"`
	Method    string         `json:"method"`
	Stages    []runner.Stage `json:"stages"`
	StartedAt time.Time      `json:"started_at"`
	ElapsedMs int64          `json:"elapsed_ms"`

	Requests      uint64   `json:"requests"`
	Allowed       uint64   `json:"allowed"`
	Blocked       uint64   `json:"blocked"`
	Unexpected    uint64   `json:"unexpected"`
	NetworkErrors uint64   `json:"network_errors"`
	Skipped       uint64   `json:"skipped,omitempty"`
	Bytes         uint64   `json:"bytes"`
	RPS           float64  `json:"rps"`
	SuccessRate   *float64 `json:"success_rate"`
	BlockedRate   *float64 `json:"blocked_rate"`

	AssertionFailures uint64         `json:"assertion_failures"`
	Checks            []CheckSummary `json:"checks"`

	Latency    Latency            `json:"latency"`
	Thresholds []ThresholdSummary `json:"thresholds"`
	Passed     bool               `json:"passed"`
}

func (s Summary) Elapsed() time.Duration {
	return time.Duration(s.ElapsedMs) * time.Millisecond
}

func rate(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func ms(d time.Duration, ok bool) float64 {
	if !ok {
		return 0
	}
	return stats.Ms(d)
}

// Build assembles a Summary from the final snapshot and its verdict.
func Build(id string, cfg runner.Config, started time.Time, elapsed time.Duration, snap stats.Snapshot, v threshold.Verdict) Summary {
	s := Summary{
		ID:                id,
		Target:            cfg.URL,
		Method:            cfg.Method,
		Stages:            cfg.Stages,
		StartedAt:         started,
		ElapsedMs:         elapsed.Milliseconds(),
		Requests:          snap.Total,
		Allowed:           snap.Allowed,
		Blocked:           snap.Blocked,
		Unexpected:        snap.Unexpected,
		NetworkErrors:     snap.NetworkErrors,
		Skipped:           snap.Skipped,
		Bytes:             snap.Bytes,
		SuccessRate:       rate(snap.SuccessRate()),
		BlockedRate:       rate(snap.BlockedRate()),
		AssertionFailures: snap.AssertionFailures(),
		Passed:            v.Passed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.RPS = float64(snap.Total) / secs
	}

	for _, name := range check.Names {
		c := snap.Checks[name]
		s.Checks = append(s.Checks, CheckSummary{Name: name, Passes: c.Passes, Fails: c.Fails})
	}

	s.Latency = Latency{
		Samples: snap.LatencySamples(),
		AvgMs:   ms(snap.LatencyAvg()),
		MinMs:   ms(snap.LatencyMin()),
		MedMs:   ms(snap.Latency(50)),
		MaxMs:   ms(snap.LatencyMax()),
		P90Ms:   ms(snap.Latency(90)),
		P95Ms:   ms(snap.Latency(95)),
		P99Ms:   ms(snap.Latency(99)),
	}

	for _, r := range v.Results {
		s.Thresholds = append(s.Thresholds, ThresholdSummary{
			Metric: r.Threshold.Metric,
			Expr:   r.Threshold.Source,
			Value:  r.Value,
			Status: r.Status,
		})
	}
	return s
}

// WriteJSON writes s as indented JSON, creating parent directories.
func WriteJSON(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
