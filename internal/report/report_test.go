package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecheck/internal/check"
	"ratecheck/internal/runner"
	"ratecheck/internal/stats"
	"ratecheck/internal/threshold"
)

func sampleSnapshot() stats.Snapshot {
	s := stats.NewStats()
	for i := 0; i < 9; i++ {
		s.Record(check.Outcome{
			Kind:    check.Allowed,
			Status:  200,
			Latency: time.Duration(10+i) * time.Millisecond,
			Checks: []check.CheckResult{
				{Name: check.CheckStatus, Passed: true},
				{Name: check.CheckQuota, Passed: i != 0},
			},
		})
	}
	s.Record(check.Outcome{
		Kind:    check.Blocked,
		Status:  429,
		Latency: 5 * time.Millisecond,
		Checks: []check.CheckResult{
			{Name: check.CheckStatus, Passed: true},
			{Name: check.CheckBlockUntil, Passed: true},
		},
	})
	return s.Snapshot()
}

func TestBuild(t *testing.T) {
	snap := sampleSnapshot()
	th, err := threshold.Parse(threshold.MetricSuccessRate, "rate>0.95")
	require.NoError(t, err)
	v := threshold.Evaluate([]threshold.Threshold{th}, snap)

	cfg := runner.Config{URL: "http://t", Method: "GET"}
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := Build("run-1", cfg, started, 2*time.Second, snap, v)

	assert.Equal(t, uint64(10), s.Requests)
	assert.Equal(t, uint64(9), s.Allowed)
	assert.Equal(t, uint64(1), s.Blocked)
	require.NotNil(t, s.SuccessRate)
	assert.InDelta(t, 0.9, *s.SuccessRate, 1e-9)
	assert.InDelta(t, 5.0, s.RPS, 1e-9)
	assert.Equal(t, uint64(1), s.AssertionFailures)
	require.Len(t, s.Checks, 3)
	assert.Equal(t, CheckSummary{Name: check.CheckQuota, Passes: 8, Fails: 1}, s.Checks[1])
	assert.Equal(t, int64(10), s.Latency.Samples)
	assert.InDelta(t, 5, s.Latency.MinMs, 0.1)
	assert.InDelta(t, 18, s.Latency.MaxMs, 0.1)
	require.Len(t, s.Thresholds, 1)
	assert.Equal(t, threshold.StatusFail, s.Thresholds[0].Status)
	assert.False(t, s.Passed)
}

func TestBuild_EmptyRun(t *testing.T) {
	snap := stats.NewStats().Snapshot()
	s := Build("run-2", runner.Config{}, time.Now(), 0, snap, threshold.Evaluate(nil, snap))
	assert.Nil(t, s.SuccessRate)
	assert.Nil(t, s.BlockedRate)
	assert.Zero(t, s.RPS)
	assert.Zero(t, s.Latency.Samples)
	assert.True(t, s.Passed)

	var buf bytes.Buffer
	Render(&buf, s)
	assert.Contains(t, buf.String(), "n/a")
	assert.Contains(t, buf.String(), "no samples")
}

func TestWriteJSON(t *testing.T) {
	snap := sampleSnapshot()
	s := Build("run-3", runner.Config{URL: "http://t"}, time.Now(), time.Second, snap, threshold.Evaluate(nil, snap))

	path := filepath.Join(t.TempDir(), "out", "summary.json")
	require.NoError(t, WriteJSON(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Summary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-3", got.ID)
	assert.Equal(t, s.Requests, got.Requests)
	assert.Equal(t, s.Checks, got.Checks)
}

func TestRender_SeparatesSections(t *testing.T) {
	snap := sampleSnapshot()
	th, _ := threshold.Parse(threshold.MetricDuration, "p(95)<100")
	s := Build("run-4", runner.Config{URL: "http://t", Method: "GET"}, time.Now(), time.Second, snap,
		threshold.Evaluate([]threshold.Threshold{th}, snap))

	var buf bytes.Buffer
	Render(&buf, s)
	out := buf.String()
	assert.Contains(t, out, "OUTCOMES")
	assert.Contains(t, out, "CHECKS (1 failed assertions)")
	assert.Contains(t, out, "THRESHOLDS")
	assert.Contains(t, out, "http_req_duration p(95)<100")
	assert.Contains(t, out, "all thresholds met")
}

func TestCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	sink, err := NewCSVSink(path, "http://t")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := check.Outcome{Kind: check.Allowed, Status: 200, Remaining: "3", At: time.Now(),
				Checks: []check.CheckResult{{Name: check.CheckStatus, Passed: true}}}
			if i%2 == 1 {
				o = check.Outcome{Kind: check.Unexpected, Err: errors.New("dial tcp: refused"), At: time.Now(),
					Checks: []check.CheckResult{{Name: check.CheckStatus, Detail: "dial tcp: refused"}}}
			}
			assert.NoError(t, sink.Write(runner.Result{CallerID: i, Iteration: 0, Outcome: o}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 21)
	assert.Equal(t, CSVHeader, rows[0])

	var ok, failed int
	for _, row := range rows[1:] {
		require.Len(t, row, len(CSVHeader))
		switch row[7] {
		case "true":
			ok++
			assert.Equal(t, "allowed", row[2])
			assert.Equal(t, "OK", row[4])
		case "false":
			failed++
			assert.Equal(t, "unexpected", row[2])
			assert.Contains(t, row[8], "refused")
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, failed)
}

func TestRender_ShowsUnsentRequests(t *testing.T) {
	s := stats.NewStats()
	s.RecordSkipped()
	snap := s.Snapshot()
	sum := Build("run", runner.Config{URL: "http://x", Method: "GET"}, time.Now(), time.Second, snap, threshold.Verdict{Passed: true})
	assert.Equal(t, uint64(1), sum.Skipped)
	assert.Zero(t, sum.Requests)

	var buf bytes.Buffer
	Render(&buf, sum)
	assert.Contains(t, buf.String(), "Not sent")

	buf.Reset()
	Render(&buf, Build("run", runner.Config{}, time.Now(), time.Second, stats.NewStats().Snapshot(), threshold.Verdict{Passed: true}))
	assert.NotContains(t, buf.String(), "Not sent")
}
