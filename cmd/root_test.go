package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"

	"ratecheck/internal/config"
	"ratecheck/internal/report"
	"ratecheck/internal/runner"
	"ratecheck/internal/storage"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"runtime", errors.New("boom"), ExitRuntime},
		{"invalid config", fmt.Errorf("%w: bad stage", config.ErrInvalid), ExitInvalidConfig},
		{"thresholds", &exitError{code: ExitThresholdsFailed, err: errThresholds}, ExitThresholdsFailed},
		{"wrapped thresholds", fmt.Errorf("run: %w", &exitError{code: ExitThresholdsFailed, err: errThresholds}), ExitThresholdsFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestUnderscoreFlagsAreAccepted(t *testing.T) {
	fs := pflag.NewFlagSet("t", pflag.ContinueOnError)
	fs.SetNormalizeFunc(underscoreToDash)
	n := fs.Int("start-vus", 0, "")

	assert.NoError(t, fs.Parse([]string{"--start_vus", "7"}))
	assert.Equal(t, 7, *n)
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	renderHistory(&buf, nil)
	assert.Contains(t, buf.String(), "No runs recorded yet.")

	buf.Reset()
	renderHistory(&buf, []storage.HistoryItem{{
		ID:        "run-1",
		Timestamp: time.Now(),
		Config:    runner.Config{URL: "http://localhost:8080"},
		Summary:   report.Summary{ID: "run-1", Requests: 12, Allowed: 10, Blocked: 2, Passed: true},
	}})
	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "http://localhost:8080")
	assert.Contains(t, out, "pass")
}
