package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"ratecheck/internal/logger"
	"ratecheck/internal/report"
	"ratecheck/internal/runner"
	"ratecheck/internal/storage"
	"ratecheck/internal/threshold"
	"ratecheck/internal/tui/app"
	"ratecheck/internal/tui/styles"
)

type Options struct {
	// Out receives the progress line and the final report.
	Out      io.Writer
	Log      *zap.Logger
	JSONPath string
	CSVPath  string
	// Store persists the summary when non-nil.
	Store *storage.Store
	// TUI swaps the progress line for the live dashboard.
	TUI bool
}

// Start runs one probe and reports on it. The returned error covers
// setup and output failures only; threshold results are in the Summary.
func Start(ctx context.Context, cfg runner.Config, opts Options) (report.Summary, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}

	var runOpts []runner.Option
	runOpts = append(runOpts, runner.WithLogger(opts.Log))

	var sink *report.CSVSink
	if opts.CSVPath != "" {
		var err error
		sink, err = report.NewCSVSink(opts.CSVPath, cfg.URL)
		if err != nil {
			return report.Summary{}, fmt.Errorf("csv output: %w", err)
		}
		runOpts = append(runOpts, runner.WithSink(sink))
	}

	updates := make(runner.StatsUpdateChan, 100)
	r, err := runner.NewRunner(cfg, updates, runOpts...)
	if err != nil {
		if sink != nil {
			sink.Close()
		}
		return report.Summary{}, err
	}

	if !opts.TUI {
		printHeader(opts.Out, r)
	}

	started := time.Now()
	snapDone := make(chan struct{})
	var summary report.Summary

	go func() {
		snap := r.Run(ctx)
		summary = report.Build(r.ID, r.Cfg, started, r.Elapsed(), snap, threshold.Evaluate(r.Cfg.Thresholds, snap))
		close(snapDone)
	}()

	if opts.TUI {
		if err := app.Run(r, updates, snapDone); err != nil {
			opts.Log.Warn("dashboard failed", zap.Error(err))
		}
		<-snapDone
	} else {
		monitor(opts.Out, r, updates, snapDone)
	}

	if sink != nil {
		if err := sink.Close(); err != nil {
			return summary, fmt.Errorf("csv output: %w", err)
		}
		opts.Log.Info("results written", zap.String("path", opts.CSVPath))
	}

	report.Render(opts.Out, summary)

	if opts.JSONPath != "" {
		if err := report.WriteJSON(opts.JSONPath, summary); err != nil {
			return summary, fmt.Errorf("json output: %w", err)
		}
		opts.Log.Info("summary written", zap.String("path", opts.JSONPath))
	}

	if opts.Store != nil {
		err := opts.Store.Save(storage.HistoryItem{
			ID:        summary.ID,
			Timestamp: started,
			Config:    r.Cfg,
			Summary:   summary,
		})
		if err != nil {
			opts.Log.Warn("history not saved", zap.Error(err))
		} else {
			opts.Log.Debug("run saved to history", zap.String("id", summary.ID))
		}
	}

	return summary, nil
}

func monitor(w io.Writer, r *runner.Runner, updates runner.StatsUpdateChan, done <-chan struct{}) {
	total := r.Cfg.TotalDuration()
	for {
		select {
		case s := <-updates:
			fmt.Fprint(w, "\r"+progressLine(s, total))
		case <-done:
			// Final update is already queued by Run.
			for len(updates) > 0 {
				s := <-updates
				fmt.Fprint(w, "\r"+progressLine(s, total))
			}
			fmt.Fprintln(w)
			return
		}
	}
}

func progressLine(s runner.StatsSnapshot, total time.Duration) string {
	pct := 1.0
	if total > 0 {
		pct = float64(s.Elapsed) / float64(total)
	}
	if pct > 1.0 {
		pct = 1.0
	}

	if s.State == runner.StateDraining {
		return fmt.Sprintf("%s %3.0f%% | %s | Draining: %d requests in flight...          ",
			progressBar(1.0, 20), pct*100, s.Elapsed.Round(time.Second), s.Inflight)
	}

	stage := "-"
	if s.Stage >= 0 && s.Stages > 0 {
		stage = fmt.Sprintf("%d/%d", s.Stage+1, s.Stages)
	}
	return fmt.Sprintf("%s %3.0f%% | %s/%s | VUs: %3d | Stage: %s | OK: %d | 429: %d | Unexp: %d | Checks ✗: %d | p95: %.1fms",
		progressBar(pct, 20), pct*100,
		s.Elapsed.Round(time.Second), total,
		s.VUs, stage,
		s.Allowed, s.Blocked, s.Unexpected, s.CheckFails,
		s.P95Ms,
	)
}

func printHeader(w io.Writer, r *runner.Runner) {
	cfg := r.Cfg
	stages := make([]string, len(cfg.Stages))
	for i, st := range cfg.Stages {
		stages[i] = fmt.Sprintf("%s→%d", st.Duration, st.Target)
	}

	fmt.Fprintf(w, "\n🚦 %s\n", styles.Active.Render("STARTING RATE LIMIT PROBE"))
	fmt.Fprintf(w, "======================================================================\n")
	fmt.Fprintf(w, "Run ID     : %s\n", r.ID)
	fmt.Fprintf(w, "Target URL : %s %s\n", cfg.Method, cfg.URL)
	fmt.Fprintf(w, "Stages     : %s (%s, start %d VUs)\n", strings.Join(stages, ", "), cfg.Policy, cfg.StartVUs)
	fmt.Fprintf(w, "Think time : %s\n", cfg.ThinkTime)
	fmt.Fprintf(w, "Timeout    : %s\n", cfg.Timeout)
	if len(cfg.Thresholds) > 0 {
		ths := make([]string, len(cfg.Thresholds))
		for i, th := range cfg.Thresholds {
			ths[i] = th.String()
		}
		fmt.Fprintf(w, "Thresholds : %s\n", strings.Join(ths, "; "))
	}
	fmt.Fprintf(w, "======================================================================\n\n")
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}
