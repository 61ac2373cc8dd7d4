package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"ratecheck/internal/threshold"
	"ratecheck/internal/tui/styles"
)

const rule = "======================================================================"

func pct(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *p*100)
}

func statusMark(s threshold.Status) string {
	switch s {
	case threshold.StatusPass:
		return styles.Success.Render("✓ pass")
	case threshold.StatusFail:
		return styles.Error.Render("✗ fail")
	default:
		return styles.Warn.Render("? indeterminate")
	}
}

// Render writes the human-readable report. Outcome counts, check failures
// and thresholds are separate sections.
func Render(w io.Writer, s Summary) {
	fmt.Fprintf(w, "\n📊 RATE LIMIT PROBE RESULTS  %s\n", styles.Subtle.Render(s.ID))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Target         : %s %s\n", s.Method, s.Target)
	fmt.Fprintf(w, "Started        : %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Duration       : %s\n", s.Elapsed().Round(time.Millisecond))

	fmt.Fprintf(w, "\n🚦 OUTCOMES\n")
	fmt.Fprintf(w, "   Requests    : %d (%.2f/s)\n", s.Requests, s.RPS)
	fmt.Fprintf(w, "   Allowed     : %s (%s)\n", styles.Success.Render(fmt.Sprint(s.Allowed)), pct(s.SuccessRate))
	fmt.Fprintf(w, "   Blocked     : %s (%s)\n", styles.Warn.Render(fmt.Sprint(s.Blocked)), pct(s.BlockedRate))
	fmt.Fprintf(w, "   Unexpected  : %s", styles.Error.Render(fmt.Sprint(s.Unexpected)))
	if s.NetworkErrors > 0 {
		fmt.Fprintf(w, " (%d network errors)", s.NetworkErrors)
	}
	fmt.Fprintln(w)
	if s.Skipped > 0 {
		fmt.Fprintf(w, "   Not sent    : %s (request could not be built)\n", styles.Warn.Render(fmt.Sprint(s.Skipped)))
	}

	fmt.Fprintf(w, "\n🔎 CHECKS (%d failed assertions)\n", s.AssertionFailures)
	for _, c := range s.Checks {
		mark := styles.Success.Render("✓")
		if c.Fails > 0 {
			mark = styles.Error.Render("✗")
		}
		fmt.Fprintf(w, "   %s %-36s %d passed, %d failed\n", mark, c.Name, c.Passes, c.Fails)
	}

	fmt.Fprintf(w, "\n⏱️  LATENCY (ms, %d samples)\n", s.Latency.Samples)
	if s.Latency.Samples == 0 {
		fmt.Fprintln(w, "   no samples")
	} else {
		l := s.Latency
		fmt.Fprintf(w, "   avg %.2f  min %.2f  med %.2f  max %.2f\n", l.AvgMs, l.MinMs, l.MedMs, l.MaxMs)
		fmt.Fprintf(w, "   p90 %.2f  p95 %.2f  p99 %.2f\n", l.P90Ms, l.P95Ms, l.P99Ms)
	}

	fmt.Fprintf(w, "\n🎯 THRESHOLDS\n")
	if len(s.Thresholds) == 0 {
		fmt.Fprintln(w, "   none configured")
	}
	for _, t := range s.Thresholds {
		name := fmt.Sprintf("%s %s", t.Metric, t.Expr)
		value := "n/a"
		if t.Status != threshold.StatusIndeterminate {
			value = fmt.Sprintf("%.3f", t.Value)
		}
		fmt.Fprintf(w, "   %-40s %-10s %s\n", name, value, statusMark(t.Status))
	}

	fmt.Fprintln(w, rule)
	if s.Passed {
		fmt.Fprintln(w, styles.Success.Render("PASS")+" all thresholds met")
	} else {
		fmt.Fprintln(w, styles.Error.Render("FAIL")+" "+strings.TrimSpace(failingList(s)))
	}
}

func failingList(s Summary) string {
	var names []string
	for _, t := range s.Thresholds {
		if t.Status != threshold.StatusPass {
			names = append(names, t.Metric+" "+t.Expr)
		}
	}
	return "thresholds not met: " + strings.Join(names, ", ")
}
