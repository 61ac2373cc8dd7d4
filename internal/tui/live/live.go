package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ratecheck/internal/runner"
	"ratecheck/internal/tui/components"
	"ratecheck/internal/tui/styles"
)

type Model struct {
	Stats    runner.StatsSnapshot
	Progress progress.Model

	RpsLine     components.Sparkline
	LatencyLine components.Sparkline

	Duration    time.Duration
	LastElapsed time.Duration
	LastReqs    uint64
	RPS         float64

	Width  int
	Height int
}

func NewModel(totalDur time.Duration) Model {
	return Model{
		Progress:    progress.New(progress.WithDefaultGradient()),
		RpsLine:     components.NewSparkline(40, "RPS", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P95 (ms)", styles.Warn),
		Duration:    totalDur,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.StatsSnapshot:
		// Rate over the runner's clock, not ours; updates may be dropped.
		dt := (msg.Elapsed - m.LastElapsed).Seconds()
		if dt >= 0.01 && msg.Requests >= m.LastReqs {
			m.RPS = float64(msg.Requests-m.LastReqs) / dt
		}
		m.RpsLine.Add(m.RPS)
		m.LatencyLine.Add(msg.P95Ms)

		m.Stats = msg
		m.LastReqs = msg.Requests
		m.LastElapsed = msg.Elapsed

		pct := 1.0
		if m.Duration > 0 {
			pct = float64(msg.Elapsed) / float64(m.Duration)
		}
		if pct > 1.0 {
			pct = 1.0
		}
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 8

		half := (msg.Width / 2) - 8
		if half < 10 {
			half = 10
		}
		m.RpsLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func share(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func (m Model) View() string {
	s := strings.Builder{}
	st := m.Stats

	stage := "-"
	if st.Stage >= 0 && st.Stages > 0 {
		stage = fmt.Sprintf("%d/%d", st.Stage+1, st.Stages)
	}

	unexpStyle := styles.Active
	if st.Unexpected > 0 {
		unexpStyle = styles.Error
	}
	checkStyle := styles.Active
	if st.CheckFails > 0 {
		checkStyle = styles.Warn
	}
	thStyle := styles.Success
	if st.ThresholdsFailing > 0 {
		thStyle = styles.Error
	}

	col1 := fmt.Sprintf("VUs: %d\nSTAGE: %s\nINF: %d", st.VUs, stage, st.Inflight)
	col2 := fmt.Sprintf("REQ: %d\n%s\n%s",
		st.Requests,
		styles.Success.Render(fmt.Sprintf("200: %d (%.1f%%)", st.Allowed, share(st.Allowed, st.Requests))),
		styles.Warn.Render(fmt.Sprintf("429: %d (%.1f%%)", st.Blocked, share(st.Blocked, st.Requests))),
	)
	col3 := fmt.Sprintf("%s\n%s\n%s",
		unexpStyle.Render(fmt.Sprintf("UNEXP: %d", st.Unexpected)),
		checkStyle.Render(fmt.Sprintf("CHECKS ✗: %d", st.CheckFails)),
		thStyle.Render(fmt.Sprintf("THRESH ✗: %d", st.ThresholdsFailing)),
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf(
		"P50: %.2f ms  |  P95: %.2f ms  |  P99: %.2f ms  |  Max: %.2f ms",
		st.P50Ms, st.P95Ms, st.P99Ms, st.MaxMs,
	)
	width := m.Width - 8
	if width < 20 {
		width = 20
	}
	s.WriteString(styles.Box.Width(width).Render(latencies))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("  %s / %s", st.Elapsed.Round(time.Second), m.Duration)))

	return s.String()
}
