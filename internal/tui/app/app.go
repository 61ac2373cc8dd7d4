package app

import (
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ratecheck/internal/runner"
	"ratecheck/internal/tui/live"
	"ratecheck/internal/tui/styles"
)

type StatsMsg runner.StatsSnapshot

type doneMsg struct{}

// Stopper ends a run early without interrupting in-flight requests.
type Stopper interface {
	Stop()
}

type Model struct {
	Runner  Stopper
	Updates runner.StatsUpdateChan
	Done    <-chan struct{}
	Target  string

	Live     live.Model
	Stopping bool
	Finished bool

	Width  int
	Height int
}

func NewModel(r *runner.Runner, updates runner.StatsUpdateChan, done <-chan struct{}) Model {
	return Model{
		Runner:  r,
		Updates: updates,
		Done:    done,
		Target:  r.Cfg.Method + " " + r.Cfg.URL,
		Live:    live.NewModel(r.Cfg.TotalDuration()),
	}
}

// Run shows the dashboard until the run finishes.
func Run(r *runner.Runner, updates runner.StatsUpdateChan, done <-chan struct{}) error {
	p := tea.NewProgram(NewModel(r, updates, done), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForUpdate(m.Updates, m.Done),
		waitForDone(m.Done),
	)
}

// waitForUpdate yields the next snapshot, or nothing once the run is done.
func waitForUpdate(sub runner.StatsUpdateChan, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-sub:
			return StatsMsg(s)
		case <-done:
			return nil
		}
	}
}

func waitForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.Stopping {
				m.Stopping = true
				m.Runner.Stop()
			}
		}
		return m, nil

	case StatsMsg:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(runner.StatsSnapshot(msg))
		return m, tea.Batch(cmd, waitForUpdate(m.Updates, m.Done))

	case doneMsg:
		m.Finished = true
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.Width == 0 {
		return "Loading..."
	}

	title := styles.Title.Render("ratecheck") + " " + styles.Subtle.Render(m.Target)

	status := styles.Active.Render(m.Live.Stats.State.String())
	if m.Stopping && !m.Finished {
		status = styles.Warn.Render("stopping: waiting for in-flight requests")
	}

	keys := []string{styles.RenderKey("q", "Stop")}
	footer := styles.FooterBase.Width(m.Width).Render(strings.Join(keys, "   ") + "   " + status)

	content := styles.Panel.Width(m.Width - 2).Render(m.Live.View())
	return lipgloss.JoinVertical(lipgloss.Left, title, content, footer)
}
