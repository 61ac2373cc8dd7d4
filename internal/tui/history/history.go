package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ratecheck/internal/report"
	"ratecheck/internal/storage"
	"ratecheck/internal/tui/styles"
)

// Model browses stored runs; enter opens the full report.
type Model struct {
	Items  []storage.HistoryItem
	Table  table.Model
	Detail string

	Width  int
	Height int
}

func verdict(s report.Summary) string {
	if s.Passed {
		return "pass"
	}
	return "FAIL"
}

func NewModel(items []storage.HistoryItem) Model {
	columns := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "ID", Width: 10},
		{Title: "URL", Width: 30},
		{Title: "Reqs", Width: 8},
		{Title: "200", Width: 8},
		{Title: "429", Width: 8},
		{Title: "Unexp", Width: 8},
		{Title: "Result", Width: 8},
	}

	rows := make([]table.Row, len(items))
	for i, item := range items {
		s := item.Summary
		id := item.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows[i] = table.Row{
			item.Timestamp.Local().Format(time.DateTime),
			id,
			item.Config.URL,
			fmt.Sprintf("%d", s.Requests),
			fmt.Sprintf("%d", s.Allowed),
			fmt.Sprintf("%d", s.Blocked),
			fmt.Sprintf("%d", s.Unexpected),
			verdict(s),
		}
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	st.Selected = st.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(st)

	return Model{Items: items, Table: t}
}

// Run opens the browser on items.
func Run(items []storage.HistoryItem) error {
	_, err := tea.NewProgram(NewModel(items), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
		if h := msg.Height - 6; h > 3 {
			m.Table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.Detail = ""
			return m, nil
		case "enter":
			if i := m.Table.Cursor(); i >= 0 && i < len(m.Items) {
				var b strings.Builder
				report.Render(&b, m.Items[i].Summary)
				m.Detail = b.String()
			}
			return m, nil
		}
	}

	if m.Detail != "" {
		return m, nil
	}
	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	keys := []string{styles.RenderKey("↑/↓", "Select"), styles.RenderKey("Enter", "Report"), styles.RenderKey("Esc", "Back"), styles.RenderKey("q", "Quit")}
	footer := styles.FooterBase.Render(strings.Join(keys, "   "))

	if m.Detail != "" {
		return lipgloss.JoinVertical(lipgloss.Left, m.Detail, footer)
	}
	if len(m.Items) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, styles.Subtle.Render("No runs recorded yet."), footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, styles.Box.Render(m.Table.View()), footer)
}
