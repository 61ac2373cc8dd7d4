package history

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecheck/internal/report"
	"ratecheck/internal/runner"
	"ratecheck/internal/storage"
)

func TestModel(t *testing.T) {
	items := []storage.HistoryItem{{
		ID:        "0123456789",
		Timestamp: time.Now(),
		Config:    runner.Config{URL: "http://a"},
		Summary:   report.Summary{ID: "0123456789", Requests: 3, Allowed: 2, Blocked: 1, Passed: true},
	}}
	m := NewModel(items)
	require.Len(t, m.Table.Rows(), 1)
	assert.Equal(t, "01234567", m.Table.Rows()[0][1])
	assert.Equal(t, "pass", m.Table.Rows()[0][7])

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	hm := next.(Model)
	assert.Contains(t, hm.Detail, "OUTCOMES")

	next, _ = hm.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Empty(t, next.(Model).Detail)
}

func TestModel_Empty(t *testing.T) {
	assert.Contains(t, NewModel(nil).View(), "No runs recorded yet")
}
