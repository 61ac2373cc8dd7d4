package app

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"ratecheck/internal/runner"
	"ratecheck/internal/tui/live"
)

type fakeRunner struct{ stops int }

func (f *fakeRunner) Stop() { f.stops++ }

func TestModel_StopIsCooperative(t *testing.T) {
	f := &fakeRunner{}
	m := Model{Runner: f, Updates: make(runner.StatsUpdateChan, 1), Done: make(chan struct{}), Live: live.NewModel(time.Second)}

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, cmd := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd)
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, f.stops)

	am := next.(Model)
	assert.True(t, am.Stopping)
	assert.Contains(t, am.View(), "waiting for in-flight requests")
}

func TestModel_QuitsWhenRunFinishes(t *testing.T) {
	m := Model{Runner: &fakeRunner{}, Live: live.NewModel(time.Second)}
	next, cmd := m.Update(doneMsg{})
	assert.True(t, next.(Model).Finished)
	assert.NotNil(t, cmd)
}

func TestWaitForUpdate_ReturnsOnceRunIsDone(t *testing.T) {
	updates := make(runner.StatsUpdateChan)
	done := make(chan struct{})
	close(done)

	got := make(chan tea.Msg, 1)
	go func() { got <- waitForUpdate(updates, done)() }()

	select {
	case msg := <-got:
		assert.Nil(t, msg)
	case <-time.After(time.Second):
		t.Fatal("waitForUpdate blocked after the run finished")
	}
}

func TestWaitForUpdate_DeliversSnapshot(t *testing.T) {
	updates := make(runner.StatsUpdateChan, 1)
	updates <- runner.StatsSnapshot{Requests: 7}

	msg := waitForUpdate(updates, make(chan struct{}))()
	assert.Equal(t, StatsMsg(runner.StatsSnapshot{Requests: 7}), msg)
}
