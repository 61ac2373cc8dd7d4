package components

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestSparkline(t *testing.T) {
	s := NewSparkline(3, "rps", lipgloss.NewStyle())
	for _, v := range []float64{1, 2, 3, 4} {
		s.Add(v)
	}
	assert.Equal(t, []float64{2, 3, 4}, s.Data)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 4.0, s.Last())
	assert.Contains(t, s.View(), "█")
	assert.Contains(t, s.View(), "rps  4.0")
}

func TestSparkline_NegativeAndEmpty(t *testing.T) {
	s := NewSparkline(5, "p95", lipgloss.NewStyle())
	assert.Zero(t, s.Last())
	s.Add(-3)
	assert.Equal(t, []float64{0}, s.Data)
	assert.Zero(t, s.Max)
}
