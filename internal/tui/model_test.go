package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitechat/internal/domain"
	"bitechat/internal/filter"
	"bitechat/internal/service"
)

type fakePort struct {
	filters *filter.Set
	asked   []string
	answer  string
}

func newFakePort() *fakePort { return &fakePort{filters: filter.NewSet(), answer: "Try Cafe Flora."} }

func (f *fakePort) CreateSession() string { return "s1" }

func (f *fakePort) Ask(_ context.Context, _ string, q string) (string, error) {
	f.asked = append(f.asked, filter.ComposeTurn(q, f.filters))
	return f.answer, nil
}

func (f *fakePort) ToggleFilter(_ string, name string, enabled bool) ([]string, error) {
	label, _ := filter.Resolve(name)
	f.filters.Toggle(label, enabled)
	return f.filters.Labels(), nil
}

func (f *fakePort) Filters() []filter.Group { return filter.Catalog() }

func (f *fakePort) SampleQuestions() []service.Sample {
	return []service.Sample{{Title: "Date night", Question: "A date spot near University of Washington"}}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func sized(t *testing.T, port ChatPort) Model {
	t.Helper()
	m, _ := update(t, New(port, time.Second), tea.WindowSizeMsg{Width: 120, Height: 40})
	return m
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func TestAskFlow(t *testing.T) {
	port := newFakePort()
	m := sized(t, port)
	assert.Contains(t, m.View(), "Date night")

	m = typeText(t, m, "brunch in Seattle")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.pending)
	assert.Empty(t, m.input.Value())
	assert.Equal(t, []domain.Message{{Role: domain.RoleUser, Content: "brunch in Seattle"}}, m.messages)

	msg := m.askCmd("brunch in Seattle")()
	m, _ = update(t, m, msg)
	assert.False(t, m.pending)
	require.Len(t, m.messages, 2)
	assert.Equal(t, "Try Cafe Flora.", m.messages[1].Content)
	assert.Contains(t, m.View(), "Try Cafe Flora.")
}

func TestEnterIgnoredWhileWaiting(t *testing.T) {
	m := sized(t, newFakePort())
	m = typeText(t, m, "pho")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = typeText(t, m, "ramen")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Len(t, m.messages, 1)
}

func TestSampleQuestionKey(t *testing.T) {
	port := newFakePort()
	m := sized(t, port)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyF1})
	require.NotNil(t, cmd)
	assert.True(t, m.started)
	assert.Equal(t, "A date spot near University of Washington", m.messages[0].Content)

	// samples are only offered before the first question
	m, _ = update(t, m, answerMsg{answer: "ok"})
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyF1})
	assert.Nil(t, cmd)
}

func TestSidebarToggles(t *testing.T) {
	port := newFakePort()
	m := sized(t, port)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusSidebar, m.focus)
	assert.Equal(t, "-$ Inexpensive", m.rows[m.cursor].option.Display)

	// move past the price group to the first dining option
	for i := 0; i < 3; i++ {
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	}
	assert.Equal(t, "Dine-in", m.rows[m.cursor].option.Display)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.True(t, m.rows[m.cursor].checked)
	assert.Equal(t, []string{"Dine-in"}, port.filters.Labels())
	assert.Contains(t, m.View(), "[x] Dine-in")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.False(t, m.rows[m.cursor].checked)
	assert.Equal(t, 0, port.filters.Len())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, "Parking", m.rows[m.cursor].option.Display)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusInput, m.focus)
}

func TestQuitKeys(t *testing.T) {
	m := sized(t, newFakePort())
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
