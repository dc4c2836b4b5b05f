package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bitechat/internal/domain"
	"bitechat/internal/filter"
	"bitechat/internal/service"
)

// ChatPort is the TUI-facing subset of the chat service.
type ChatPort interface {
	CreateSession() string
	Ask(ctx context.Context, sessionID, question string) (string, error)
	ToggleFilter(sessionID, name string, enabled bool) ([]string, error)
	Filters() []filter.Group
	SampleQuestions() []service.Sample
}

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

// sidebarRow is either a group heading or a checkbox.
type sidebarRow struct {
	heading string
	option  filter.Option
	checked bool
}

func (r sidebarRow) isHeading() bool { return r.heading != "" }

type answerMsg struct {
	answer string
	err    error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	port        ChatPort
	sessionID   string
	turnTimeout time.Duration

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	messages []domain.Message
	samples  []service.Sample
	rows     []sidebarRow
	cursor   int
	focus    focus
	pending  bool
	started  bool
	status   string
	ready    bool
	width    int
}

// New creates the chat model and opens a session.
func New(port ChatPort, turnTimeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Seeking any food suggestion?"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	var rows []sidebarRow
	for _, g := range port.Filters() {
		rows = append(rows, sidebarRow{heading: g.Name})
		for _, o := range g.Options {
			rows = append(rows, sidebarRow{option: o})
		}
	}
	m := Model{
		port:        port,
		sessionID:   port.CreateSession(),
		turnTimeout: turnTimeout,
		input:       ti,
		viewport:    viewport.New(0, 0),
		spinner:     sp,
		samples:     port.SampleQuestions(),
		rows:        rows,
		status:      "Tab switches to filters. F1-F4 ask a sample question.",
	}
	m.cursor = m.nextOption(-1, 1)
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, bh := transcriptStyle.GetFrameSize()
		_, qh := inputStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input line, spacer
		m.viewport.Width = max(20, msg.Width-sidebarWidth-4)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.pending = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.messages = append(m.messages, domain.Message{Role: domain.RoleAssistant, Content: msg.answer})
			m.status = "Ready."
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyTab {
			m.switchFocus()
			return m, nil
		}
		if i := sampleIndex(msg.Type); i >= 0 && !m.started && !m.pending && i < len(m.samples) {
			return m.send(m.samples[i].Question)
		}
		if m.focus == focusSidebar {
			return m.updateSidebar(msg), nil
		}
		if msg.Type == tea.KeyEnter {
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending {
				return m, nil
			}
			m.input.Reset()
			return m.send(q)
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) send(question string) (tea.Model, tea.Cmd) {
	m.started = true
	m.pending = true
	m.messages = append(m.messages, domain.Message{Role: domain.RoleUser, Content: question})
	m.status = "Spooning..."
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.askCmd(question))
}

func (m Model) askCmd(question string) tea.Cmd {
	port, id, timeout := m.port, m.sessionID, m.turnTimeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		answer, err := port.Ask(ctx, id, question)
		return answerMsg{answer: answer, err: err}
	}
}

func (m Model) updateSidebar(msg tea.KeyMsg) Model {
	switch msg.String() {
	case "up", "k":
		m.cursor = m.nextOption(m.cursor, -1)
	case "down", "j":
		m.cursor = m.nextOption(m.cursor, 1)
	case " ", "enter":
		row := &m.rows[m.cursor]
		active, err := m.port.ToggleFilter(m.sessionID, row.option.Label, !row.checked)
		if err != nil {
			m.status = "Error: " + err.Error()
			return m
		}
		m.syncChecks(active)
		m.status = fmt.Sprintf("%d filter(s) active.", len(active))
	}
	return m
}

func (m *Model) syncChecks(active []string) {
	set := filter.NewSet(active...)
	for i := range m.rows {
		if !m.rows[i].isHeading() {
			m.rows[i].checked = set.Has(m.rows[i].option.Label)
		}
	}
}

// nextOption moves from i in direction dir to the next checkbox row, wrapping.
func (m Model) nextOption(i, dir int) int {
	n := len(m.rows)
	for step := 0; step < n; step++ {
		i = (i + dir + n) % n
		if !m.rows[i].isHeading() {
			return i
		}
	}
	return 0
}

func (m *Model) switchFocus() {
	if m.focus == focusInput {
		m.focus = focusSidebar
		m.input.Blur()
		return
	}
	m.focus = focusInput
	m.input.Focus()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the sidebar, transcript, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("BiteChat")
	transcript := transcriptStyle.Render(m.viewport.View())
	main := lipgloss.JoinVertical(lipgloss.Left, transcript, inputStyle.Render(m.input.View()))
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), main)

	status := statusStyle.Render(m.status)
	if m.pending {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + body + "\n" + status
}

func (m Model) renderSidebar() string {
	var b strings.Builder
	for i, r := range m.rows {
		if r.isHeading() {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(groupStyle.Render(r.heading) + "\n")
			continue
		}
		box := "[ ]"
		if r.checked {
			box = "[x]"
		}
		line := box + " " + r.option.Display
		if m.focus == focusSidebar && i == m.cursor {
			line = cursorStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return sidebarStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderTranscript() string {
	width := max(20, m.viewport.Width-2)
	if !m.started {
		var b strings.Builder
		b.WriteString("How can BiteChat help you today?\n\n")
		for i, s := range m.samples {
			b.WriteString(fmt.Sprintf("F%d  %s\n", i+1, s.Title))
		}
		return b.String()
	}
	var parts []string
	for _, msg := range m.messages {
		who, style := "You", userStyle
		if msg.Role == domain.RoleAssistant {
			who, style = "BiteChat", botStyle
		}
		parts = append(parts, style.Render(who)+"\n"+lipgloss.NewStyle().Width(width).Render(msg.Content))
	}
	return strings.Join(parts, "\n\n")
}

func sampleIndex(k tea.KeyType) int {
	switch k {
	case tea.KeyF1:
		return 0
	case tea.KeyF2:
		return 1
	case tea.KeyF3:
		return 2
	case tea.KeyF4:
		return 3
	}
	return -1
}

const sidebarWidth = 28

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sidebarStyle    = lipgloss.NewStyle().Width(sidebarWidth).Padding(0, 1)
	groupStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cursorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	botStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
