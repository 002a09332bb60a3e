// Package tui renders a live view of a session's event feed. It is a
// consumer of the event log's cursor interface: the model remembers the last
// sequence it has seen and only asks for newer events.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lit-agent/internal/research"
)

const pollInterval = 500 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	seqStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	kindStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

type Model struct {
	events    *research.EventLog
	sessionID string

	cursor int64
	lines  []string
	done   bool
	err    error
	spin   spinner.Model
	height int
}

func NewModel(events *research.EventLog, sessionID string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{events: events, sessionID: sessionID, spin: sp, height: 24}
}

type pollMsg struct {
	events []research.Event
	err    error
}

func (m Model) poll() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		evs, err := m.events.EventsSince(m.sessionID, m.cursor)
		return pollMsg{events: evs, err: err}
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.height = msg.Height
	case pollMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		for _, ev := range msg.events {
			m.cursor = ev.Seq
			m.lines = append(m.lines, renderEvent(ev))
			if ev.Type == research.EventSessionCompleted {
				m.done = true
			}
		}
		if m.done {
			return m, tea.Quit
		}
		return m, m.poll()
	}
	var cmd tea.Cmd
	m.spin, cmd = m.spin.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("session "+m.sessionID) + "\n\n")

	visible := m.lines
	if max := m.height - 5; max > 0 && len(visible) > max {
		visible = visible[len(visible)-max:]
	}
	for _, line := range visible {
		b.WriteString(line + "\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render("watch error: "+m.err.Error()) + "\n")
	} else if !m.done {
		b.WriteString("\n" + m.spin.View() + helpStyle.Render(" following; q to quit"))
	}
	return b.String()
}

func renderEvent(ev research.Event) string {
	kind := kindStyle
	if ev.Type == research.EventError {
		kind = errStyle
	}
	detail := ""
	if len(ev.Payload) > 0 {
		keys := make([]string, 0, len(ev.Payload))
		for k := range ev.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Payload[k]))
		}
		detail = " " + strings.Join(parts, " ")
	}
	return fmt.Sprintf("%s %s%s",
		seqStyle.Render(fmt.Sprintf("%5d", ev.Seq)),
		kind.Render(string(ev.Type)),
		detail,
	)
}

// Run blocks until the feed ends or the user quits.
func Run(events *research.EventLog, sessionID string) error {
	_, err := tea.NewProgram(NewModel(events, sessionID)).Run()
	return err
}
