// Package tui renders the live chain view of the watch command.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/bridgewall/internal/firewall"
)

// Inspector reports the chains installed for an interface.
type Inspector interface {
	Inspect(ifname string) []firewall.ChainSet
}

type snapshotMsg struct {
	sets map[string][]firewall.ChainSet
	at   time.Time
}

type tickMsg time.Time

// Model polls the inspector and shows each interface's generations.
type Model struct {
	inspector Inspector
	ifnames   []string
	interval  time.Duration

	sets    map[string][]firewall.ChainSet
	updated time.Time
	loading bool
	spinner spinner.Model
	width   int
}

// NewModel watches ifnames, refreshing every interval.
func NewModel(inspector Inspector, ifnames []string, interval time.Duration) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorAccent)
	return Model{
		inspector: inspector,
		ifnames:   ifnames,
		interval:  interval,
		loading:   true,
		spinner:   s,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.snapshot())
}

func (m Model) snapshot() tea.Cmd {
	return func() tea.Msg {
		sets := make(map[string][]firewall.ChainSet, len(m.ifnames))
		for _, ifname := range m.ifnames {
			sets[ifname] = m.inspector.Inspect(ifname)
		}
		return snapshotMsg{sets: sets, at: time.Now()}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.snapshot()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case snapshotMsg:
		m.sets = msg.sets
		m.updated = msg.at
		m.loading = false
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
	case tickMsg:
		m.loading = true
		return m, m.snapshot()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	header := "bridgewall watch"
	if m.loading {
		header += " " + m.spinner.View()
	}
	b.WriteString(StyleHeader.Render(header))
	b.WriteString("\n")

	for _, ifname := range m.ifnames {
		b.WriteString(StyleCard.Render(m.renderInterface(ifname)))
		b.WriteString("\n")
	}

	footer := "q quit  r refresh"
	if !m.updated.IsZero() {
		footer = fmt.Sprintf("updated %s  %s", m.updated.Format(time.TimeOnly), footer)
	}
	b.WriteString(StyleMuted.Render(footer))
	return b.String()
}

func (m Model) renderInterface(ifname string) string {
	lines := []string{StyleTitle.Render(ifname)}
	sets, seen := m.sets[ifname]
	switch {
	case !seen:
		lines = append(lines, StyleMuted.Render("waiting for first listing"))
	case len(sets) == 0:
		lines = append(lines, StyleMuted.Render("no chains installed"))
	}
	for _, set := range sets {
		gen := StyleStatusGood.Render(set.Generation.String())
		if set.Generation == firewall.GenTemp {
			gen = StyleStatusWarn.Render(set.Generation.String())
		}
		lines = append(lines, Row(set.Layer.String(), gen+" "+strings.Join(set.Chains, " ")))
	}
	return strings.Join(lines, "\n")
}
