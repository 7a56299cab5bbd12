// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/downlink-systems/downlink/telemetry"
)

// keyMap defines the key bindings for the watch UI.
type keyMap struct {
	Up          key.Binding
	Down        key.Binding
	Filter      key.Binding
	ClearFilter key.Binding
	Quit        key.Binding
}

var defaultKeyMap = keyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	Filter: key.NewBinding(
		key.WithKeys("/", "f"),
		key.WithHelp("/", "filter streamer"),
	),
	ClearFilter: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear filter"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// refreshMsg signals that the client's projection or status changed.
type refreshMsg struct{}

// tickMsg drives the elapsed-time column once a second.
type tickMsg time.Time

// model is the bubbletea model for the watch UI.
type model struct {
	client *telemetry.Client
	theme  Theme
	keys   keyMap

	width  int
	height int

	downloads []telemetry.Download
	status    telemetry.Status
	selected  int

	filtering   bool
	filterInput textinput.Model
	filter      string
}

// newModelWithFilter builds the model with an already-applied filter
// so the header reflects it from the first frame.
func newModelWithFilter(client *telemetry.Client, filter string) model {
	input := textinput.New()
	input.Prompt = "streamer: "
	input.CharLimit = 64

	return model{
		client:      client,
		theme:       DefaultTheme,
		keys:        defaultKeyMap,
		status:      client.Status(),
		filter:      filter,
		filterInput: input,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), tick())
}

// waitForChange blocks on the client's change channel and wakes the
// UI. Re-issued after every refresh.
func (m model) waitForChange() tea.Cmd {
	changed := m.client.Changed()
	return func() tea.Msg {
		<-changed
		return refreshMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshMsg:
		m.reload()
		return m, m.waitForChange()

	case tickMsg:
		m.reload()
		return m, tick()

	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilterInput(msg)
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.downloads)-1 {
				m.selected++
			}
			return m, nil
		case key.Matches(msg, m.keys.Filter):
			m.filtering = true
			m.filterInput.SetValue(m.filter)
			m.filterInput.Focus()
			return m, textinput.Blink
		case key.Matches(msg, m.keys.ClearFilter):
			m.filter = ""
			m.client.SetFilter("")
			return m, nil
		}
	}
	return m, nil
}

// updateFilterInput handles keys while the filter prompt is open.
func (m model) updateFilterInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.filter = strings.TrimSpace(m.filterInput.Value())
		m.filtering = false
		m.filterInput.Blur()
		m.client.SetFilter(m.filter)
		return m, nil
	case tea.KeyEsc:
		m.filtering = false
		m.filterInput.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	return m, cmd
}

// reload pulls the current projection and status from the client.
func (m *model) reload() {
	m.downloads = m.client.Active()
	m.status = m.client.Status()
	if m.selected >= len(m.downloads) {
		m.selected = max(0, len(m.downloads)-1)
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(m.headerView())
	b.WriteString("\n\n")
	b.WriteString(m.tableView())
	b.WriteString("\n")
	b.WriteString(m.footerView())

	return b.String()
}

func (m model) headerView() string {
	titleStyle := lipgloss.NewStyle().
		Foreground(m.theme.HeaderForeground).
		Bold(true)
	statusStyle := lipgloss.NewStyle().
		Foreground(m.theme.StatusColor(m.status))

	header := titleStyle.Render("downlink") + "  " +
		statusStyle.Render("● "+string(m.status))

	if m.filtering {
		promptStyle := lipgloss.NewStyle().Foreground(m.theme.FilterActive)
		return header + "  " + promptStyle.Render(m.filterInput.View())
	}
	if m.filter != "" {
		filterStyle := lipgloss.NewStyle().Foreground(m.theme.FilterActive)
		return header + "  " + filterStyle.Render("filter: "+m.filter)
	}
	return header
}

func (m model) tableView() string {
	headerStyle := lipgloss.NewStyle().
		Foreground(m.theme.FaintText).
		Bold(true)
	normalStyle := lipgloss.NewStyle().Foreground(m.theme.NormalText)
	faintStyle := lipgloss.NewStyle().Foreground(m.theme.FaintText)

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf(
		"  %-20s %-12s %-12s %12s %12s %10s %9s",
		"STREAMER", "ENGINE", "STATE", "SPEED", "DOWNLOADED", "SEGMENTS", "ELAPSED",
	)))
	b.WriteString("\n")

	if len(m.downloads) == 0 {
		b.WriteString(faintStyle.Render("  no active downloads"))
		b.WriteString("\n")
		return b.String()
	}

	now := time.Now()
	for i, download := range m.downloads {
		stateStyle := lipgloss.NewStyle().
			Foreground(m.theme.StateColor(download.State))

		cursor := "  "
		if i == m.selected {
			cursor = "> "
		}

		row := fmt.Sprintf(
			"%-20s %-12s %s %12s %12s %10d %9s",
			truncate(download.StreamerID, 20),
			truncate(download.Engine, 12),
			stateStyle.Render(fmt.Sprintf("%-12s", download.State)),
			formatSpeed(download.Metrics.SpeedBytesPerSec),
			formatBytes(download.Metrics.BytesDownloaded),
			download.Metrics.SegmentsCompleted,
			formatElapsed(now.Sub(download.Started())),
		)
		b.WriteString(cursor + normalStyle.Render(row))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) footerView() string {
	helpStyle := lipgloss.NewStyle().Foreground(m.theme.HelpText)
	bindings := []key.Binding{
		m.keys.Up, m.keys.Down, m.keys.Filter, m.keys.ClearFilter, m.keys.Quit,
	}
	parts := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return helpStyle.Render(strings.Join(parts, "  ·  "))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 1 {
		return s[:limit]
	}
	return s[:limit-1] + "…"
}
