// StreamDrive: a text-protocol driver engine for lab and industrial instruments
// Copyright (C) 2026  StreamDrive Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command streammon is a terminal dashboard listing live sessions, their
// state, and last status, polled from a running streamdrv-admind's
// /api/v1/sessions endpoint. Grounded on the teacher's Bubble Tea Model/
// Update/View triad and lipgloss-styled tables (internal/cli/ui/ui.go),
// simplified from that dashboard's many menu views down to one
// continuously refreshing table.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var adminAddr = flag.String("addr", "http://localhost:8089", "base URL of the streamdrv-admind admin API")

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Bold(true).
			Padding(0, 1)

	tableStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF")).
			Padding(0, 1)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

type sessionRow struct {
	ID         string `json:"id"`
	Channel    string `json:"channel"`
	State      string `json:"state"`
	LastStatus string `json:"lastStatus"`
}

type sessionsMsg struct {
	rows []sessionRow
	err  error
}

type model struct {
	addr     string
	rows     []sessionRow
	lastErr  error
	fetchedAt time.Time
}

func fetchSessions(addr string) tea.Cmd {
	return func() tea.Msg {
		resp, err := http.Get(addr + "/api/v1/sessions")
		if err != nil {
			return sessionsMsg{err: err}
		}
		defer resp.Body.Close()
		var body struct {
			Sessions []sessionRow `json:"sessions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return sessionsMsg{err: err}
		}
		return sessionsMsg{rows: body.Sessions}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return t })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchSessions(m.addr), tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		}
		if msg.String() == "q" {
			return m, tea.Quit
		}
	case sessionsMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.rows = msg.rows
			m.fetchedAt = time.Now()
		}
		return m, nil
	case time.Time:
		return m, tea.Batch(fetchSessions(m.addr), tick())
	}
	return m, nil
}

func (m model) View() string {
	header := headerStyle.Render(fmt.Sprintf("streammon — %s", m.addr))
	if m.lastErr != nil {
		return header + "\n" + errStyle.Render(fmt.Sprintf("poll failed: %v", m.lastErr)) + "\n" + helpStyle.Render("q to quit")
	}

	body := fmt.Sprintf("%-36s %-16s %-12s %-14s\n", "SESSION", "CHANNEL", "STATE", "LAST STATUS")
	for _, r := range m.rows {
		body += fmt.Sprintf("%-36s %-16s %-12s %s\n", r.ID, r.Channel, r.State, statusStyled(r.LastStatus))
	}
	if len(m.rows) == 0 {
		body += "(no sessions)\n"
	}

	return header + "\n" + tableStyle.Render(body) + "\n" + helpStyle.Render(fmt.Sprintf("updated %s — q to quit", m.fetchedAt.Format(time.TimeOnly)))
}

func statusStyled(status string) string {
	switch status {
	case "Success":
		return okStyle.Render(status)
	case "Abort", "Fault", "FormatError", "ScanError":
		return errStyle.Render(status)
	default:
		return warnStyle.Render(status)
	}
}

func main() {
	flag.Parse()
	p := tea.NewProgram(model{addr: *adminAddr})
	if _, err := p.Run(); err != nil {
		fmt.Println("streammon:", err)
	}
}
