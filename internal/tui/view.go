package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chime-im/chime/internal/dispatch"
)

var (
	colorAccent = lipgloss.Color("12")
	colorMuted  = lipgloss.Color("8")
	colorAlert  = lipgloss.Color("11")

	styleCurrentRoom = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleUnread      = lipgloss.NewStyle().Foreground(colorAlert)
	styleSelected    = lipgloss.NewStyle().Reverse(true)
	styleMuted       = lipgloss.NewStyle().Foreground(colorMuted)
	styleSender      = lipgloss.NewStyle().Bold(true)
	styleRoomStrip   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderRight(true)
	styleInputBar    = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true)
)

func (m *Model) View() string {
	if !m.haveSnapshot || len(m.snapshot.Rooms) == 0 {
		return m.spinner.View() + " connecting..."
	}

	strip := m.renderRoomStrip()
	input := m.renderInputBar()
	timelineHeight := m.height - lipgloss.Height(input)
	if timelineHeight < 1 {
		timelineHeight = 1
	}
	timeline := m.renderTimeline(timelineHeight)

	body := lipgloss.JoinHorizontal(lipgloss.Top, strip, timeline)
	return lipgloss.JoinVertical(lipgloss.Left, body, input)
}

func (m *Model) renderRoomStrip() string {
	var lines []string
	for _, room := range m.snapshot.Rooms {
		name := truncate(room.Name, m.stripWidth-6)
		line := name
		if room.Unread > 0 {
			line += styleUnread.Render(fmt.Sprintf(" (%d)", room.Unread))
		}
		if room.Current {
			line = styleCurrentRoom.Render("> ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return styleRoomStrip.Width(m.stripWidth).Render(strings.Join(lines, "\n"))
}

func (m *Model) renderTimeline(height int) string {
	var lines []string
	if m.snapshot.MoreHistory {
		lines = append(lines, styleMuted.Render("-- more history --"))
	}
	for _, entry := range m.snapshot.Timeline {
		lines = append(lines, m.renderEntry(entry))
	}
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderEntry(entry dispatch.TimelineEntry) string {
	body := entry.Body
	if entry.Redacted {
		body = styleMuted.Render("[redacted]")
	}

	line := styleSender.Render(entry.Sender) + " " + body
	if entry.Pending {
		line += styleMuted.Render(" (sending)")
	}
	for _, reaction := range entry.Reactions {
		line += styleMuted.Render(fmt.Sprintf(" [%s %d]", reaction.Key, reaction.Count))
	}
	if entry.Selected {
		return styleSelected.Render(line)
	}
	return line
}

func (m *Model) renderInputBar() string {
	var b strings.Builder
	if m.snapshot.Replying {
		b.WriteString(styleMuted.Render("replying to selected message") + "\n")
	}
	b.WriteString(m.snapshot.CurrentRoom + " > " + m.snapshot.Input)
	width := m.width
	if width < 1 {
		width = 80
	}
	return styleInputBar.Width(width).Render(b.String())
}

func truncate(s string, max int) string {
	if max < 1 {
		max = 1
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
