// Package tui implements the terminal interface. The model owns no chat
// state of its own: key presses are translated into local events for the
// dispatcher, and the screen is redrawn from the snapshots the dispatcher
// publishes back.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chime-im/chime/internal/dispatch"
	"github.com/chime-im/chime/internal/logging"
)

const defaultTickInterval = time.Second

// snapshotMsg carries a fresh dispatcher snapshot into the update loop.
type snapshotMsg struct {
	snapshot dispatch.Snapshot
}

// tickMsg forces a periodic redraw even when no events arrive.
type tickMsg time.Time

// Config wires the model to a running dispatcher.
type Config struct {
	// Events is the local half of the dispatcher's event pair.
	Events chan<- dispatch.LocalEvent

	// TickInterval defaults to one second.
	TickInterval time.Duration

	// RoomStripWidth is the width of the room list column.
	RoomStripWidth int

	// ShowTimestamps adds message timestamps to the timeline.
	ShowTimestamps bool
}

// Model is the bubbletea model for the chat screen.
type Model struct {
	events         chan<- dispatch.LocalEvent
	tickInterval   time.Duration
	stripWidth     int
	showTimestamps bool

	snapshot     dispatch.Snapshot
	haveSnapshot bool

	spinner spinner.Model
	width   int
	height  int
}

// NewModel creates the chat model.
func NewModel(cfg Config) *Model {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.RoomStripWidth <= 0 {
		cfg.RoomStripWidth = 25
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	return &Model{
		events:         cfg.Events,
		tickInterval:   cfg.TickInterval,
		stripWidth:     cfg.RoomStripWidth,
		showTimestamps: cfg.ShowTimestamps,
		spinner:        sp,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.scheduleTick())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case snapshotMsg:
		m.snapshot = typed.snapshot
		m.haveSnapshot = true
		return m, nil
	case tickMsg:
		m.emit(dispatch.Tick{})
		return m, m.scheduleTick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.emit(dispatch.Resize{Width: typed.Width, Height: typed.Height})
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		m.emit(dispatch.Quit{})
		return m, tea.Quit
	case "enter":
		m.emit(dispatch.Submit{})
		return m, nil
	case "backspace":
		m.emit(dispatch.InputBackspace{})
		return m, nil
	case "ctrl+u":
		m.emit(dispatch.InputClear{})
		return m, nil
	case "ctrl+n":
		m.emit(dispatch.CycleRoom{Delta: 1})
		return m, nil
	case "ctrl+p":
		m.emit(dispatch.CycleRoom{Delta: -1})
		return m, nil
	case "up":
		m.emit(dispatch.MoveSelection{Delta: -1})
		return m, nil
	case "down":
		m.emit(dispatch.MoveSelection{Delta: 1})
		return m, nil
	case "home":
		m.emit(dispatch.SelectFirst{})
		return m, nil
	case "end":
		m.emit(dispatch.SelectLast{})
		return m, nil
	case "ctrl+d":
		m.emit(dispatch.DeleteSelected{})
		return m, nil
	}

	switch msg.Type {
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			m.emit(dispatch.InputRune{Rune: r})
		}
	case tea.KeySpace:
		m.emit(dispatch.InputRune{Rune: ' '})
	}
	return m, nil
}

// emit forwards a local event without blocking the render loop. A full
// channel means the dispatcher is badly behind; dropping a key press is
// preferable to freezing the terminal.
func (m *Model) emit(ev dispatch.LocalEvent) {
	select {
	case m.events <- ev:
	default:
		log := logging.Component("tui")
		log.Warn().
			Str("event", typeName(ev)).
			Msg("dropping local event, dispatcher not keeping up")
	}
}

func (m *Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
