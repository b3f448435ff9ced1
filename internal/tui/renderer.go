package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chime-im/chime/internal/dispatch"
)

// ProgramRenderer forwards dispatcher snapshots into a running bubbletea
// program. Send is safe from any goroutine, so the dispatcher never blocks
// on the terminal.
//
// The renderer is handed to the dispatcher before the program exists, then
// attached once the program is built. Snapshots arriving earlier are
// dropped; the periodic tick produces a fresh one shortly after startup.
type ProgramRenderer struct {
	mu      sync.Mutex
	program *tea.Program
}

// Attach binds the renderer to a program. Call before the dispatcher starts.
func (r *ProgramRenderer) Attach(program *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.program = program
}

// Render implements dispatch.Renderer.
func (r *ProgramRenderer) Render(s dispatch.Snapshot) {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()
	if program == nil {
		return
	}
	program.Send(snapshotMsg{snapshot: s})
}
