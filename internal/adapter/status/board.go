// Package status keeps the short list of user-facing status lines.
package status

import (
	"strings"
	"sync"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"
)

// Board is a bounded, append-only list of status lines. The oldest line is
// dropped once the limit is reached.
type Board struct {
	limit   int
	fileMgr port.FileManager
	mirror  string

	mu    sync.Mutex
	lines []string
}

// Ensure Board implements the StatusSink port
var _ port.StatusSink = (*Board)(nil)

// NewBoard creates a board holding at most limit lines. When mirror is set,
// every update rewrites that file with the current lines so an external
// display process can show them.
func NewBoard(limit int, fileMgr port.FileManager, mirror string) *Board {
	if limit < 1 {
		limit = 1
	}
	return &Board{
		limit:   limit,
		fileMgr: fileMgr,
		mirror:  mirror,
	}
}

// Push appends line.
func (b *Board) Push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	if len(b.lines) > b.limit {
		b.lines = append(b.lines[:0], b.lines[len(b.lines)-b.limit:]...)
	}

	logging.WithComponent("status").Info(line)
	b.mirrorLocked()
}

// Lines returns a copy of the current lines, oldest first.
func (b *Board) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Reset empties the board, as a restart would.
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
	b.mirrorLocked()
}

func (b *Board) mirrorLocked() {
	if b.mirror == "" || b.fileMgr == nil {
		return
	}
	var content string
	if len(b.lines) > 0 {
		content = strings.Join(b.lines, "\n") + "\n"
	}
	if err := b.fileMgr.WriteFile(b.mirror, []byte(content), 0o644); err != nil {
		logging.WithComponent("status").WithError(err).Warn("Failed to mirror status")
	}
}
