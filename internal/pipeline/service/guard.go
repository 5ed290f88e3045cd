package service

import (
	"sync"

	"github.com/google/uuid"
)

// leadGuard allows one in-flight mutation per lead.
type leadGuard struct {
	mu      sync.Mutex
	running map[uuid.UUID]bool
}

func newLeadGuard() *leadGuard {
	return &leadGuard{running: make(map[uuid.UUID]bool)}
}

// markRunning attempts to mark a lead as busy. Returns false if it already is.
func (g *leadGuard) markRunning(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running[id] {
		return false
	}
	g.running[id] = true
	return true
}

// markComplete removes the busy marker.
func (g *leadGuard) markComplete(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, id)
}
