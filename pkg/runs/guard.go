package runs

import "sync"

// Guard tracks the runs that currently have a tool episode in flight.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// TryAcquire marks runID as active. It returns false when the run is
// already held.
func (g *Guard) TryAcquire(runID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.active[runID]; held {
		return false
	}
	g.active[runID] = struct{}{}
	return true
}

// Release clears runID.
func (g *Guard) Release(runID string) {
	g.mu.Lock()
	delete(g.active, runID)
	g.mu.Unlock()
}

// Held reports whether runID is active.
func (g *Guard) Held(runID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.active[runID]
	return held
}
