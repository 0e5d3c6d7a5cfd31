// Package runstate provides the shared bookkeeping for long-running,
// single-flight operations driven by an unordered mix of push events and
// pull responses. Each run gets a monotonically increasing identifier;
// updates produced on behalf of a run that is no longer current are
// discarded by the caller via Matches.
package runstate

import (
	"errors"
	"sync"
)

// ErrRunActive is returned by Begin while another run holds the guard.
var ErrRunActive = errors.New("operation already in progress")

// Guard enforces single-flight execution and tags each run with an id.
// The zero value is ready to use.
type Guard struct {
	mu     sync.Mutex
	nextID uint64
	runID  uint64
	active bool
}

// Begin starts a new run and returns its identifier. It fails with
// ErrRunActive if a run is already in flight.
func (g *Guard) Begin() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active {
		return 0, ErrRunActive
	}

	g.nextID++
	g.runID = g.nextID
	g.active = true
	return g.runID, nil
}

// End releases the guard if id is the current run. Ending a superseded run
// is a no-op, so a late goroutine cannot release someone else's run.
func (g *Guard) End(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active && g.runID == id {
		g.active = false
	}
}

// Active reports whether a run is in flight.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Current returns the id of the active run, or false when idle.
func (g *Guard) Current() (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runID, g.active
}

// Matches reports whether id identifies the currently active run. Stale
// events and pull responses are dropped when this returns false.
func (g *Guard) Matches(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active && g.runID == id
}

// Percent converts a done/total byte pair to a 0-100 percentage.
// A zero total reports 0 rather than dividing by zero.
func Percent(done, total uint64) float64 {
	if total == 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}
