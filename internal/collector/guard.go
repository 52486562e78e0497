package collector

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrRunActive means a collection run is already in flight for the
// configuration. The second trigger is rejected, never queued.
var ErrRunActive = errors.New("a collection run is already active for this configuration")

// RunGuard enforces at most one active run per configuration and carries
// cooperative cancellation requests. The guard is in-memory and strictly
// process-local: binaries sharing a database cannot see each other's slots,
// so operationally only one collecting process (api, scheduler or a collect
// invocation) may target a configuration at a time.
type RunGuard struct {
	mu        sync.Mutex
	active    map[int]uuid.UUID
	cancelled map[uuid.UUID]bool
}

// NewRunGuard builds an empty guard.
func NewRunGuard() *RunGuard {
	return &RunGuard{
		active:    make(map[int]uuid.UUID),
		cancelled: make(map[uuid.UUID]bool),
	}
}

// Begin registers runID as the active run for configID. Returns ErrRunActive
// when another run holds the slot.
func (g *RunGuard) Begin(configID int, runID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[configID]; busy {
		return ErrRunActive
	}
	g.active[configID] = runID
	return nil
}

// End releases the slot held by runID and clears any cancellation request.
func (g *RunGuard) End(configID int, runID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[configID] == runID {
		delete(g.active, configID)
	}
	delete(g.cancelled, runID)
}

// Cancel requests cooperative cancellation of an active run. It reports
// whether the run was active; the run itself observes the request at its
// next batch boundary.
func (g *RunGuard) Cancel(runID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range g.active {
		if id == runID {
			g.cancelled[runID] = true
			return true
		}
	}
	return false
}

// Cancelled reports whether cancellation was requested for runID.
func (g *RunGuard) Cancelled(runID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled[runID]
}
