// Package gate bounds how many simulations may be in the running state at
// once. Admission is refuse-not-queue: a caller that cannot get a slot is
// told so immediately and decides for itself whether to retry.
package gate

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

// Gate is a bounded counting semaphore keyed by simulation id. Tracking the
// holder ids makes release exactly-once: a slot freed by the monitoring loop
// after an abnormal death cannot be freed again by a late stop call.
type Gate struct {
	limit int
	sem   *semaphore.Weighted

	mu      sync.Mutex
	holders map[core.SimulationID]struct{}
}

// New creates a gate admitting at most limit concurrent holders.
// A limit below one is coerced to one.
func New(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{
		limit:   limit,
		sem:     semaphore.NewWeighted(int64(limit)),
		holders: make(map[core.SimulationID]struct{}),
	}
}

// Limit returns the configured maximum.
func (g *Gate) Limit() int {
	return g.limit
}

// Acquire claims a slot for id. It never blocks: when the gate is full it
// fails with a capacity error, and when id already holds a slot it is a
// no-op so a crashed-and-reconciled caller cannot double-count.
func (g *Gate) Acquire(id core.SimulationID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.holders[id]; held {
		return nil
	}
	if !g.sem.TryAcquire(1) {
		return core.ErrCapacityExceeded(g.limit)
	}
	g.holders[id] = struct{}{}
	return nil
}

// Release frees the slot held by id. Releasing an id that holds no slot is a
// no-op, so the gate never leaks capacity regardless of which of pause, stop,
// completion or crash cleanup runs first.
func (g *Gate) Release(id core.SimulationID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.holders[id]; !held {
		return
	}
	delete(g.holders, id)
	g.sem.Release(1)
}

// Held reports whether id currently holds a slot.
func (g *Gate) Held(id core.SimulationID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.holders[id]
	return held
}

// InUse returns the number of slots currently held.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.holders)
}
