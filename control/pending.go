package control

import (
	"sync"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
)

// ErrDuplicateRegistration is returned when a wait already exists for a
// (flow, phase) pair. Phase ordering in the proxy engine makes this an
// internal logic error rather than an expected race.
var ErrDuplicateRegistration = E.New("duplicate pending registration")

type pendingKey struct {
	flowID string
	phase  Phase
}

// PendingRegistry tracks flows paused awaiting an operator decision.
// It is the only cross-transaction shared mutable state in the
// subsystem: releases arrive from the link reader loop while waits are
// held by per-flow tasks.
type PendingRegistry struct {
	access        sync.Mutex
	waits         map[pendingKey]*PendingWait
	modifications map[pendingKey]*Modifications
}

func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		waits:         make(map[pendingKey]*PendingWait),
		modifications: make(map[pendingKey]*Modifications),
	}
}

// PendingWait is a one-shot release signal for a paused flow phase.
type PendingWait struct {
	registry *PendingRegistry
	key      pendingKey
	release  chan struct{}
}

func (r *PendingRegistry) Register(flowID string, phase Phase) (*PendingWait, error) {
	r.access.Lock()
	defer r.access.Unlock()
	key := pendingKey{flowID: flowID, phase: phase}
	if _, exists := r.waits[key]; exists {
		return nil, E.Cause(ErrDuplicateRegistration, phase.String(), " wait for flow ", flowID)
	}
	wait := &PendingWait{
		registry: r,
		key:      key,
		release:  make(chan struct{}),
	}
	r.waits[key] = wait
	return wait, nil
}

// Release signals the matching wait, storing the modifications beside
// it for later consumption. Releasing an absent pair is a no-op and
// returns false: operator decisions race with proxy-side timeouts.
func (r *PendingRegistry) Release(flowID string, phase Phase, modifications *Modifications) bool {
	r.access.Lock()
	defer r.access.Unlock()
	key := pendingKey{flowID: flowID, phase: phase}
	wait, exists := r.waits[key]
	if !exists {
		return false
	}
	if modifications != nil {
		r.modifications[key] = modifications
	}
	delete(r.waits, key)
	close(wait.release)
	return true
}

// Has reports whether a live wait exists for the pair.
func (r *PendingRegistry) Has(flowID string, phase Phase) bool {
	r.access.Lock()
	defer r.access.Unlock()
	_, exists := r.waits[pendingKey{flowID: flowID, phase: phase}]
	return exists
}

// TakeModifications removes and returns the stored modification set, or
// nil. A set is consumed at most once.
func (r *PendingRegistry) TakeModifications(flowID string, phase Phase) *Modifications {
	r.access.Lock()
	defer r.access.Unlock()
	key := pendingKey{flowID: flowID, phase: phase}
	modifications := r.modifications[key]
	delete(r.modifications, key)
	return modifications
}

// Await suspends until the wait is released or the timeout elapses,
// reporting which occurred. On timeout the registry entry is removed so
// a late release degrades to a no-op.
func (w *PendingWait) Await(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.release:
		return true
	case <-timer.C:
		w.registry.unregister(w)
		return false
	}
}

func (r *PendingRegistry) unregister(wait *PendingWait) {
	r.access.Lock()
	defer r.access.Unlock()
	if r.waits[wait.key] == wait {
		delete(r.waits, wait.key)
	}
}
