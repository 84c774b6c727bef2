package breaker

import (
	"log"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is the default number of simultaneous invocations.
const DefaultCapacity = 3

// Gate caps concurrent agent invocations. Requests over capacity are
// refused rather than queued.
type Gate struct {
	capacity int64
	sem      *semaphore.Weighted
	active   atomic.Int64
}

// NewGate returns a Gate admitting capacity holders (DefaultCapacity if <= 0).
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{capacity: int64(capacity), sem: semaphore.NewWeighted(int64(capacity))}
}

// TryEnter claims a slot. It returns a release func and true, or nil and
// false when the gate is full.
func (g *Gate) TryEnter(what string) (func(), bool) {
	if !g.sem.TryAcquire(1) {
		log.Printf("breaker: process limit reached (%d), dropping %s", g.capacity, what)
		return nil, false
	}
	g.active.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.active.Add(-1)
			g.sem.Release(1)
		}
	}, true
}

// Active returns the number of slots in use.
func (g *Gate) Active() int {
	return int(g.active.Load())
}

// Capacity returns the gate size.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}
