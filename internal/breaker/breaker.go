// Package breaker guards agent invocation: a consecutive-failure breaker
// that is fatal once tripped, a bounded gate on concurrent invocations, and
// a host load guard that forces the breaker open.
package breaker

import (
	"errors"
	"log"
	"sync"
)

// ErrTripped is returned once the failure threshold has been reached.
var ErrTripped = errors.New("breaker: circuit tripped")

// DefaultThreshold is the consecutive-failure count that trips the breaker.
const DefaultThreshold = 5

// Breaker counts consecutive agent failures. Once the count reaches
// Threshold it stays tripped for the life of the process.
type Breaker struct {
	Threshold int

	mu       sync.Mutex
	failures int
	tripped  bool
	onTrip   []func(reason string)
}

// New returns a Breaker with the given threshold (DefaultThreshold if <= 0).
func New(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Breaker{Threshold: threshold}
}

// OnTrip registers fn to run once, when the breaker trips.
func (b *Breaker) OnTrip(fn func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = append(b.onTrip, fn)
}

// Allow returns ErrTripped when the failure count is at or over the
// threshold. The first such call trips the breaker.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	if b.failures < b.Threshold {
		b.mu.Unlock()
		return nil
	}
	fns := b.tripLocked()
	b.mu.Unlock()
	run(fns, "failure threshold reached")
	return ErrTripped
}

// Failure records one failed invocation and reports whether the breaker is
// now tripped.
func (b *Breaker) Failure(reason string) bool {
	b.mu.Lock()
	b.failures++
	n := b.failures
	log.Printf("breaker: failure %d/%d: %s", n, b.Threshold, reason)
	if n < b.Threshold {
		b.mu.Unlock()
		return false
	}
	fns := b.tripLocked()
	b.mu.Unlock()
	run(fns, reason)
	return true
}

// Success resets the failure count. It has no effect once tripped.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		b.failures = 0
	}
}

// Force sets the count to the threshold and trips the breaker.
func (b *Breaker) Force(reason string) {
	b.mu.Lock()
	if b.failures < b.Threshold {
		b.failures = b.Threshold
	}
	log.Printf("breaker: forced open: %s", reason)
	fns := b.tripLocked()
	b.mu.Unlock()
	run(fns, reason)
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Tripped reports whether the breaker has tripped.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// tripLocked marks the breaker tripped and returns the callbacks to run,
// or nil if it was already tripped.
func (b *Breaker) tripLocked() []func(string) {
	if b.tripped {
		return nil
	}
	b.tripped = true
	return b.onTrip
}

func run(fns []func(string), reason string) {
	for _, fn := range fns {
		fn(reason)
	}
}
