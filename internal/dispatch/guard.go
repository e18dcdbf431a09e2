// Package dispatch provides the in-process concurrency machinery for the
// relay: an at-most-once-in-flight guard keyed by provider message ID, a
// per-user lock registry, and a bounded worker pool. All state lives in
// process memory; a restart loses it, and provider retries after a crash
// are treated as new work.
package dispatch

import "sync"

// Guard tracks message IDs that are currently being processed so
// provider webhook retries do not run the same message twice.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{inflight: make(map[string]struct{})}
}

// Admit atomically checks and records a message ID. It returns true when
// the caller owns processing of the message, false when the ID is already
// in flight and the event must be dropped.
func (g *Guard) Admit(messageID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.inflight[messageID]; exists {
		return false
	}
	g.inflight[messageID] = struct{}{}
	return true
}

// Release removes a message ID. Releasing an ID that was never admitted
// is a no-op.
func (g *Guard) Release(messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, messageID)
}

// Inflight returns the number of tracked message IDs.
func (g *Guard) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
