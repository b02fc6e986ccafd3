package engine

import "sync"

// marketLocks serializes operations per market. Two concurrent position
// takes on the same market must not race on the aggregate counters, and a
// resolve must never observe a partially applied position; operations on
// different markets proceed fully in parallel. Mutexes are created lazily
// and never removed — terminal markets stop being locked, so the map stays
// proportional to the number of markets ever touched.
type marketLocks struct {
	mu sync.Map // marketID → *sync.Mutex
}

// lock acquires the mutex for a market and returns the unlock func.
func (l *marketLocks) lock(marketID string) func() {
	v, _ := l.mu.LoadOrStore(marketID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
