package executor

import "sync/atomic"

// NavigationGate is the process-wide "navigation blocked" flag. It counts
// blocking interactions, so overlapping ones keep it closed until the last
// of them leaves.
type NavigationGate struct {
	holders atomic.Int32
}

// NewNavigationGate returns an open gate.
func NewNavigationGate() *NavigationGate {
	return &NavigationGate{}
}

// Enter closes the gate for one more holder.
func (g *NavigationGate) Enter() {
	g.holders.Add(1)
}

// Leave releases one holder. Extra calls never drive the count negative.
func (g *NavigationGate) Leave() {
	for {
		n := g.holders.Load()
		if n <= 0 || g.holders.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Blocked reports whether any blocking interaction is in progress.
func (g *NavigationGate) Blocked() bool {
	return g.holders.Load() > 0
}
