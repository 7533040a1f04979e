package memory

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Router is an in-process ports.Router. It records the current route and
// every navigation, and refuses to move while the gate is blocked.
type Router struct {
	mu      sync.Mutex
	gate    ports.NavigationGate
	current string
	history []string

	// OnNavigate, when set, is called after each successful navigation with the new path.
	// Tests use it to simulate a view mounting in response to a route change.
	OnNavigate func(path string)
}

// NewRouter creates a router at the given initial path. gate may be nil.
func NewRouter(initial string, gate ports.NavigationGate) *Router {
	return &Router{current: initial, gate: gate}
}

// Navigate moves to path unless the gate is blocked, then calls OnNavigate.
func (r *Router) Navigate(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.gate != nil && r.gate.Blocked() {
		return domain.ErrNavigationBlocked
	}

	r.mu.Lock()
	r.current = path
	r.history = append(r.history, path)
	hook := r.OnNavigate
	r.mu.Unlock()

	if hook != nil {
		hook(path)
	}
	return nil
}

// CurrentRoute returns the last path navigated to, or the initial one.
func (r *Router) CurrentRoute() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// History returns every path navigated to, in order.
func (r *Router) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.history))
	copy(out, r.history)
	return out
}
