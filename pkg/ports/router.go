package ports

import "context"

// Router is the navigation collaborator. Implementations consult a
// NavigationGate before changing routes and return domain.ErrNavigationBlocked
// while it is closed.
type Router interface {
	Navigate(ctx context.Context, path string) error
	CurrentRoute() string
}

// NavigationGate reports whether a blocking interaction is in progress.
type NavigationGate interface {
	Blocked() bool
}
