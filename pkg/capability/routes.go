package capability

import (
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// RouteTable maps each feature to the path its view is mounted at.
type RouteTable struct {
	routes map[domain.Feature]string
}

// DefaultRoutes mounts every feature at "/<feature>".
func DefaultRoutes() RouteTable {
	routes := make(map[domain.Feature]string)
	for _, f := range domain.Features() {
		routes[f] = "/" + f.String()
	}
	return RouteTable{routes: routes}
}

// WithOverrides returns a copy with the given feature-key -> path overrides
// applied. Unknown feature keys are rejected so a typo cannot silently drop
// transfers at runtime.
func (t RouteTable) WithOverrides(overrides map[string]string) (RouteTable, error) {
	routes := make(map[domain.Feature]string, len(t.routes))
	for f, p := range t.routes {
		routes[f] = p
	}
	for key, path := range overrides {
		f, err := domain.ParseFeature(key)
		if err != nil {
			return RouteTable{}, fmt.Errorf("route override: %w", err)
		}
		if !strings.HasPrefix(path, "/") {
			return RouteTable{}, fmt.Errorf("route override %s: path %q must start with /", key, path)
		}
		routes[f] = path
	}
	return RouteTable{routes: routes}, nil
}

// Route returns the path for a feature.
func (t RouteTable) Route(f domain.Feature) (string, bool) {
	p, ok := t.routes[f]
	return p, ok
}

// FeatureAt resolves the feature mounted at path.
func (t RouteTable) FeatureAt(path string) (domain.Feature, bool) {
	for f, p := range t.routes {
		if p == path {
			return f, true
		}
	}
	return domain.FeatureUnknown, false
}
