package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/capability"
)

// CapabilityMarkdown renders the capability map and routes as a markdown table.
func CapabilityMarkdown(caps *capability.Map, routes capability.RouteTable) string {
	var b strings.Builder
	b.WriteString("# Capabilities\n\n")
	b.WriteString("| Feature | Route | Accepts | Default action | Label |\n")
	b.WriteString("|---|---|---|---|---|\n")

	for _, e := range caps.Entries() {
		accepts := make([]string, len(e.Accepts))
		for i, t := range e.Accepts {
			accepts[i] = "`" + t.String() + "`"
		}
		acceptsCell, action := "-", "-"
		if len(accepts) > 0 {
			acceptsCell = strings.Join(accepts, ", ")
			action = e.DefaultAction.String()
		}
		path, _ := routes.Route(e.Feature)
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %s |\n", e.Feature, path, acceptsCell, action, e.Label)
	}
	return b.String()
}
