package capability

// Row is a flattened view of one declaration joined with its route. It is
// what the bridges and the CLI print.
type Row struct {
	Feature       string   `json:"feature" yaml:"feature"`
	Route         string   `json:"route" yaml:"route"`
	Accepts       []string `json:"accepts" yaml:"accepts"`
	DefaultAction string   `json:"default_action,omitempty" yaml:"default_action,omitempty"`
	Label         string   `json:"label,omitempty" yaml:"label,omitempty"`
}

// Rows lists the map joined with routes, in map order.
func Rows(caps *Map, routes RouteTable) []Row {
	entries := caps.Entries()
	out := make([]Row, 0, len(entries))
	for _, e := range entries {
		path, _ := routes.Route(e.Feature)
		row := Row{
			Feature: e.Feature.String(),
			Route:   path,
			Accepts: make([]string, 0, len(e.Accepts)),
			Label:   e.Label,
		}
		for _, t := range e.Accepts {
			row.Accepts = append(row.Accepts, t.String())
		}
		if e.DefaultAction.Valid() {
			row.DefaultAction = e.DefaultAction.String()
		}
		out = append(out, row)
	}
	return out
}
