package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/capability"
	"github.com/aretw0/tendril/pkg/domain"
)

// GraphOverlay highlights where one artifact can go.
type GraphOverlay struct {
	Artifact domain.OutputArtifact
}

// GenerateMermaid produces a Mermaid flowchart of the capability map. Output
// types point at the features that accept them, labelled with the default
// transfer action:
// - Output type: [/Parallelogram/]
// - Consuming feature: [Rectangle] with its route
// - Producer-only feature: ([Stadium])
// With an overlay, the artifact's producer and eligible targets are styled.
func GenerateMermaid(caps *capability.Map, routes capability.RouteTable, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	seenTypes := make(map[domain.OutputType]bool)
	for _, e := range caps.Entries() {
		for _, t := range e.Accepts {
			if !seenTypes[t] {
				seenTypes[t] = true
				sb.WriteString(fmt.Sprintf("    %s[/\"%s\"/]\n", typeID(t), t))
			}
		}
	}

	for _, e := range caps.Entries() {
		safeID := sanitizeMermaidID(e.Feature.String())
		path, _ := routes.Route(e.Feature)

		opener, closer := "[", "]"
		if len(e.Accepts) == 0 {
			opener, closer = "([", "])"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s <br/> %s\"%s\n", safeID, opener, e.Feature, path, closer))

		for _, t := range e.Accepts {
			sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", typeID(t), e.DefaultAction, safeID))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef producer fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef eligible fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		if overlay.Artifact.Producer.Valid() {
			sb.WriteString(fmt.Sprintf("    class %s producer;\n", sanitizeMermaidID(overlay.Artifact.Producer.String())))
		}
		for _, target := range caps.EligibleTargets(overlay.Artifact) {
			sb.WriteString(fmt.Sprintf("    class %s eligible;\n", sanitizeMermaidID(target.Feature.String())))
		}
	}

	return sb.String()
}

func typeID(t domain.OutputType) string {
	return "type_" + sanitizeMermaidID(strings.ToLower(t.String()))
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
