package capability

import (
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// Entry declares what a feature accepts and how the transfer is offered.
type Entry struct {
	Feature       domain.Feature
	Accepts       []domain.OutputType
	DefaultAction domain.TransferAction
	Label         string
}

// Map is the static capability map. It is immutable after construction and
// safe for concurrent use. Iteration follows insertion order.
type Map struct {
	order   []domain.Feature
	entries map[domain.Feature]entry
}

type entry struct {
	Entry
	accepts map[domain.OutputType]struct{}
}

// New builds a Map from entries. Features must be valid and unique, and an
// entry that accepts anything must name its default action.
func New(entries ...Entry) (*Map, error) {
	m := &Map{entries: make(map[domain.Feature]entry, len(entries))}
	for _, e := range entries {
		if !e.Feature.Valid() {
			return nil, fmt.Errorf("capability entry: %w", domain.ErrUnknownFeature)
		}
		if _, dup := m.entries[e.Feature]; dup {
			return nil, fmt.Errorf("capability entry %s declared twice", e.Feature)
		}
		if len(e.Accepts) > 0 && !e.DefaultAction.Valid() {
			return nil, fmt.Errorf("capability entry %s: accepts outputs but has no default action", e.Feature)
		}

		set := make(map[domain.OutputType]struct{}, len(e.Accepts))
		accepts := make([]domain.OutputType, 0, len(e.Accepts))
		for _, t := range e.Accepts {
			if !t.Valid() {
				return nil, fmt.Errorf("capability entry %s: %w", e.Feature, domain.ErrUnknownOutputType)
			}
			if _, seen := set[t]; seen {
				continue
			}
			set[t] = struct{}{}
			accepts = append(accepts, t)
		}
		e.Accepts = accepts

		m.order = append(m.order, e.Feature)
		m.entries[e.Feature] = entry{Entry: e, accepts: set}
	}
	return m, nil
}

// MustNew is like New but panics on error. It is meant for static tables.
func MustNew(entries ...Entry) *Map {
	m, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// CanAccept is a pure lookup: does target accept artifacts of type t?
func (m *Map) CanAccept(target domain.Feature, t domain.OutputType) bool {
	e, ok := m.entries[target]
	if !ok {
		return false
	}
	_, ok = e.accepts[t]
	return ok
}

// EligibleTargets lists every feature other than the producer that accepts
// the artifact's type, in insertion order.
func (m *Map) EligibleTargets(artifact domain.OutputArtifact) []domain.TransferTarget {
	var out []domain.TransferTarget
	for _, f := range m.order {
		if f == artifact.Producer {
			continue
		}
		e := m.entries[f]
		if _, ok := e.accepts[artifact.Type]; !ok {
			continue
		}
		out = append(out, domain.TransferTarget{
			Feature: f,
			Action:  e.DefaultAction,
			Label:   e.Label,
		})
	}
	return out
}

// Entry returns the declaration for a feature.
func (m *Map) Entry(f domain.Feature) (Entry, bool) {
	e, ok := m.entries[f]
	if !ok {
		return Entry{}, false
	}
	out := e.Entry
	out.Accepts = append([]domain.OutputType(nil), e.Accepts...)
	return out, true
}

// Features returns the declared features in insertion order.
func (m *Map) Features() []domain.Feature {
	return append([]domain.Feature(nil), m.order...)
}

// Entries returns every declaration in insertion order.
func (m *Map) Entries() []Entry {
	out := make([]Entry, 0, len(m.order))
	for _, f := range m.order {
		e, _ := m.Entry(f)
		out = append(out, e)
	}
	return out
}
