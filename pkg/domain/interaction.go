package domain

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// InteractionKind names what a user action does. Kinds are open-ended; the
// constants below cover the verbs shared by most features.
type InteractionKind string

const (
	KindCreate   InteractionKind = "create"
	KindUpdate   InteractionKind = "update"
	KindRename   InteractionKind = "rename"
	KindDelete   InteractionKind = "delete"
	KindRun      InteractionKind = "run"
	KindExport   InteractionKind = "export"
	KindTransfer InteractionKind = "transfer"
)

// ReversibilityClass describes whether and how an interaction can be undone.
type ReversibilityClass uint8

const (
	// FullyReversible interactions apply optimistically and commit after an undo window.
	FullyReversible ReversibilityClass = iota + 1
	// SystemManaged interactions have the server call as their only effect.
	SystemManaged
	// Irreversible interactions must be confirmed before they reach the executor.
	Irreversible
)

func (r ReversibilityClass) String() string {
	switch r {
	case FullyReversible:
		return "fully_reversible"
	case SystemManaged:
		return "system_managed"
	case Irreversible:
		return "irreversible"
	default:
		return fmt.Sprintf("reversibility(%d)", uint8(r))
	}
}

func (r ReversibilityClass) Valid() bool {
	return r >= FullyReversible && r <= Irreversible
}

func (r ReversibilityClass) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ReversibilityClass) UnmarshalText(text []byte) error {
	for c := FullyReversible; c <= Irreversible; c++ {
		if c.String() == string(text) {
			*r = c
			return nil
		}
	}
	return Invalid("reversibility", fmt.Sprintf("unknown class %q", text))
}

// InteractionStatus is the lifecycle position of an Interaction.
type InteractionStatus string

const (
	StatusIdle      InteractionStatus = "idle"
	StatusExecuting InteractionStatus = "executing"
	StatusSucceeded InteractionStatus = "succeeded"
	StatusFailed    InteractionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s InteractionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Interaction is one user-triggered action routed through the executor.
type Interaction struct {
	ID            string             `json:"id"`
	Kind          InteractionKind    `json:"type"`
	Label         string             `json:"label"`
	Reversibility ReversibilityClass `json:"reversibility"`
	Intent        Intent             `json:"intent,omitempty"`
	Status        InteractionStatus  `json:"status"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       time.Time          `json:"ended_at,omitempty"`
}

// Begin moves an idle interaction to Executing.
func (i *Interaction) Begin(now time.Time) error {
	if i.Status != StatusIdle && i.Status != "" {
		return fmt.Errorf("interaction %s: cannot begin from %s", i.ID, i.Status)
	}
	i.Status = StatusExecuting
	i.StartedAt = now
	return nil
}

// Finish records the terminal status. It fails if the interaction is not
// Executing, so a second terminal transition is never recorded.
func (i *Interaction) Finish(status InteractionStatus, now time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("interaction %s: %s is not a terminal status", i.ID, status)
	}
	if i.Status != StatusExecuting {
		return fmt.Errorf("interaction %s: cannot finish from %s", i.ID, i.Status)
	}
	i.Status = status
	i.EndedAt = now
	return nil
}

// Duration is the time spent executing, or zero while still running.
func (i *Interaction) Duration() time.Duration {
	if i.EndedAt.IsZero() {
		return 0
	}
	return i.EndedAt.Sub(i.StartedAt)
}

// Intent is the schema-free metadata of an interaction. Different kinds carry
// unrelated fields; Decode gives a typed view when a kind needs one.
type Intent map[string]any

// EntityKey returns the entity the interaction targets, if any.
func (in Intent) EntityKey() string {
	if in == nil {
		return ""
	}
	switch v := in[KeyEntityKey].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// Decode copies the intent into out using mapstructure tags.
// Numeric strings and similar loose inputs are converted.
func (in Intent) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return fmt.Errorf("intent decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(in)); err != nil {
		return &ValidationError{Field: "intent", Reason: err.Error()}
	}
	return nil
}

// Clone returns a shallow copy so callers cannot mutate a recorded intent.
func (in Intent) Clone() Intent {
	if in == nil {
		return nil
	}
	out := make(Intent, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
