package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventInteractionStart EventType = "interaction_start"
	EventInteractionEnd   EventType = "interaction_end"
	EventCommit           EventType = "commit"
	EventRollback         EventType = "rollback"
	EventDeliver          EventType = "deliver"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// InteractionEvent is emitted when an interaction starts and when it ends.
type InteractionEvent struct {
	EventBase
	Interaction Interaction `json:"interaction"`
	Err         error       `json:"-"`
}

// CommitEvent describes the outcome of a deferred commit.
type CommitEvent struct {
	EventBase
	EntityKey string        `json:"entity_key"`
	Outcome   CommitOutcome `json:"outcome"`
	Err       error         `json:"-"`
}

// DeliverEvent describes a transfer delivery attempt.
type DeliverEvent struct {
	EventBase
	Request   TransferRequest `json:"request"`
	Navigated bool            `json:"navigated"`
	Err       error           `json:"-"`
}

// CommitOutcome is how a deferred commit ended.
type CommitOutcome string

const (
	OutcomeCommitted  CommitOutcome = "committed"
	OutcomeConflict   CommitOutcome = "conflict"
	OutcomeCancelled  CommitOutcome = "cancelled"
	OutcomeSuperseded CommitOutcome = "superseded"
	OutcomeRolledBack CommitOutcome = "rolled_back"
	// OutcomeDropped marks a commit discarded by a reset: neither committed nor rolled back.
	OutcomeDropped CommitOutcome = "dropped"
)

// LifecycleHooks defines callbacks for observability. Nil fields are skipped.
type LifecycleHooks struct {
	OnInteractionStart func(context.Context, *InteractionEvent)
	OnInteractionEnd   func(context.Context, *InteractionEvent)
	OnCommit           func(context.Context, *CommitEvent)
	OnRollback         func(context.Context, *CommitEvent)
	OnDeliver          func(context.Context, *DeliverEvent)
}

// AuditEntry is the record written to an audit sink when an interaction ends.
type AuditEntry struct {
	InteractionID string             `json:"interaction_id"`
	Kind          InteractionKind    `json:"kind"`
	Label         string             `json:"label"`
	Reversibility ReversibilityClass `json:"reversibility"`
	EntityKey     string             `json:"entity_key,omitempty"`
	Status        InteractionStatus  `json:"status"`
	Error         string             `json:"error,omitempty"`
	ErrorClass    ErrorClass         `json:"error_class,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       time.Time          `json:"ended_at"`
}

// NewAuditEntry captures a finished interaction.
func NewAuditEntry(in Interaction, err error) AuditEntry {
	entry := AuditEntry{
		InteractionID: in.ID,
		Kind:          in.Kind,
		Label:         in.Label,
		Reversibility: in.Reversibility,
		EntityKey:     in.Intent.EntityKey(),
		Status:        in.Status,
		StartedAt:     in.StartedAt,
		EndedAt:       in.EndedAt,
	}
	if err != nil {
		entry.Error = err.Error()
		entry.ErrorClass = ClassifyError(err)
	}
	return entry
}
