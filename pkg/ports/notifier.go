package ports

import (
	"context"
	"time"
)

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// UndoOptions tunes an undo notification.
type UndoOptions struct {
	// Duration is how long the undo affordance stays visible; it matches the commit delay.
	Duration time.Duration
	// ActionLabel overrides the default "Undo" button text.
	ActionLabel string
}

// Notifier is the notification surface (toasts, banners, console lines).
type Notifier interface {
	// Show displays a message with the given severity.
	Show(ctx context.Context, message string, severity Severity)

	// ShowWithUndo displays a message with an undo affordance. onUndo is wired
	// to the scheduler's cancel hook and may be invoked at most once by the surface.
	ShowWithUndo(ctx context.Context, message string, onUndo func(), opts UndoOptions)
}
