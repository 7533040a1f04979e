package memory

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/ports"
)

// Notification is one message captured by the Notifier.
type Notification struct {
	Message  string
	Severity ports.Severity
	Undo     func()
	Options  ports.UndoOptions
}

// Notifier records notifications instead of displaying them.
// It backs tests and the headless HTTP/MCP bridges.
type Notifier struct {
	mu   sync.Mutex
	sent []Notification
}

// NewNotifier creates an empty recording notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Show(ctx context.Context, message string, severity ports.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Message: message, Severity: severity})
}

func (n *Notifier) ShowWithUndo(ctx context.Context, message string, onUndo func(), opts ports.UndoOptions) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{
		Message:  message,
		Severity: ports.SeverityInfo,
		Undo:     onUndo,
		Options:  opts,
	})
}

// Notifications returns everything recorded so far.
func (n *Notifier) Notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// BySeverity returns the recorded notifications with the given severity.
func (n *Notifier) BySeverity(severity ports.Severity) []Notification {
	var out []Notification
	for _, note := range n.Notifications() {
		if note.Severity == severity {
			out = append(out, note)
		}
	}
	return out
}

// LastUndo returns the undo callback of the most recent undo notification.
func (n *Notifier) LastUndo() (func(), bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Undo != nil {
			return n.sent[i].Undo, true
		}
	}
	return nil, false
}

// Reset forgets recorded notifications.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}
