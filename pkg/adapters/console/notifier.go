package console

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aretw0/tendril/pkg/ports"
	"github.com/muesli/termenv"
)

var severityStyle = map[ports.Severity]struct {
	symbol string
	color  string
}{
	ports.SeverityInfo:    {"i", "#818cf8"},
	ports.SeveritySuccess: {"✓", "#34d399"},
	ports.SeverityWarning: {"!", "#fbbf24"},
	ports.SeverityError:   {"✗", "#fb7185"},
}

// Notifier prints notifications to a terminal. The most recent undo
// affordance is kept until it expires or is used.
type Notifier struct {
	out *termenv.Output

	mu       sync.Mutex
	undo     func()
	deadline time.Time
	now      func() time.Time
}

// NewNotifier writes to w. Colours follow the detected profile unless
// overridden, e.g. with termenv.WithProfile(termenv.Ascii).
func NewNotifier(w io.Writer, opts ...termenv.OutputOption) *Notifier {
	return &Notifier{
		out: termenv.NewOutput(w, opts...),
		now: time.Now,
	}
}

func (n *Notifier) Show(ctx context.Context, message string, severity ports.Severity) {
	n.print(severity, message, "")
}

func (n *Notifier) ShowWithUndo(ctx context.Context, message string, onUndo func(), opts ports.UndoOptions) {
	label := opts.ActionLabel
	if label == "" {
		label = "Undo"
	}
	hint := label
	if opts.Duration > 0 {
		hint = fmt.Sprintf("%s within %s", label, opts.Duration)
	}

	var once sync.Once
	n.mu.Lock()
	n.undo = func() { once.Do(onUndo) }
	n.deadline = time.Time{}
	if opts.Duration > 0 {
		n.deadline = n.now().Add(opts.Duration)
	}
	n.mu.Unlock()

	n.print(ports.SeverityInfo, message, hint)
}

// Undo invokes the most recent undo callback if it has not expired.
// It reports whether a callback ran.
func (n *Notifier) Undo() bool {
	n.mu.Lock()
	undo := n.undo
	expired := !n.deadline.IsZero() && n.now().After(n.deadline)
	n.undo = nil
	n.mu.Unlock()

	if undo == nil || expired {
		return false
	}
	undo()
	return true
}

func (n *Notifier) print(severity ports.Severity, message, hint string) {
	style, ok := severityStyle[severity]
	if !ok {
		style = severityStyle[ports.SeverityInfo]
	}
	symbol := n.out.String(style.symbol).Foreground(n.out.Color(style.color)).Bold()
	line := fmt.Sprintf("%s %s", symbol, message)
	if hint != "" {
		line += "  " + n.out.String("["+hint+"]").Faint().String()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.out, line)
}
