package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// AuditSink receives one entry per finished interaction.
// Failures to record are logged by the executor and never fail the interaction.
type AuditSink interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

// AuditReader is implemented by sinks that can replay what they recorded.
type AuditReader interface {
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}
