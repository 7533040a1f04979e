package memory

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// AuditLog implements ports.AuditSink and ports.AuditReader in memory.
type AuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Record appends an entry.
func (l *AuditLog) Record(ctx context.Context, entry domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Recent returns up to limit entries, newest first. A limit <= 0 returns all.
func (l *AuditLog) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// Entries returns every entry in recording order.
func (l *AuditLog) Entries() []domain.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
