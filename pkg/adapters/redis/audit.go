package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// AuditLog implements ports.AuditSink and ports.AuditReader as a capped list.
type AuditLog struct {
	client *backend.Client
	key    string
	limit  int64
}

// NewAuditLog creates an audit log over an existing client.
func NewAuditLog(client *backend.Client, opts ...Option) *AuditLog {
	o := buildOptions(opts)
	return &AuditLog{client: client, key: o.prefix + "audit", limit: o.auditLimit}
}

// Record pushes the entry and drops the oldest beyond the limit.
func (l *AuditLog) Record(ctx context.Context, entry domain.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, l.key, data)
	pipe.LTrim(ctx, l.key, 0, l.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A limit <= 0 returns all.
func (l *AuditLog) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	values, err := l.client.LRange(ctx, l.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	out := make([]domain.AuditEntry, 0, len(values))
	for _, raw := range values {
		var entry domain.AuditEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}
