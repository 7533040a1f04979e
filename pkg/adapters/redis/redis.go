package redis

import (
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key the adapters write.
const DefaultPrefix = "tendril:"

// Option configures the redis adapters.
type Option func(*options)

type options struct {
	prefix     string
	auditLimit int64
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithAuditLimit caps how many audit entries are retained.
func WithAuditLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.auditLimit = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix, auditLimit: 1000}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient connects to a redis server.
func NewClient(address, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}
