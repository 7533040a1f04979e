package keylock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/ports"
)

// DefaultTTL bounds how long a distributed lock survives a crashed holder.
const DefaultTTL = 30 * time.Second

// slot is the turnstile of one key. users counts holders and waiters; the
// slot is forgotten when it drops to zero.
type slot struct {
	turn  chan struct{}
	users int
}

// Manager serializes work per entity key. Waiting for a key honours the
// caller's context. An optional DistributedLocker extends the guarantee
// across processes.
type Manager struct {
	mu    sync.Mutex
	slots map[string]*slot

	locker ports.DistributedLocker
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithTTL sets the distributed lock TTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a key lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		slots:  make(map[string]*slot),
		ttl:    DefaultTTL,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithLock runs fn while holding key. It returns ctx.Err() if ctx ends
// before the key is free, and fn is not called.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	s := m.join(key)
	defer m.leave(key, s)

	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.turn }()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, key, m.ttl)
		if err != nil {
			return fmt.Errorf("distributed lock %s: %w", key, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("distributed lock release failed, left to expire", "key", key, "ttl", m.ttl, "err", err)
			}
		}()
	}

	return fn(ctx)
}

// Active returns how many keys currently have holders or waiters.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *Manager) join(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{turn: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.users++
	return s
}

func (m *Manager) leave(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.users--
	if s.users == 0 && m.slots[key] == s {
		delete(m.slots, key)
	}
}
