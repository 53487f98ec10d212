// Package runlock keeps two reconciliation runs from working the same store
// at once. A lock is a lease: it expires after its TTL even if the holder dies.
package runlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"horse.fit/jobdedup/internal/posting"
)

const DefaultName = "jobdedup:reconcile"

// ErrLeaseLost is returned by Extend once another holder owns the lock or the
// lease is gone.
var ErrLeaseLost = errors.New("run lock lease lost")

// Locker hands out leases by name. Acquire fails with posting.ErrRunLocked
// while another holder's lease is live.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Holders that run longer than the TTL must Extend it.
type Lease interface {
	Token() string
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Memory is an in-process Locker.
type Memory struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{leases: make(map[string]memoryLease), now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.leases[name]; ok && now.Before(held.expiresAt) {
		return nil, posting.ErrRunLocked
	}

	token := uuid.NewString()
	m.leases[name] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	return &lease{
		token: token,
		extend: func(_ context.Context, ttl time.Duration) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			held, ok := m.leases[name]
			if !ok || held.token != token {
				return ErrLeaseLost
			}
			m.leases[name] = memoryLease{token: token, expiresAt: m.now().Add(ttl)}
			return nil
		},
		release: func(context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if held, ok := m.leases[name]; ok && held.token == token {
				delete(m.leases, name)
			}
			return nil
		},
	}, nil
}

type lease struct {
	token   string
	extend  func(ctx context.Context, ttl time.Duration) error
	release func(ctx context.Context) error
	once    sync.Once
	err     error
}

func (l *lease) Token() string {
	return l.token
}

// Extend pushes the expiry to ttl from now while the lease is still ours.
func (l *lease) Extend(ctx context.Context, ttl time.Duration) error {
	return l.extend(ctx, ttl)
}

// Release is safe to call more than once.
func (l *lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.release(ctx)
	})
	return l.err
}
