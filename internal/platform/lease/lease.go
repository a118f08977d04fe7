// Package lease provides named, expiring locks that keep background sweeps single-flight
// across API instances.
package lease

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidName is returned for blank lease names.
var ErrInvalidName = errors.New("lease: name is required")

// Lease identifies a held lock. Token distinguishes this holder from later ones.
type Lease struct {
	Name      string
	Token     string
	ExpiresAt time.Time
}

// Locker acquires and releases leases. Acquire reports false without error when another
// holder owns an unexpired lease.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error)
	Release(ctx context.Context, l Lease) error
}

func newLease(name string, ttl time.Duration, now time.Time) (Lease, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Lease{}, ErrInvalidName
	}
	if ttl <= 0 {
		return Lease{}, errors.New("lease: ttl must be positive")
	}
	return Lease{Name: name, Token: ulid.Make().String(), ExpiresAt: now.Add(ttl)}, nil
}

// MemoryLocker is a process-local Locker for single-instance runs and tests.
type MemoryLocker struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]Lease
}

// NewMemoryLocker constructs a MemoryLocker. A nil clock uses time.Now.
func NewMemoryLocker(now func() time.Time) *MemoryLocker {
	if now == nil {
		now = time.Now
	}
	return &MemoryLocker{now: now, leases: make(map[string]Lease)}
}

// Acquire implements Locker.
func (m *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	now := m.now()
	l, err := newLease(name, ttl, now)
	if err != nil {
		return Lease{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[l.Name]; ok && now.Before(held.ExpiresAt) {
		return Lease{}, false, nil
	}
	m.leases[l.Name] = l
	return l, true, nil
}

// Release implements Locker.
func (m *MemoryLocker) Release(_ context.Context, l Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[l.Name]; ok && held.Token == l.Token {
		delete(m.leases, l.Name)
	}
	return nil
}
