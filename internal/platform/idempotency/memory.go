package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Used by tests and single-instance local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	if existing, ok := s.records[id]; ok {
		if res, live, err := resolve(existing, fingerprint, now); live || err != nil {
			return res, err
		}
	}
	rec := newPendingRecord(key, fingerprint, now, ttl)
	s.records[id] = rec
	return Reservation{State: ReservationStateNew, Record: rec}, nil
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	rec, ok := s.records[id]
	if !ok {
		rec = newPendingRecord(key, fingerprint, now, ttl)
	} else if rec.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = completeRecord(rec, resp, now, ttl)
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	if rec, ok := s.records[id]; ok && rec.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}
