package lock

import (
	"context"
	"sync"
)

// Store is durable keyed storage for lease records, one record per
// acquisition attempt.
type Store interface {
	// Insert persists a new lease record. Records are never updated in place.
	Insert(ctx context.Context, rec Record) error
	// ListByName returns all records for a lock name in a stable total order
	// that every reader observes identically. Backends order by LockStartTime
	// with insertion sequence breaking ties; what winner selection requires
	// is only that all contenders see the same sequence.
	ListByName(ctx context.Context, name string) ([]Record, error)
	// DeleteByInstance removes the record owned by instanceID. Removing a
	// record that no longer exists is not an error.
	DeleteByInstance(ctx context.Context, name, instanceID string) error
	// DeleteExpired removes records whose lease deadline is at or before now
	// (Unix milliseconds) and returns how many were removed. Backends with
	// native TTL may implement this as a no-op.
	DeleteExpired(ctx context.Context, now int64) (int, error)
}

// ConditionalStore is implemented by backends that can decide the winner at
// write time with an insert-if-absent. The Manager prefers this path: it
// closes the read-back race window entirely.
type ConditionalStore interface {
	// TryInsert persists rec only if no live record exists for its lock name.
	// It returns true when rec was written and therefore owns the lock.
	TryInsert(ctx context.Context, rec Record) (bool, error)
}

// InMemoryStore implements Store using local memory. It models a backend
// without conditional writes and is mainly useful for tests and single
// process deployments.
type InMemoryStore struct {
	mu   sync.Mutex
	recs map[string][]Record
}

// NewInMemoryStore returns a new empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{recs: make(map[string][]Record)}
}

// Insert implements Store.Insert.
func (s *InMemoryStore) Insert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	s.recs[rec.LockName] = append(s.recs[rec.LockName], rec)
	s.mu.Unlock()
	return nil
}

// ListByName implements Store.ListByName. Records come back in insertion
// order. Interleaved acquires can insert out of LockStartTime order (the
// timestamp is read before the insert is serialized), but every reader
// observes the same sequence, which is what winner selection needs: all
// contenders agree on one winner, not necessarily the earliest-stamped one.
func (s *InMemoryStore) ListByName(ctx context.Context, name string) ([]Record, error) {
	s.mu.Lock()
	out := append([]Record(nil), s.recs[name]...)
	s.mu.Unlock()
	return out, nil
}

// DeleteByInstance implements Store.DeleteByInstance.
func (s *InMemoryStore) DeleteByInstance(ctx context.Context, name, instanceID string) error {
	s.mu.Lock()
	recs := s.recs[name]
	for i, r := range recs {
		if r.LockInstanceID == instanceID {
			s.recs[name] = append(recs[:i], recs[i+1:]...)
			break
		}
	}
	if len(s.recs[name]) == 0 {
		delete(s.recs, name)
	}
	s.mu.Unlock()
	return nil
}

// DeleteExpired implements Store.DeleteExpired.
func (s *InMemoryStore) DeleteExpired(ctx context.Context, now int64) (int, error) {
	s.mu.Lock()
	removed := 0
	for name, recs := range s.recs {
		kept := recs[:0]
		for _, r := range recs {
			if r.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.recs, name)
			continue
		}
		s.recs[name] = kept
	}
	s.mu.Unlock()
	return removed, nil
}
