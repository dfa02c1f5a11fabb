package deletion

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned for operations on an unknown mark-for-delete id.
var ErrNotFound = errors.New("deletion: request not found")

// Store is durable storage for deletion requests.
type Store interface {
	// Create persists a new request.
	Create(ctx context.Context, req Request) error
	// Get returns the request with the given mark-for-delete id.
	Get(ctx context.Context, markForDeleteID string) (Request, error)
	// Update replaces the stored request with the same mark-for-delete id.
	Update(ctx context.Context, req Request) error
	// Delete physically removes a request. Unknown ids are a no-op.
	Delete(ctx context.Context, markForDeleteID string) error
	// ListOldestSubmitted returns up to limit requests ordered by
	// SubmittedAt ascending, regardless of lifecycle state.
	ListOldestSubmitted(ctx context.Context, limit int) ([]Request, error)
	// ListAll returns every request. The sweeps scan with it.
	ListAll(ctx context.Context) ([]Request, error)
}

// InMemoryStore implements Store using local memory.
type InMemoryStore struct {
	mu   sync.Mutex
	reqs map[string]Request
}

// NewInMemoryStore returns a new empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{reqs: make(map[string]Request)}
}

// Create implements Store.Create.
func (s *InMemoryStore) Create(ctx context.Context, req Request) error {
	s.mu.Lock()
	s.reqs[req.MarkForDeleteID] = req
	s.mu.Unlock()
	return nil
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, id string) (Request, error) {
	s.mu.Lock()
	req, ok := s.reqs[id]
	s.mu.Unlock()
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

// Update implements Store.Update.
func (s *InMemoryStore) Update(ctx context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reqs[req.MarkForDeleteID]; !ok {
		return ErrNotFound
	}
	s.reqs[req.MarkForDeleteID] = req
	return nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.reqs, id)
	s.mu.Unlock()
	return nil
}

// ListOldestSubmitted implements Store.ListOldestSubmitted.
func (s *InMemoryStore) ListOldestSubmitted(ctx context.Context, limit int) ([]Request, error) {
	all, _ := s.ListAll(ctx)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListAll implements Store.ListAll.
func (s *InMemoryStore) ListAll(ctx context.Context) ([]Request, error) {
	s.mu.Lock()
	out := make([]Request, 0, len(s.reqs))
	for _, req := range s.reqs {
		out = append(out, req)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt != out[j].SubmittedAt {
			return out[i].SubmittedAt < out[j].SubmittedAt
		}
		return out[i].MarkForDeleteID < out[j].MarkForDeleteID
	})
	return out, nil
}
