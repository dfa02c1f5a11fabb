package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// ErrVersionConflict is returned by DeleteByQuery for documents whose
// version changed while the delete was in flight, when conflicts are not
// tolerated.
var ErrVersionConflict = errors.New("search: version conflict")

type memoryDoc struct {
	body    map[string]any
	version int
}

// InMemoryIndex implements Client using local memory. It honors the throttle
// and budget options so workflow tests exercise the same paths a real
// backend would, and can be told to report version conflicts for specific
// document ids.
type InMemoryIndex struct {
	mu        sync.Mutex
	indexes   map[string]map[string]memoryDoc
	conflicts map[string]struct{}
}

// NewInMemoryIndex returns a new empty InMemoryIndex.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{
		indexes:   make(map[string]map[string]memoryDoc),
		conflicts: make(map[string]struct{}),
	}
}

// ConflictOn marks a document id as version-conflicting for DeleteByQuery.
func (s *InMemoryIndex) ConflictOn(id string) {
	s.mu.Lock()
	s.conflicts[id] = struct{}{}
	s.mu.Unlock()
}

// IndexDocument implements Client.IndexDocument.
func (s *InMemoryIndex) IndexDocument(ctx context.Context, index, id string, body map[string]any) error {
	s.mu.Lock()
	docs := s.indexes[index]
	if docs == nil {
		docs = make(map[string]memoryDoc)
		s.indexes[index] = docs
	}
	docs[id] = memoryDoc{body: body, version: docs[id].version + 1}
	s.mu.Unlock()
	return nil
}

// DeleteDocument implements Client.DeleteDocument.
func (s *InMemoryIndex) DeleteDocument(ctx context.Context, index, id string) error {
	s.mu.Lock()
	delete(s.indexes[index], id)
	s.mu.Unlock()
	return nil
}

// DeleteByQuery implements Client.DeleteByQuery.
func (s *InMemoryIndex) DeleteByQuery(ctx context.Context, index string, q Query, opts DeleteByQueryOptions) (int, error) {
	if opts.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Budget)
		defer cancel()
	}
	var limiter *rate.Limiter
	if opts.Throttle > 0 {
		limiter = rate.NewLimiter(opts.Throttle, 1)
	}

	s.mu.Lock()
	var matched []string
	for id, doc := range s.indexes[index] {
		if q.matches(doc.body) {
			matched = append(matched, id)
		}
	}
	s.mu.Unlock()

	deleted := 0
	for _, id := range matched {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return deleted, err
			}
		}
		s.mu.Lock()
		if _, conflict := s.conflicts[id]; conflict {
			s.mu.Unlock()
			if opts.TolerateConflicts {
				continue
			}
			return deleted, fmt.Errorf("delete %s/%s: %w", index, id, ErrVersionConflict)
		}
		delete(s.indexes[index], id)
		s.mu.Unlock()
		deleted++
	}
	return deleted, nil
}

// Get returns the document body and whether it exists.
func (s *InMemoryIndex) Get(index, id string) (map[string]any, bool) {
	s.mu.Lock()
	doc, ok := s.indexes[index][id]
	s.mu.Unlock()
	return doc.body, ok
}

// Count returns the number of documents in an index.
func (s *InMemoryIndex) Count(index string) int {
	s.mu.Lock()
	n := len(s.indexes[index])
	s.mu.Unlock()
	return n
}

func (q Query) matches(body map[string]any) bool {
	for _, m := range q.Any {
		if v, ok := body[m.Field]; ok && fmt.Sprint(v) == m.Value {
			return true
		}
	}
	return false
}

var _ Client = (*InMemoryIndex)(nil)
