package signing

import (
	"context"
	"sort"
	"sync"
)

// KeyStore persists signing keys per tenant.
type KeyStore interface {
	// KeysForTenant returns all keys owned by the tenant, newest expiry
	// first.
	KeysForTenant(ctx context.Context, tenantID string) ([]Key, error)
	// Create persists a new key.
	Create(ctx context.Context, key Key) error
}

// InMemoryKeyStore is a KeyStore backed by a map. Safe for concurrent use.
type InMemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string][]Key
}

// NewInMemoryKeyStore creates an empty in-memory key store.
func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{keys: make(map[string][]Key)}
}

func (s *InMemoryKeyStore) KeysForTenant(_ context.Context, tenantID string) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Key, len(s.keys[tenantID]))
	copy(out, s.keys[tenantID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NotAfter > out[j].NotAfter
	})
	return out, nil
}

func (s *InMemoryKeyStore) Create(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[key.TenantID] = append(s.keys[key.TenantID], key)
	return nil
}
