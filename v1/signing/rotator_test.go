package signing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wardenid/warden/v1/lock"
)

const day = 24 * time.Hour

type stubGenerator struct {
	calls int
	err   error
}

func (g *stubGenerator) GenerateSigningKey(_ context.Context, name string, _ int64) (Material, error) {
	g.calls++
	if g.err != nil {
		return Material{}, g.err
	}
	return Material{
		PrivateKey:  "private-" + name,
		Certificate: "cert-" + name,
		Passphrase:  "pass-" + name,
	}, nil
}

type stubTenants struct{}

func (stubTenants) RootTenant(context.Context) (Tenant, error) {
	return Tenant{ID: "tenant-root", Name: "root"}, nil
}

func newTestRotator(t *testing.T, mock *clock.Mock) (*Rotator, *InMemoryKeyStore, *stubGenerator) {
	t.Helper()
	store := NewInMemoryKeyStore()
	gen := &stubGenerator{}
	locks := lock.NewManager(lock.NewInMemoryStore(), lock.WithClock(mock))
	r := NewRotator(locks, store, gen, stubTenants{}, WithRotatorClock(mock))
	return r, store, gen
}

func TestRotationTriggers(t *testing.T) {
	cases := []struct {
		name   string
		seed   func(mock *clock.Mock) Key
		rotate bool
	}{
		{
			name:   "no keys",
			rotate: true,
		},
		{
			name: "newest revoked",
			seed: func(mock *clock.Mock) Key {
				now := mock.Now().UnixMilli()
				return Key{ID: "k1", TenantID: "tenant-root", Status: StatusRevoked,
					NotBefore: now, NotAfter: now + (100 * day).Milliseconds()}
			},
			rotate: true,
		},
		{
			name: "newest past max age",
			seed: func(mock *clock.Mock) Key {
				now := mock.Now().UnixMilli()
				return Key{ID: "k1", TenantID: "tenant-root", Status: StatusActive,
					NotBefore: now - (91 * day).Milliseconds(),
					NotAfter:  now + (60 * day).Milliseconds()}
			},
			rotate: true,
		},
		{
			name: "newest near expiry",
			seed: func(mock *clock.Mock) Key {
				now := mock.Now().UnixMilli()
				return Key{ID: "k1", TenantID: "tenant-root", Status: StatusActive,
					NotBefore: now - (10 * day).Milliseconds(),
					NotAfter:  now + (30 * day).Milliseconds()}
			},
			rotate: true,
		},
		{
			name: "healthy key",
			seed: func(mock *clock.Mock) Key {
				now := mock.Now().UnixMilli()
				return Key{ID: "k1", TenantID: "tenant-root", Status: StatusActive,
					NotBefore: now - (10 * day).Milliseconds(),
					NotAfter:  now + (100 * day).Milliseconds()}
			},
			rotate: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := clock.NewMock()
			mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
			r, store, gen := newTestRotator(t, mock)
			ctx := context.Background()

			seeded := 0
			if tc.seed != nil {
				if err := store.Create(ctx, tc.seed(mock)); err != nil {
					t.Fatalf("seed key: %v", err)
				}
				seeded = 1
			}

			if err := r.RunOnce(ctx); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}

			wantCalls := 0
			if tc.rotate {
				wantCalls = 1
			}
			if gen.calls != wantCalls {
				t.Fatalf("generator calls: got %d, want %d", gen.calls, wantCalls)
			}
			keys, err := store.KeysForTenant(ctx, "tenant-root")
			if err != nil {
				t.Fatalf("KeysForTenant: %v", err)
			}
			if got, want := len(keys), seeded+wantCalls; got != want {
				t.Fatalf("key count: got %d, want %d", got, want)
			}
			if tc.rotate {
				newest := keys[0]
				if newest.Status != StatusActive {
					t.Fatalf("new key status: got %q, want %q", newest.Status, StatusActive)
				}
				wantNotAfter := mock.Now().Add(120 * day).UnixMilli()
				if newest.NotAfter != wantNotAfter {
					t.Fatalf("new key NotAfter: got %d, want %d", newest.NotAfter, wantNotAfter)
				}
				if newest.ID == "" || newest.ID == "k1" {
					t.Fatalf("new key did not get a fresh id: %q", newest.ID)
				}
				if newest.PrivateKey == "" || newest.Certificate == "" {
					t.Fatalf("new key missing material: %+v", newest)
				}
			}
		})
	}
}

func TestRotationSkipsWhenLockHeld(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	leaseStore := lock.NewInMemoryStore()
	locks := lock.NewManager(leaseStore, lock.WithClock(mock))

	// Another process already holds the rotation lock.
	other := lock.NewManager(leaseStore, lock.WithClock(mock))
	lease, held, err := other.Acquire(context.Background(), RotationLockName, time.Minute)
	if err != nil || !held {
		t.Fatalf("pre-acquire: held=%v err=%v", held, err)
	}
	defer lease.Release(context.Background())

	gen := &stubGenerator{}
	r := NewRotator(locks, NewInMemoryKeyStore(), gen, stubTenants{}, WithRotatorClock(mock))
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce under contention: %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called despite lost contention: %d", gen.calls)
	}
}

func TestRotationReleasesLeaseOnGeneratorError(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r, store, gen := newTestRotator(t, mock)
	ctx := context.Background()

	gen.err = errors.New("hsm unavailable")
	if err := r.RunOnce(ctx); err == nil {
		t.Fatal("expected error from failing generator")
	}
	keys, _ := store.KeysForTenant(ctx, "tenant-root")
	if len(keys) != 0 {
		t.Fatalf("no key should persist after generator failure, got %d", len(keys))
	}

	// The lease must have been released: the retry succeeds immediately.
	gen.err = nil
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce after recovery: %v", err)
	}
	keys, _ = store.KeysForTenant(ctx, "tenant-root")
	if len(keys) != 1 {
		t.Fatalf("expected one key after recovery, got %d", len(keys))
	}
}

func TestKeysForTenantOrdersNewestExpiryFirst(t *testing.T) {
	store := NewInMemoryKeyStore()
	ctx := context.Background()
	for _, k := range []Key{
		{ID: "old", TenantID: "t1", NotAfter: 100},
		{ID: "new", TenantID: "t1", NotAfter: 300},
		{ID: "mid", TenantID: "t1", NotAfter: 200},
		{ID: "other", TenantID: "t2", NotAfter: 999},
	} {
		if err := store.Create(ctx, k); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	keys, err := store.KeysForTenant(ctx, "t1")
	if err != nil {
		t.Fatalf("KeysForTenant: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys for t1, got %d", len(keys))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if keys[i].ID != want {
			t.Fatalf("order[%d]: got %q, want %q", i, keys[i].ID, want)
		}
	}
}
