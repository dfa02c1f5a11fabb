package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wardenid/warden/v1/metrics"
)

var tracer = otel.Tracer("github.com/wardenid/warden/v1/lock")

// ErrNotAcquired is returned by Do when the lock is held elsewhere. Losing a
// contended acquisition is not a failure; callers skip the guarded work and
// retry on their next scheduled invocation.
var ErrNotAcquired = errors.New("lock: held by another instance")

// Lease is ownership of a lock obtained through Manager.Acquire. Release is
// idempotent and must fire on every exit path of the guarded work.
type Lease struct {
	store Store

	name       string
	instanceID string
	expiresAt  int64

	once sync.Once
}

// Name returns the lock name this lease protects.
func (l *Lease) Name() string { return l.name }

// InstanceID returns the instance id minted for this acquisition.
func (l *Lease) InstanceID() string { return l.instanceID }

// ExpiresAt returns the lease deadline in Unix milliseconds.
func (l *Lease) ExpiresAt() int64 { return l.expiresAt }

// Release deletes this lease's record. Calling Release more than once is a
// no-op; it never touches records owned by other instances.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		err = l.store.DeleteByInstance(ctx, l.name, l.instanceID)
		if err == nil {
			metrics.LockReleasedCounter.Inc()
		}
	})
	return err
}

// Manager implements acquire/verify/release semantics over a lease Store.
//
// When the store supports conditional inserts the winner is decided at write
// time. Otherwise the Manager inserts unconditionally and reads back every
// live record for the name, awarding the lock to the earliest-started one.
// The read-back heuristic has a residual race on backends whose insert
// visibility is not serialized with reads; the bundled memory and gorm
// stores serialize inserts, which makes the selection exact for them.
type Manager struct {
	store Store
	clock clock.Clock
	log   *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock used for lease timestamps.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger for the Manager.
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log.With(zap.String("service", "lock-manager"))
	}
}

// NewManager returns a Manager over the given lease store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		clock: clock.New(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire attempts to take the named lock for the given lease duration. It
// never blocks on contention: held reports whether the caller won, and a
// nil error with held=false means another instance owns the lock. A non-nil
// error must be treated exactly like held=false.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (lease *Lease, held bool, err error) {
	ctx, span := tracer.Start(ctx, "lock.Acquire", trace.WithAttributes(
		attribute.String("lock.name", name),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("lock.held", held))
		span.End()
	}()

	now := m.clock.Now().UnixMilli()
	rec := Record{
		LockName:       name,
		LockInstanceID: uuid.NewString(),
		LockStartTime:  now,
		LockExpiresAt:  now + ttl.Milliseconds(),
	}

	if cs, ok := m.store.(ConditionalStore); ok {
		won, err := cs.TryInsert(ctx, rec)
		if err != nil {
			return nil, false, err
		}
		if !won {
			metrics.LockContendedCounter.Inc()
			return nil, false, nil
		}
		metrics.LockAcquiredCounter.Inc()
		return m.lease(rec), true, nil
	}

	if err := m.store.Insert(ctx, rec); err != nil {
		return nil, false, err
	}
	recs, err := m.store.ListByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	winner, ok := selectWinner(recs, now)
	if !ok || winner.LockInstanceID != rec.LockInstanceID {
		metrics.LockContendedCounter.Inc()
		m.log.Debug("lost lock contention",
			zap.String("lock_name", name),
			zap.String("instance_id", rec.LockInstanceID))
		return nil, false, nil
	}
	metrics.LockAcquiredCounter.Inc()
	return m.lease(rec), true, nil
}

func (m *Manager) lease(rec Record) *Lease {
	return &Lease{
		store:      m.store,
		name:       rec.LockName,
		instanceID: rec.LockInstanceID,
		expiresAt:  rec.LockExpiresAt,
	}
}

// selectWinner picks the owning record: the earliest unexpired one in store
// order. Expired records are ignored so a crashed holder cannot block the
// lock past its lease deadline even before the sweep removes its record.
func selectWinner(recs []Record, now int64) (Record, bool) {
	for _, r := range recs {
		if r.Expired(now) {
			continue
		}
		return r, true
	}
	return Record{}, false
}

// Do runs fn under the named lock. It returns ErrNotAcquired when the lock is
// held elsewhere. The lease is released on every exit path, including a
// panicking fn; release uses a background context so shutdown cancellation
// cannot leave a long-lived stale lease behind.
func (m *Manager) Do(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, held, err := m.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	if !held {
		return ErrNotAcquired
	}
	defer func() {
		if rerr := lease.Release(context.Background()); rerr != nil {
			m.log.Warn("lease release failed",
				zap.String("lock_name", name), zap.Error(rerr))
		}
	}()
	return fn(ctx)
}

// SweepExpired removes lease records past their deadline. Deployments on
// backends without native TTL must schedule this as a maintenance job.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.clock.Now().UnixMilli())
	if err != nil {
		return n, err
	}
	if n > 0 {
		metrics.LeasesSweptCounter.Add(float64(n))
		m.log.Info("swept expired lease records", zap.Int("removed", n))
	}
	return n, nil
}
