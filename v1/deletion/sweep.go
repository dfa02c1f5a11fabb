package deletion

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wardenid/warden/v1/eventbus"
	"github.com/wardenid/warden/v1/metrics"
)

const defaultStallAfter = 24 * time.Hour

// Sweeper runs the deletion maintenance sweeps: stall recovery and
// completed-record purge. Both scan the whole store and may run on any
// cadence from any number of processes; their mutations are idempotent.
type Sweeper struct {
	store      Store
	bus        eventbus.Bus
	clock      clock.Clock
	log        *zap.Logger
	stallAfter time.Duration
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperBus publishes recovery events on the given bus.
func WithSweeperBus(bus eventbus.Bus) SweeperOption {
	return func(s *Sweeper) {
		s.bus = bus
	}
}

// WithSweeperClock sets the clock used for stall cutoffs.
func WithSweeperClock(c clock.Clock) SweeperOption {
	return func(s *Sweeper) {
		s.clock = c
	}
}

// WithSweeperLogger sets the logger for the Sweeper.
func WithSweeperLogger(log *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.log = log.With(zap.String("service", "deletion-sweeper"))
	}
}

// WithStallAfter sets how long a started request may run before the sweep
// un-claims it.
func WithStallAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.stallAfter = d
	}
}

// NewSweeper returns a Sweeper over the given request store.
func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:      store,
		clock:      clock.New(),
		log:        zap.NewNop(),
		stallAfter: defaultStallAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStalled returns every request claimed longer than the stall
// threshold ago and never completed back to submitted, making it eligible
// for re-claim. It returns how many requests were recovered.
func (s *Sweeper) RecoverStalled(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.stallAfter).UnixMilli()
	reqs, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, req := range reqs {
		if !req.StalledSince(cutoff) {
			continue
		}
		req.StartedAt = nil
		if err := s.store.Update(ctx, req); err != nil {
			return recovered, err
		}
		recovered++
		metrics.DeletionRecoveredCounter.Inc()
		s.log.Warn("recovered stalled deletion request",
			zap.String("mark_for_delete_id", req.MarkForDeleteID),
			zap.String("object_type", string(req.ObjectType)))
		if s.bus != nil {
			_ = s.bus.Publish(ctx, eventbus.SubjectDeletions, eventbus.Event{
				Kind:            eventbus.KindRecovered,
				MarkForDeleteID: req.MarkForDeleteID,
				ObjectID:        req.ObjectID,
				ObjectType:      string(req.ObjectType),
				At:              s.clock.Now().UnixMilli(),
			})
		}
	}
	return recovered, nil
}

// PurgeCompleted physically deletes every completed request and returns how
// many were removed.
func (s *Sweeper) PurgeCompleted(ctx context.Context) (int, error) {
	reqs, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, req := range reqs {
		if req.CompletedAt == nil {
			continue
		}
		if err := s.store.Delete(ctx, req.MarkForDeleteID); err != nil {
			return purged, err
		}
		purged++
		metrics.DeletionPurgedCounter.Inc()
	}
	if purged > 0 {
		s.log.Info("purged completed deletion requests", zap.Int("purged", purged))
	}
	return purged, nil
}
