package deletion

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wardenid/warden/v1/eventbus"
	"github.com/wardenid/warden/v1/lock"
	"github.com/wardenid/warden/v1/metrics"
)

var tracer = otel.Tracer("github.com/wardenid/warden/v1/deletion")

const (
	defaultBatchSize = 20
	defaultLeaseTTL  = 5 * time.Minute
)

// Orchestrator drives the mark-for-delete workflow. Each invocation claims
// at most one submitted request under a per-request lease and dispatches it
// to the registered cascade handler. Contention losses and handler failures
// are absorbed: the former retries on the next cycle, the latter waits for
// the stall-recovery sweep.
type Orchestrator struct {
	store    Store
	locks    *lock.Manager
	registry *Registry

	bus   eventbus.Bus
	clock clock.Clock
	log   *zap.Logger

	batchSize int
	leaseTTL  time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBus publishes lifecycle events on the given bus.
func WithBus(bus eventbus.Bus) OrchestratorOption {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithClock sets the clock used for lifecycle timestamps.
func WithClock(c clock.Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the logger for the Orchestrator.
func WithLogger(log *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.log = log.With(zap.String("service", "deletion-orchestrator"))
	}
}

// WithBatchSize bounds how many requests one cycle fetches.
func WithBatchSize(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.batchSize = n
	}
}

// WithLeaseTTL sets the per-request lease duration.
func WithLeaseTTL(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.leaseTTL = d
	}
}

// NewOrchestrator returns an Orchestrator over the given request store, lock
// manager and handler registry.
func NewOrchestrator(store Store, locks *lock.Manager, registry *Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		locks:     locks,
		registry:  registry,
		clock:     clock.New(),
		log:       zap.NewNop(),
		batchSize: defaultBatchSize,
		leaseTTL:  defaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunOnce performs one orchestration cycle. It returns an error only for
// store or lease infrastructure failures; an idle cycle, a contention loss
// and a failed dispatch all return nil.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "deletion.RunOnce")
	defer span.End()

	reqs, err := o.store.ListOldestSubmitted(ctx, o.batchSize)
	if err != nil {
		return fmt.Errorf("list deletion requests: %w", err)
	}

	var claim *Request
	for i := range reqs {
		if reqs[i].Submitted() {
			claim = &reqs[i]
			break
		}
	}
	if claim == nil {
		return nil
	}
	req := *claim
	span.SetAttributes(
		attribute.String("deletion.id", req.MarkForDeleteID),
		attribute.String("deletion.object_type", string(req.ObjectType)),
	)

	lease, held, err := o.locks.Acquire(ctx, req.LockName(), o.leaseTTL)
	if err != nil {
		// Fail safe: an acquire failure means the guarded work must not run.
		return fmt.Errorf("acquire deletion lease: %w", err)
	}
	if !held {
		o.log.Debug("deletion claimed by another instance",
			zap.String("mark_for_delete_id", req.MarkForDeleteID))
		return nil
	}
	defer func() {
		// Release on every exit path; a failed dispatch must not hold the
		// lease for the full TTL.
		if rerr := lease.Release(context.Background()); rerr != nil {
			o.log.Warn("deletion lease release failed",
				zap.String("mark_for_delete_id", req.MarkForDeleteID), zap.Error(rerr))
		}
	}()

	started := o.clock.Now().UnixMilli()
	req.StartedAt = &started
	if err := o.store.Update(ctx, req); err != nil {
		return fmt.Errorf("mark deletion started: %w", err)
	}
	metrics.DeletionStartedCounter.Inc()
	o.publish(ctx, eventbus.KindStarted, req)

	if err := o.dispatch(ctx, req); err != nil {
		// Left started: the stall-recovery sweep returns it to submitted
		// after the threshold and the cascade retries from the top.
		metrics.DeletionFailedCounter.Inc()
		o.log.Error("deletion dispatch failed",
			zap.String("mark_for_delete_id", req.MarkForDeleteID),
			zap.String("object_id", req.ObjectID),
			zap.String("object_type", string(req.ObjectType)),
			zap.Error(err))
		o.publish(ctx, eventbus.KindFailed, req)
		return nil
	}

	completed := o.clock.Now().UnixMilli()
	req.CompletedAt = &completed
	if err := o.store.Update(ctx, req); err != nil {
		return fmt.Errorf("mark deletion completed: %w", err)
	}
	metrics.DeletionCompletedCounter.Inc()
	o.publish(ctx, eventbus.KindCompleted, req)
	o.log.Info("deletion completed",
		zap.String("mark_for_delete_id", req.MarkForDeleteID),
		zap.String("object_id", req.ObjectID),
		zap.String("object_type", string(req.ObjectType)))
	return nil
}

// dispatch runs the cascade handler for the request's object type. Unknown
// types are an extension point and complete as a no-op, so a request written
// by a newer server does not churn through stall recovery forever.
func (o *Orchestrator) dispatch(ctx context.Context, req Request) error {
	handler, ok := o.registry.Lookup(req.ObjectType)
	if !ok {
		o.log.Warn("no handler for object type, skipping cascade",
			zap.String("object_type", string(req.ObjectType)),
			zap.String("mark_for_delete_id", req.MarkForDeleteID))
		return nil
	}
	return handler.Delete(ctx, req)
}

func (o *Orchestrator) publish(ctx context.Context, kind eventbus.Kind, req Request) {
	if o.bus == nil {
		return
	}
	err := o.bus.Publish(ctx, eventbus.SubjectDeletions, eventbus.Event{
		Kind:            kind,
		MarkForDeleteID: req.MarkForDeleteID,
		ObjectID:        req.ObjectID,
		ObjectType:      string(req.ObjectType),
		At:              o.clock.Now().UnixMilli(),
	})
	if err != nil {
		o.log.Warn("publish deletion event failed",
			zap.String("kind", string(kind)), zap.Error(err))
	}
}
