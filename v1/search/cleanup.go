package search

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wardenid/warden/v1/metrics"
)

const (
	defaultCleanupThrottle = rate.Limit(100)
	defaultCleanupBudget   = 4 * time.Hour
	defaultDedupeWindow    = 10 * time.Minute
)

// RelationshipCleaner removes relationship documents that reference a
// deleted object. Launch is fire-and-forget: the caller returns while the
// bulk delete drains in the background under a throttle and a multi-hour
// budget. Failures only affect relationship-search freshness, never the
// primary deletion, so they are logged and dropped.
//
// Stall-recovery retries re-dispatch a deletion whose expensive cleanup may
// still be draining; a short-lived dedupe cache suppresses relaunching the
// same object's cleanup inside that window.
type RelationshipCleaner struct {
	client   Client
	index    string
	throttle rate.Limit
	budget   time.Duration
	log      *zap.Logger

	launched *ristretto.Cache
	window   time.Duration
	wg       sync.WaitGroup
	closed   sync.Once
}

// CleanerOption configures a RelationshipCleaner.
type CleanerOption func(*RelationshipCleaner)

// WithCleanerThrottle caps relationship deletions per second.
func WithCleanerThrottle(l rate.Limit) CleanerOption {
	return func(c *RelationshipCleaner) {
		c.throttle = l
	}
}

// WithCleanerBudget bounds how long one cleanup may drain.
func WithCleanerBudget(d time.Duration) CleanerOption {
	return func(c *RelationshipCleaner) {
		c.budget = d
	}
}

// WithCleanerDedupeWindow sets how long a launch suppresses duplicates for
// the same object id. A non-positive window disables deduplication.
func WithCleanerDedupeWindow(d time.Duration) CleanerOption {
	return func(c *RelationshipCleaner) {
		c.window = d
	}
}

// WithCleanerLogger sets the logger for the cleaner.
func WithCleanerLogger(log *zap.Logger) CleanerOption {
	return func(c *RelationshipCleaner) {
		c.log = log.With(zap.String("service", "relationship-cleaner"))
	}
}

// NewRelationshipCleaner returns a cleaner deleting from the given
// relationship index.
func NewRelationshipCleaner(client Client, index string, opts ...CleanerOption) (*RelationshipCleaner, error) {
	c := &RelationshipCleaner{
		client:   client,
		index:    index,
		throttle: defaultCleanupThrottle,
		budget:   defaultCleanupBudget,
		window:   defaultDedupeWindow,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	c.launched = cache
	return c, nil
}

// Launch starts the relationship cleanup for objectID without waiting for
// it. Duplicate launches inside the dedupe window are skipped.
func (c *RelationshipCleaner) Launch(objectID string) {
	if c.window > 0 {
		if _, seen := c.launched.Get(objectID); seen {
			metrics.CleanupSkippedCounter.Inc()
			c.log.Debug("relationship cleanup already draining",
				zap.String("object_id", objectID))
			return
		}
		c.launched.SetWithTTL(objectID, struct{}{}, 1, c.window)
	}

	metrics.CleanupInflightGauge.Inc()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer metrics.CleanupInflightGauge.Dec()
		c.drain(objectID)
	}()
}

// drain deletes relationship documents for both endpoints concurrently,
// splitting the throttle between them.
func (c *RelationshipCleaner) drain(objectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.budget)
	defer cancel()

	query := RelationshipQuery(objectID)
	perSide := c.throttle / rate.Limit(len(query.Any))

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range query.Any {
		g.Go(func() error {
			_, err := c.client.DeleteByQuery(gctx, c.index, Query{Any: []FieldMatch{m}}, DeleteByQueryOptions{
				Throttle:          perSide,
				TolerateConflicts: true,
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("relationship cleanup incomplete",
			zap.String("object_id", objectID), zap.Error(err))
		return
	}
	c.log.Debug("relationship cleanup drained", zap.String("object_id", objectID))
}

// Wait blocks until every launched cleanup has drained. It exists for
// orderly shutdown and tests; production callers normally never wait.
func (c *RelationshipCleaner) Wait() {
	c.wg.Wait()
}

// Close drains every launched cleanup and releases the dedupe cache's
// background goroutines. The cleaner must not be used after Close; calling
// Close more than once is a no-op.
func (c *RelationshipCleaner) Close() {
	c.closed.Do(func() {
		c.wg.Wait()
		c.launched.Close()
	})
}
