package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wardenid/warden/v1/metrics"
)

// JobFunc is a single invocation of a scheduled job.
type JobFunc func(ctx context.Context) error

type job struct {
	name  string
	every time.Duration
	fn    JobFunc
}

// Driver invokes registered jobs on their cadence, one goroutine per job.
// A slow invocation delays only its own job's next tick; jobs never run
// concurrently with themselves within a process.
type Driver struct {
	clock clock.Clock
	log   *zap.Logger

	mu     sync.Mutex
	jobs   []job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithClock sets the clock used for tick scheduling.
func WithClock(c clock.Clock) DriverOption {
	return func(d *Driver) {
		d.clock = c
	}
}

// WithLogger sets the logger for the Driver.
func WithLogger(log *zap.Logger) DriverOption {
	return func(d *Driver) {
		d.log = log.With(zap.String("service", "scheduler"))
	}
}

// NewDriver returns an empty Driver.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		clock: clock.New(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a job to run every interval once the driver is opened.
// Registering after Open has no effect until the driver is reopened.
func (d *Driver) Register(name string, every time.Duration, fn JobFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job{name: name, every: every, fn: fn})
}

// Open starts the registered jobs. Calling Open on a running driver is a
// no-op.
func (d *Driver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return nil
	}

	ctx, d.cancel = context.WithCancel(ctx)
	for _, j := range d.jobs {
		d.log.Info("starting scheduled job",
			zap.String("job", j.name),
			zap.Duration("every", j.every))
		d.wg.Add(1)
		go d.run(ctx, j)
	}
	return nil
}

// Close stops all jobs and waits for in-flight invocations to return.
func (d *Driver) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	d.wg.Wait()
	return nil
}

func (d *Driver) run(ctx context.Context, j job) {
	defer d.wg.Done()

	ticker := d.clock.Ticker(j.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.invoke(ctx, j)
		case <-ctx.Done():
			d.log.Info("stopping scheduled job", zap.String("job", j.name))
			return
		}
	}
}

func (d *Driver) invoke(ctx context.Context, j job) {
	metrics.JobRunsCounter.WithLabelValues(j.name).Inc()
	start := d.clock.Now()
	if err := j.fn(ctx); err != nil {
		metrics.JobFailuresCounter.WithLabelValues(j.name).Inc()
		d.log.Warn("scheduled job failed",
			zap.String("job", j.name),
			zap.Duration("elapsed", d.clock.Since(start)),
			zap.Error(err))
		return
	}
	d.log.Debug("scheduled job completed",
		zap.String("job", j.name),
		zap.Duration("elapsed", d.clock.Since(start)))
}
