package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wardenid/warden/v1/lock"
	"github.com/wardenid/warden/v1/metrics"
)

var tracer = otel.Tracer("github.com/wardenid/warden/v1/signing")

// RotationLockName is the fixed global lock serializing key rotation across
// processes.
const RotationLockName = "signing-key-rotation"

const (
	defaultMaxKeyAge     = 90 * 24 * time.Hour
	defaultRenewalWindow = 31 * 24 * time.Hour
	defaultKeyValidity   = 120 * 24 * time.Hour
	defaultLeaseTTL      = 5 * time.Minute
)

// Rotator issues a fresh signing key for the root tenant whenever the newest
// existing key is missing, revoked, too old, or close to expiry.
type Rotator struct {
	locks     *lock.Manager
	keys      KeyStore
	generator Generator
	tenants   TenantResolver

	clock         clock.Clock
	log           *zap.Logger
	maxKeyAge     time.Duration
	renewalWindow time.Duration
	keyValidity   time.Duration
	leaseTTL      time.Duration
}

// RotatorOption configures a Rotator.
type RotatorOption func(*Rotator)

// WithRotatorClock sets the clock used for trigger evaluation.
func WithRotatorClock(c clock.Clock) RotatorOption {
	return func(r *Rotator) {
		r.clock = c
	}
}

// WithRotatorLogger sets the logger for the Rotator.
func WithRotatorLogger(log *zap.Logger) RotatorOption {
	return func(r *Rotator) {
		r.log = log.With(zap.String("service", "signing-rotator"))
	}
}

// WithMaxKeyAge sets the age past which the newest key forces rotation.
func WithMaxKeyAge(d time.Duration) RotatorOption {
	return func(r *Rotator) {
		r.maxKeyAge = d
	}
}

// WithRenewalWindow sets how close to expiry the newest key may get before
// rotation fires.
func WithRenewalWindow(d time.Duration) RotatorOption {
	return func(r *Rotator) {
		r.renewalWindow = d
	}
}

// WithKeyValidity sets the validity span of newly issued keys.
func WithKeyValidity(d time.Duration) RotatorOption {
	return func(r *Rotator) {
		r.keyValidity = d
	}
}

// WithRotatorLeaseTTL sets the lease duration for the rotation lock.
func WithRotatorLeaseTTL(d time.Duration) RotatorOption {
	return func(r *Rotator) {
		r.leaseTTL = d
	}
}

// NewRotator returns a Rotator wired to the given collaborators.
func NewRotator(locks *lock.Manager, keys KeyStore, generator Generator, tenants TenantResolver, opts ...RotatorOption) *Rotator {
	r := &Rotator{
		locks:         locks,
		keys:          keys,
		generator:     generator,
		tenants:       tenants,
		clock:         clock.New(),
		log:           zap.NewNop(),
		maxKeyAge:     defaultMaxKeyAge,
		renewalWindow: defaultRenewalWindow,
		keyValidity:   defaultKeyValidity,
		leaseTTL:      defaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs a single rotation pass. Losing the rotation lock to
// another process is a silent no-op; the lease is released on every exit
// path, so a failed generation attempt is retried on the next scheduled run
// with the expiry triggers still true.
func (r *Rotator) RunOnce(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "signing.RunOnce")
	defer span.End()

	tenant, err := r.tenants.RootTenant(ctx)
	if err != nil {
		return fmt.Errorf("resolve root tenant: %w", err)
	}

	err = r.locks.Do(ctx, RotationLockName, r.leaseTTL, func(ctx context.Context) error {
		return r.rotate(ctx, tenant)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		r.log.Debug("rotation lock held elsewhere, skipping")
		return nil
	}
	return err
}

func (r *Rotator) rotate(ctx context.Context, tenant Tenant) error {
	keys, err := r.keys.KeysForTenant(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("list signing keys: %w", err)
	}

	reason, due := r.rotationDue(keys)
	if !due {
		r.log.Debug("signing key still healthy, no rotation",
			zap.String("tenant_id", tenant.ID))
		return nil
	}
	r.log.Info("rotating signing key",
		zap.String("tenant_id", tenant.ID),
		zap.String("reason", reason))

	now := r.clock.Now()
	notAfter := now.Add(r.keyValidity).UnixMilli()
	name := fmt.Sprintf("%s-signing-%d", tenant.Name, now.UnixMilli())

	material, err := r.generator.GenerateSigningKey(ctx, name, notAfter)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("mint key id: %w", err)
	}
	key := Key{
		ID:          id,
		Name:        name,
		TenantID:    tenant.ID,
		Status:      StatusActive,
		NotBefore:   now.UnixMilli(),
		NotAfter:    notAfter,
		Certificate: material.Certificate,
		PrivateKey:  material.PrivateKey,
		Passphrase:  material.Passphrase,
	}
	if err := r.keys.Create(ctx, key); err != nil {
		return fmt.Errorf("persist signing key: %w", err)
	}

	metrics.KeysRotatedCounter.Inc()
	r.log.Info("signing key rotated",
		zap.String("tenant_id", tenant.ID),
		zap.String("key_id", key.ID),
		zap.Int64("not_after_ms", key.NotAfter))
	return nil
}

// rotationDue evaluates the triggers against the newest key by expiry. keys
// must be ordered newest expiry first, as KeyStore.KeysForTenant guarantees.
func (r *Rotator) rotationDue(keys []Key) (string, bool) {
	if len(keys) == 0 {
		return "no keys", true
	}
	newest := keys[0]
	if newest.Revoked() {
		return "newest key revoked", true
	}
	now := r.clock.Now().UnixMilli()
	if now-newest.NotBefore > r.maxKeyAge.Milliseconds() {
		return "newest key past max age", true
	}
	if newest.NotAfter-now <= r.renewalWindow.Milliseconds() {
		return "newest key near expiry", true
	}
	return "", false
}
