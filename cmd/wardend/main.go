// wardend runs the warden coordination jobs standalone: the deletion
// orchestrator, the maintenance sweeps, and the signing-key rotation, each
// guarded by the lease-based lock manager so any number of wardend processes
// can run side by side.
//
// Lease records live in Redis when --redis-addr is set (native TTL, winner
// decided at write time) and otherwise in the relational store given by
// --db-dsn, falling back to in-process memory for local runs. Deletion
// requests and signing keys follow --db-dsn the same way. The built-in
// object handlers delete search-index documents and log the relational
// delete; deployments embed the packages and register their own DAOs for
// real cascades.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wardenid/warden/v1/deletion"
	"github.com/wardenid/warden/v1/eventbus"
	"github.com/wardenid/warden/v1/lock"
	"github.com/wardenid/warden/v1/logging"
	"github.com/wardenid/warden/v1/metrics"
	"github.com/wardenid/warden/v1/scheduler"
	"github.com/wardenid/warden/v1/search"
	"github.com/wardenid/warden/v1/signing"
)

var (
	logLevel  = pflag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat = pflag.String("log-format", "json", "Log encoding (json, console)")

	redisAddr   = pflag.String("redis-addr", "", "Redis address for lease records (native TTL); empty disables Redis")
	dbDSN       = pflag.String("db-dsn", "", "Postgres DSN for deletion requests and signing keys; empty uses in-process memory")
	natsURL     = pflag.String("nats-url", "", "NATS URL for lifecycle events; empty uses the in-process bus")
	metricsAddr = pflag.String("metrics-addr", ":9600", "Listen address for the Prometheus /metrics endpoint")

	objectIndex       = pflag.String("object-index", "objects", "Search index holding object documents")
	relationshipIndex = pflag.String("relationship-index", "relationships", "Search index holding relationship documents")

	orchestrateEvery = pflag.Duration("orchestrate-every", 5*time.Minute, "Deletion orchestrator cadence")
	sweepEvery       = pflag.Duration("sweep-every", 5*time.Minute, "Maintenance sweep cadence")
	rotateEvery      = pflag.Duration("rotate-every", 30*24*time.Hour, "Signing-key rotation cadence")

	tenantID   = pflag.String("tenant-id", "root", "Root tenant id owning the signing-key set")
	tenantName = pflag.String("tenant-name", "root", "Root tenant name used in key names")

	tracing = pflag.Bool("tracing", false, "Emit traces to stdout")
)

func main() {
	pflag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wardend: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := logging.New(logging.Config{Level: *logLevel, Format: *logFormat})
	if err != nil {
		return err
	}
	defer log.Sync()

	if *tracing {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)

	var db *gorm.DB
	if *dbDSN != "" {
		db, err = gorm.Open(postgres.Open(*dbDSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
	}

	// Lease store: Redis when available, then relational, then memory.
	var leaseStore lock.Store
	switch {
	case *redisAddr != "":
		leaseStore = lock.NewRedisStore(redis.NewClient(&redis.Options{Addr: *redisAddr}))
		log.Info("lease records in redis", zap.String("addr", *redisAddr))
	case db != nil:
		leaseStore = lock.NewGormStore(db)
		log.Info("lease records in relational store")
	default:
		leaseStore = lock.NewInMemoryStore()
		log.Warn("lease records in process memory, no cross-process exclusion")
	}
	locks := lock.NewManager(leaseStore, lock.WithLogger(log))

	var requests deletion.Store
	var keys signing.KeyStore
	if db != nil {
		requests = deletion.NewGormStore(db)
		keys = signing.NewGormKeyStore(db)
	} else {
		requests = deletion.NewInMemoryStore()
		keys = signing.NewInMemoryKeyStore()
	}

	var bus eventbus.Bus
	if *natsURL != "" {
		conn, err := nats.Connect(*natsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer conn.Close()
		bus = eventbus.NewNATSBus(conn)
		log.Info("lifecycle events on nats", zap.String("url", *natsURL))
	} else {
		bus = eventbus.NewInMemoryBus()
	}

	index := search.NewInMemoryIndex()
	cleaner, err := search.NewRelationshipCleaner(index, *relationshipIndex,
		search.WithCleanerLogger(log))
	if err != nil {
		return err
	}

	registry := deletion.NewRegistry()
	for _, objectType := range []deletion.ObjectType{
		deletion.TypeClient,
		deletion.TypeAuthenticationGroup,
		deletion.TypeAuthorizationGroup,
	} {
		objectType := objectType
		dao := deletion.DAOFunc(func(_ context.Context, objectID string) error {
			log.Info("relational delete delegated to embedding service",
				zap.String("object_type", string(objectType)),
				zap.String("object_id", objectID))
			return nil
		})
		registry.Register(objectType,
			deletion.NewObjectHandler(dao, index, *objectIndex, cleaner))
	}

	orchestrator := deletion.NewOrchestrator(requests, locks, registry,
		deletion.WithBus(bus),
		deletion.WithLogger(log))
	sweeper := deletion.NewSweeper(requests,
		deletion.WithSweeperBus(bus),
		deletion.WithSweeperLogger(log))
	rotator := signing.NewRotator(locks, keys, selfSignedGenerator{}, staticTenant{
		id:   *tenantID,
		name: *tenantName,
	}, signing.WithRotatorLogger(log))

	driver := scheduler.NewDriver(scheduler.WithLogger(log))
	driver.Register("deletion-orchestrator", *orchestrateEvery, orchestrator.RunOnce)
	driver.Register("stall-recovery", *sweepEvery, func(ctx context.Context) error {
		_, err := sweeper.RecoverStalled(ctx)
		return err
	})
	driver.Register("completed-purge", *sweepEvery, func(ctx context.Context) error {
		_, err := sweeper.PurgeCompleted(ctx)
		return err
	})
	driver.Register("lease-sweep", *sweepEvery, func(ctx context.Context) error {
		_, err := locks.SweepExpired(ctx)
		return err
	})
	driver.Register("signing-key-rotation", *rotateEvery, rotator.RunOnce)

	if err := driver.Open(ctx); err != nil {
		return err
	}
	defer driver.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		log.Info("metrics listening", zap.String("addr", *metricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	cleaner.Close()
	return nil
}

// staticTenant resolves the root tenant from flags; identity deployments
// replace this with a lookup against their tenant directory.
type staticTenant struct {
	id   string
	name string
}

func (t staticTenant) RootTenant(context.Context) (signing.Tenant, error) {
	return signing.Tenant{ID: t.id, Name: t.name}, nil
}

// selfSignedGenerator mints RSA signing keys with self-signed certificates.
type selfSignedGenerator struct{}

func (selfSignedGenerator) GenerateSigningKey(_ context.Context, name string, notAfter int64) (signing.Material, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return signing.Material{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return signing.Material{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now(),
		NotAfter:     time.UnixMilli(notAfter),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return signing.Material{}, err
	}
	passphrase, err := uuid.GenerateUUID()
	if err != nil {
		return signing.Material{}, err
	}
	return signing.Material{
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{
			Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv),
		})),
		Certificate: string(pem.EncodeToMemory(&pem.Block{
			Type: "CERTIFICATE", Bytes: der,
		})),
		Passphrase: passphrase,
	}, nil
}
