// Package main is the entry point for the rule set authoring server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/coachbuilder/internal/capability"
	"github.com/pitabwire/coachbuilder/internal/config"
	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/internal/session"
	"github.com/pitabwire/coachbuilder/internal/transfer"
	"github.com/pitabwire/coachbuilder/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "coachbuilder", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics(prometheus.DefaultRegisterer)
	}

	// Step 4: Load the capability catalog.
	resolver, err := buildCapabilityResolver(cfg.Capability, metrics, logger)
	if err != nil {
		logger.Error("capability catalog load failed", zap.Error(err))
		return 1
	}

	// Step 5: Load published rule sets, validate, build registry.
	docs, err := loadRuleSets(cfg.RuleSets, resolver, logger)
	if err != nil {
		logger.Error("rule set loading failed", zap.Error(err))
		return 1
	}
	registry := ruleset.NewRegistry(docs)
	if metrics != nil {
		metrics.SetRuleSetsPublished(registry.Len())
	}
	publisher := transfer.NewPublisher(registry, resolver, cfg.RuleSets.PublishDir)

	// Step 6: Initialize the session store.
	store, storeCloser, err := buildSessionStore(ctx, cfg.Sessions, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}

	manager := session.NewManager(store, cfg.Sessions.TTL,
		session.WithProfiles(resolver),
		session.WithObserver(newSessionObserver(metrics, logger)),
	)

	// Step 7: Build HTTP router.
	keys := transport.NewKeySet(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	if err := keys.Refresh(ctx); err != nil {
		logger.Warn("identity provider keys unavailable at startup", zap.Error(err))
	}

	readiness := observability.ReadinessChecks{
		RuleSetsLoaded: func() bool { return registry.Len() > 0 || len(cfg.RuleSets.Directories) == 0 },
		Catalog:        observability.CheckFunc(func(context.Context) error { return resolver.Ping() }),
	}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		readiness.SessionStore = observability.CheckFunc(p.Ping)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Authenticator: transport.NewJWTAuthenticator(cfg.Identity, keys, logger),
		Sessions:      manager,
		RuleSets:      registry,
		Publisher:     publisher,
		Capabilities:  resolver,
		Metrics:       metrics,
		Readiness:     readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 8: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runSessionSweeper(bgCtx, manager, cfg.Sessions.SweepInterval, metrics, logger)

	// Step 9: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("rule_sets", registry.Len()),
		zap.String("session_driver", cfg.Sessions.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if storeCloser != nil {
		storeCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildCapabilityResolver loads the capability catalog and reports every
// later reload to metrics and logs.
func buildCapabilityResolver(cfg config.CapabilityConfig, metrics *observability.Metrics, logger *zap.Logger) (*capability.Resolver, error) {
	source := capability.FileSource{CapabilityPath: cfg.CatalogFile, MetricPath: cfg.MetricCatalogFile}
	resolver, err := capability.NewResolver(source, cfg.Cache.TTL)
	if err != nil {
		return nil, err
	}

	report := func(snap capability.Snapshot, err error) {
		status := "success"
		if err != nil {
			status = "failure"
			logger.Warn("capability catalog reload failed, keeping previous catalog", zap.Error(err))
		}
		if metrics != nil {
			metrics.RecordCatalogReload(status, len(snap.Capabilities.Profiles), len(snap.Metrics.Metrics))
		}
	}
	resolver.OnSync(report)
	report(capability.Snapshot{Capabilities: resolver.Catalog(), Metrics: resolver.Metrics()}, nil)

	logger.Info("capability catalog loaded",
		zap.String("file", cfg.CatalogFile),
		zap.Int("profiles", len(resolver.Catalog().Profiles)),
	)
	return resolver, nil
}

// loadRuleSets reads the published directories and validates every document
// against its capability profile. Invalid documents stop startup when
// failOnInvalid is set and are skipped otherwise.
func loadRuleSets(cfg config.RuleSetsConfig, profiles transfer.ProfileResolver, logger *zap.Logger) ([]ruleset.Document, error) {
	dirs := cfg.Directories
	if cfg.PublishDir != "" {
		if _, err := os.Stat(cfg.PublishDir); err == nil {
			dirs = append(append([]string{}, dirs...), cfg.PublishDir)
		}
	}

	docs, err := ruleset.NewLoader().LoadAll(dirs)
	if err != nil {
		return nil, err
	}

	valid := make([]ruleset.Document, 0, len(docs))
	for _, doc := range docs {
		errs := transfer.Validate(doc.RuleSet, transfer.ImportOptions{Profiles: profiles})
		if len(errs) == 0 {
			valid = append(valid, doc)
			continue
		}
		fields := append(observability.ValidationFields(errs),
			zap.String("file", doc.SourceFile),
			zap.String("rule_set_id", doc.RuleSet.RuleSetID),
		)
		if cfg.FailOnInvalid {
			logger.Error("published rule set does not validate", fields...)
			return nil, fmt.Errorf("%s: %w", doc.SourceFile, ruleset.Errors(errs))
		}
		logger.Warn("skipping published rule set that does not validate", fields...)
	}
	return valid, nil
}

// buildSessionStore creates the session store based on config. The returned
// closer is nil for stores that hold no connections.
func buildSessionStore(ctx context.Context, cfg config.SessionsConfig, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), nil, nil

	case config.DriverPostgres:
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("session store: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("session store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("session store: ping: %w", err)
		}

		store := session.NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("session store: %w", err)
		}
		logger.Info("using postgres session store")
		return store, pool.Close, nil

	case config.DriverRedis:
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}

		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("session store: ping: %w", err)
		}
		logger.Info("using redis session store", zap.String("addr", addr))
		return session.NewRedisStore(client, cfg.TTL), func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

// runSessionSweeper periodically deletes expired sessions.
func runSessionSweeper(ctx context.Context, mgr *session.Manager, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := mgr.ProcessExpired(ctx)
			if err != nil {
				logger.Error("expired session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", zap.Int("count", n))
				if metrics != nil {
					metrics.RecordSessionsExpired(n)
				}
			}
		}
	}
}
