package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/tenantgate/pkg/access"
	"github.com/platinummonkey/tenantgate/pkg/api"
	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/manager"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/session"
	"github.com/platinummonkey/tenantgate/pkg/storage"
	"github.com/platinummonkey/tenantgate/pkg/storage/document"
	"github.com/platinummonkey/tenantgate/pkg/storage/relational"
	"github.com/platinummonkey/tenantgate/pkg/tenancy"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenantgate: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "tenantgate").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tenantgate exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: serviceVersion(cfg),
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}

	// Manager tenant
	if cfg.Manager.RunMigrations {
		logger.Info("Running manager schema migrations")
		if err := manager.Migrate(cfg.Manager.Driver, cfg.Manager.DSN); err != nil {
			return fmt.Errorf("migrate manager schema: %w", err)
		}
	}
	db, err := sqlx.Open(cfg.Manager.Driver, cfg.Manager.DSN)
	if err != nil {
		return fmt.Errorf("open manager database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Manager.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Manager.MaxIdleConns)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Tenancy.ConnectTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		db.Close()
		return fmt.Errorf("ping manager database: %w", err)
	}
	managerStore := manager.NewStore(db)

	// Caches
	accessCache := access.NewAccessCache(logger, metrics)
	if err := accessCache.Load(ctx, managerStore); err != nil {
		db.Close()
		return fmt.Errorf("load access cache: %w", err)
	}
	routeCache := access.NewRouteCache(cfg.Tenancy.RouteCacheSize, logger, metrics)

	// Tenant registry
	tenants, err := tenancy.NewRegistry(tenancy.Options{
		Capacity:       cfg.Tenancy.CacheSize,
		ConnectTimeout: cfg.Tenancy.ConnectTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create tenant registry: %w", err)
	}
	tenants.AddListener(accessCache)
	tenants.AddListener(routeCache)
	if cfg.Manager.TenantID > 0 {
		tenants.Set(cfg.Manager.TenantID, tenancy.NewConnection(cfg.Manager.TenantID, relational.NewConn(db), true))
	}

	factory := storage.NewFactory()
	factory.Register(storage.KindRelational, relational.Opener(relational.PoolConfig{
		MaxOpenConns:    cfg.Tenancy.MaxOpenConns,
		MaxIdleConns:    cfg.Tenancy.MaxIdleConns,
		ConnMaxIdleTime: cfg.Tenancy.ConnMaxIdle,
		PingTimeout:     cfg.Tenancy.ConnectTimeout,
	}))
	factory.Register(storage.KindDocument, document.Opener(cfg.Tenancy.ConnectTimeout))
	connector := tenancy.NewConnector(tenants, factory, managerStore)
	logger.WithField("kinds", factory.Kinds()).Info("Tenant store kinds registered")

	// Sessions
	sessions, err := session.NewStore(ctx, session.Options{
		RedisURL:      cfg.Session.RedisURL,
		RedisPassword: cfg.Session.RedisPassword,
		RedisDB:       cfg.Session.RedisDB,
		RedisPoolSize: cfg.Session.RedisPoolSize,
		DefaultTTL:    cfg.Session.DefaultTTL,
		SweepSchedule: cfg.Session.SweepSchedule,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		tenants.Close(ctx)
		db.Close()
		return fmt.Errorf("create session store: %w", err)
	}
	var redisClient *redis.Client
	if backend, ok := sessions.Backend().(*session.RedisBackend); ok {
		redisClient = backend.Client()
	}
	cookies := session.CookieConfig{
		Name:     cfg.Session.CookieName,
		Path:     cfg.Session.CookiePath,
		Domain:   cfg.Session.CookieDomain,
		Secure:   cfg.Session.CookieSecure,
		SameSite: cfg.Session.CookieSameSite,
		HTTPOnly: true,
	}

	// Identity provider
	var mappings *auth.ProviderMappings
	if cfg.Auth.MappingsFile != "" {
		if mappings, err = auth.LoadProviderMappings(cfg.Auth.MappingsFile); err != nil {
			return errors.Join(fmt.Errorf("load provider mappings: %w", err), closeAll(ctx, tenants, sessions, db))
		}
	}
	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		JWKSURL:           cfg.Auth.JWKSURL,
		Issuers:           cfg.Auth.Issuers,
		Audiences:         cfg.Auth.Audiences,
		SigningAlgorithms: cfg.Auth.SigningAlgorithms,
		Provider:          cfg.Auth.Provider,
		Mappings:          mappings,
		HTTPTimeout:       cfg.Auth.HTTPTimeout,
	})
	if err != nil {
		return errors.Join(fmt.Errorf("create token verifier: %w", err), closeAll(ctx, tenants, sessions, db))
	}
	var refresher middleware.TokenRefresher
	if cfg.Auth.TokenURL != "" {
		r, err := auth.NewRefresher(auth.RefresherConfig{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			HTTPTimeout:  cfg.Auth.HTTPTimeout,
		})
		if err != nil {
			return errors.Join(fmt.Errorf("create token refresher: %w", err), closeAll(ctx, tenants, sessions, db))
		}
		refresher = r
	} else {
		logger.Warn("No token URL configured, near-expiry sessions will be rejected")
	}

	provisioner := manager.NewProvisioner(managerStore, accessCache, connector, manager.ProvisionerOptions{
		KnownUserTTL:  cfg.Auth.KnownUserTTL,
		FanOutTimeout: cfg.Auth.FanOutTimeout,
		Logger:        logger,
	})
	grants := manager.NewGrants(managerStore, accessCache, logger)

	pipeline, err := middleware.NewPipeline(middleware.PipelineOptions{
		Sessions:         sessions,
		Cookies:          cookies,
		Verifier:         verifier,
		Refresher:        refresher,
		RefreshThreshold: cfg.Session.RefreshThreshold,
		AccessTTL:        cfg.Session.AccessTTL,
		Users:            provisioner,
		Access:           accessCache,
		AccessLoader:     managerStore,
		Tenants:          connector,
		Routes:           routeCache,
		Logger:           logger,
		Metrics:          metrics,
	})
	if err != nil {
		return errors.Join(fmt.Errorf("create pipeline: %w", err), closeAll(ctx, tenants, sessions, db))
	}

	auditLog, err := newAuditLogger(cfg.Observability, logger)
	if err != nil {
		return errors.Join(err, closeAll(ctx, tenants, sessions, db))
	}

	opts := api.ServerOptions{
		Pipeline:       pipeline,
		Sessions:       sessions,
		Cookies:        cookies,
		Grants:         grants,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Audit:          auditLog,
		Logger:         logger,
		Metrics:        metrics,
	}
	if cfg.RateLimit.Enabled {
		opts.RateLimit, opts.SignInLimit = rateLimiters(cfg.RateLimit, redisClient, logger, metrics)
	}
	server, err := api.NewServer(opts)
	if err != nil {
		return errors.Join(fmt.Errorf("create api server: %w", err), auditLog.Close(), closeAll(ctx, tenants, sessions, db))
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db.DB, redisClient).
		WithRegistry(tenants).
		WithVersion(version)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Shutdown functions run in reverse: tracing flushes last, after the
	// manager database, the session store and every tenant handle are closed.
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc("otel", otelProviders.Shutdown)
	}
	shutdown.RegisterShutdownFunc("manager-db", func(context.Context) error { return db.Close() })
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error { return auditLog.Close() })
	shutdown.RegisterShutdownFunc("sessions", func(context.Context) error { return sessions.Close() })
	shutdown.RegisterShutdownFunc("tenant-registry", tenants.Close)
	shutdown.RegisterShutdownFunc("provisioner", func(context.Context) error {
		provisioner.Wait()
		return nil
	})

	serveErr := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		logger.WithField("addr", srv.Addr).Infof("Starting %s server", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("api", httpServer)
	go serve("health", healthServer)

	// A listener failure triggers the same graceful shutdown as a signal
	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	failed := make(chan error, 1)
	go func() {
		select {
		case err := <-serveErr:
			logger.WithError(err).Error("Server failed")
			failed <- err
			stop()
		case <-waitCtx.Done():
		}
	}()

	err = shutdown.WaitForShutdown(waitCtx)
	select {
	case failure := <-failed:
		err = errors.Join(failure, err)
	default:
	}
	if err == nil {
		logger.Info("Shutdown complete")
	}
	return err
}

// serviceVersion prefers the build version over the configured one
func serviceVersion(cfg *config.Config) string {
	if version != "dev" || cfg.Observability.OTelServiceVersion == "" {
		return version
	}
	return cfg.Observability.OTelServiceVersion
}

func newAuditLogger(cfg config.ObservabilityConfig, logger *observability.Logger) (audit.Logger, error) {
	if !cfg.AuditEnabled {
		return audit.NopLogger{}, nil
	}
	logLogger := audit.NewLogLogger(logger)
	if cfg.AuditLogDir == "" {
		return logLogger, nil
	}
	fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
		BasePath: cfg.AuditLogDir,
		Rotate:   true,
		MaxSize:  int64(cfg.AuditMaxSizeMB) * 1024 * 1024,
		MaxFiles: cfg.AuditMaxFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return audit.NewMultiLogger(logLogger, fileLogger), nil
}

// rateLimiters builds the general and sign-in limiters. With a redis session
// backend the counters are shared across replicas.
func rateLimiters(cfg config.RateLimitConfig, client *redis.Client, logger *observability.Logger, metrics *observability.Metrics) (general, signIn *middleware.RateLimitMiddleware) {
	limits := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxKeys:           cfg.MaxKeys,
	}
	// Sign-in and refresh hit the identity provider, so they get a quarter of the budget
	signInLimits := limits
	signInLimits.RequestsPerSecond = cfg.RequestsPerSecond / 4
	if signInLimits.Burst > 4 {
		signInLimits.Burst = cfg.Burst / 4
	}

	var generalLimiter, signInLimiter middleware.Limiter
	if client != nil {
		generalLimiter = middleware.NewDistributedRateLimiter(client, limits, "tenantgate:ratelimit")
		signInLimiter = middleware.NewDistributedRateLimiter(client, signInLimits, "tenantgate:ratelimit:signin")
	} else {
		generalLimiter = middleware.NewRateLimiter(limits)
		signInLimiter = middleware.NewRateLimiter(signInLimits)
	}
	return middleware.NewRateLimitMiddleware(generalLimiter, logger, metrics),
		middleware.NewRateLimitMiddleware(signInLimiter, logger, metrics)
}

func closeAll(ctx context.Context, tenants *tenancy.Registry, sessions *session.Store, db *sqlx.DB) error {
	return errors.Join(tenants.Close(ctx), sessions.Close(), db.Close())
}
