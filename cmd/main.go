package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/k1s0-platform/system-server-go-ticketgate/internal/authn"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/config"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/events"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/handler"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/health"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/middleware"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/oauth"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/persistence"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/session"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration.
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	envConfigPath := os.Getenv("ENV_CONFIG_PATH")

	cfg, err := config.Load(configPath, envConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := telemetry.NewLogger(cfg.Observability.Log, cfg.App.Name)
	slog.SetDefault(logger)

	// Initialize OpenTelemetry tracer provider.
	if cfg.Observability.Trace.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Observability.Trace, cfg.App.Name, cfg.App.Version)
		if err != nil {
			logger.Warn("Failed to initialize OTel tracer provider", slog.String("error", err.Error()))
		} else {
			defer func() {
				_ = tp.Shutdown(context.Background())
			}()
		}
	}

	metrics := telemetry.NewMetrics(cfg.App.Name, prometheus.DefaultRegisterer)

	// Credential store: users always live in PostgreSQL.
	db, err := persistence.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("database migrated", slog.Int("applied", applied))

	users := persistence.NewUserRepository(db)
	checker := health.NewChecker(health.NewPostgresHealthCheck(db, 0))

	var sessionStore session.Store
	switch cfg.Session.Backend {
	case "redis":
		redisClient := newRedisClient(cfg.Session.Redis)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not reachable at startup", slog.String("error", err.Error()))
		}
		sessionStore = session.NewRedisStore(redisClient, cfg.Session.Redis.Prefix)
		checker.Add(health.NewRedisHealthCheck(redisClient, 0))
	default:
		sessionStore = persistence.NewSessionStore(db)
	}

	// Identity provider client.
	providerTimeout := config.ParseDuration(cfg.Auth.Timeout, 10*time.Second)
	endpoints := oauth.Endpoints{
		AuthorizeURL: cfg.Auth.AuthorizeURL,
		TokenURL:     cfg.Auth.TokenURL,
		UserinfoURL:  cfg.Auth.UserinfoURL,
	}
	if cfg.Auth.Issuer != "" {
		endpoints, err = oauth.Discover(ctx, &http.Client{Timeout: providerTimeout}, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
	}
	providerClient := oauth.NewClient(
		endpoints,
		cfg.Auth.ClientID,
		cfg.Auth.ClientSecret,
		cfg.Auth.RedirectURI,
		cfg.Auth.Scopes,
		providerTimeout,
	)

	// Session lifecycle events.
	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.Events.Kafka.Brokers; len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.Events.Kafka.Topic, logger)
		checker.Add(health.NewKafkaHealthCheck(brokers, 0))
	}
	defer publisher.Close()

	lifetime := config.ParseDuration(cfg.Session.Lifetime, session.DefaultLifetime)
	authenticator := authn.New(
		sessionStore,
		users,
		authn.NewProviderValidator(providerClient),
		providerClient,
		authn.Options{
			Lifetime:    lifetime,
			RotateEvery: config.ParseDuration(cfg.Session.RotateEvery, 0),
			Metrics:     metrics,
			Events:      events.NewEmitter(publisher, logger),
			Logger:      logger,
		},
	)
	cookies := session.NewCookieConfig(cfg.Session.CookieName, lifetime, cfg.SecureCookies())

	// Initialize handlers.
	healthHandler := handler.NewHealthHandler(checker)
	authHandler := handler.NewAuthHandler(providerClient, authenticator, users, cookies, logger)
	dashboardHandler := handler.NewDashboardHandler(providerClient, users)

	// Set up Gin router.
	if cfg.App.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.RedirectFixedPath = true
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware(metrics))
	router.Use(otelgin.Middleware(cfg.App.Name))
	router.Use(middleware.OTelTraceIDMiddleware(logger))
	router.Use(middleware.CorrelationMiddleware())
	if cfg.CSRF.Enabled {
		router.Use(middleware.CSRFMiddleware())
	}
	router.Use(middleware.SessionGate(authenticator, cookies))

	// Health / Metrics endpoints (no session required).
	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/readyz", healthHandler.Readyz)
	if cfg.Observability.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Auth endpoints (no session required).
	router.GET("/api/auth/login", authHandler.Login)
	router.GET("/api/auth/callback", authHandler.Callback)
	router.POST("/api/auth/logout", authHandler.Logout)

	// Session-gated routes.
	router.GET("/", handler.Landing(cfg.App.Name))
	router.POST("/account/sessions/revoke", authHandler.RevokeAll)
	router.GET("/dashboard/user", dashboardHandler.User)
	router.GET("/dashboard/staff", dashboardHandler.Staff)
	router.POST("/dashboard/staff/users/:id/permissions", dashboardHandler.UpdatePermissions)
	router.NoRoute(handler.NotFound)

	if cfg.Upstream.BaseURL != "" {
		upstreamTimeout := config.ParseDuration(cfg.Upstream.Timeout, 30*time.Second)
		proxyHandler, err := handler.NewProxyHandler(cfg.Upstream.BaseURL, cookies, upstreamTimeout, logger)
		if err != nil {
			return fmt.Errorf("failed to create proxy handler: %w", err)
		}
		router.Any("/tickets", proxyHandler.Handle)
		router.Any("/tickets/*path", proxyHandler.Handle)
	}

	// Start HTTP server.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout: config.ParseDuration(cfg.Server.WriteTimeout, 30*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ticketgate starting",
			slog.String("addr", addr),
			slog.String("session_backend", cfg.Session.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown.
	shutdownTimeout := config.ParseDuration(cfg.Server.ShutdownTimeout, 15*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("ticketgate stopped")
	return nil
}

// newRedisClient returns a Sentinel-backed client when a master name is set.
func newRedisClient(cfg config.RedisSessionConfig) redis.UniversalClient {
	if cfg.MasterName != "" {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: []string{cfg.Addr},
			Password:      cfg.Password,
			DB:            cfg.DB,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
