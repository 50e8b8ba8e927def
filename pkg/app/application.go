package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/sunagi/homare/internal/metrics"
	"github.com/sunagi/homare/internal/middleware"
	"github.com/sunagi/homare/internal/providers"
	"github.com/sunagi/homare/internal/ratelimit"
	"github.com/sunagi/homare/internal/services"
	"github.com/sunagi/homare/internal/tracing"
	"github.com/sunagi/homare/pkg/config"
	"github.com/sunagi/homare/pkg/persistence"
	_ "github.com/sunagi/homare/pkg/persistence/memory"
	redisplugin "github.com/sunagi/homare/pkg/persistence/redis"

	"github.com/gin-gonic/gin"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Registry    services.RegistryService
	Gateway     services.GatewayService
	Settlement  services.SettlementService
	Dispatch    services.DispatchService
	Store       persistence.PluginPersistence
	Logger      *slog.Logger
	TZ          *time.Location
	RateLimiter ratelimit.Limiter

	tracingShutdown func(context.Context) error
	retryCancel     context.CancelFunc
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithDispatch sets a custom verifier dispatcher. Tests use it to capture
// outbound proof pushes instead of hitting real callback URLs.
func WithDispatch(d services.DispatchService) ApplicationOption {
	return func(app *Application) error {
		app.Dispatch = d
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}

	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "homare", "env", cfg.Env)
	slog.SetDefault(logger)

	var (
		store   persistence.PluginPersistence
		limiter ratelimit.Limiter
	)
	if cfg.Storage == "redis" {
		// The rate limiter shares the repositories' Redis connection, so
		// the client is built here rather than inside the plugin.
		redisClient := providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
		store = redisplugin.NewPlugin(redisClient, persistence.PluginConfig{Timezone: loc})
		limiter = ratelimit.NewTokenBucketLimiter(redisClient)
		metrics.RegisterRedisCollector(redisClient, logger)
	} else {
		store, err = persistence.NewPersistence(persistence.ProviderConfig{Type: cfg.Storage}, persistence.PluginConfig{Timezone: loc})
		if err != nil {
			return nil, err
		}
	}

	app := &Application{
		Config:      cfg,
		Store:       store,
		Logger:      logger,
		TZ:          loc,
		RateLimiter: limiter,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if cfg.TracingEnabled {
		shutdown, err := tracing.Setup(context.Background(), tracing.Config{
			Enabled:      true,
			ServiceName:  cfg.TracingServiceName,
			Environment:  cfg.Env,
			OTLPEndpoint: cfg.OTLPEndpoint,
			OTLPInsecure: cfg.OTLPInsecure,
			SampleRatio:  cfg.TracingSampleRatio,
		}, logger)
		if err != nil {
			logger.Warn("tracing setup failed", "err", err)
		} else {
			app.tracingShutdown = shutdown
		}
	}

	if app.Dispatch == nil {
		app.Dispatch = services.NewDispatchService(
			logger,
			cfg.WebhookHmacSecret,
			cfg.DispatchMaxAttempts,
			cfg.DispatchBaseBackoffSeconds,
			cfg.DispatchMaxBackoffSeconds,
			cfg.DispatchBackoffPolicy,
			limiter,
			ratelimit.Bucket(cfg.RateLimit.Dispatch),
		)
	}

	registry := services.NewRegistryService(store.Tasks(), logger, time.Now)
	gateway := services.NewGatewayService(store.Verifications(), app.Dispatch, logger, time.Now)
	settlement := services.NewSettlementService(store.Referrals(), store.Ledger(), store.Tasks(), cfg.PlatformAccount, logger, time.Now)

	// The registry and gateway call into each other; wiring happens once
	// here, after all three exist.
	registry.SetGateway(gateway)
	registry.SetSettlement(settlement)
	gateway.SetRegistry(registry)

	app.Registry = registry
	app.Gateway = gateway
	app.Settlement = settlement

	retry := services.NewSettlementRetryService(settlement, logger, cfg.OwedRetryIntervalSeconds)
	retryCtx, retryCancel := context.WithCancel(context.Background())
	app.retryCancel = retryCancel
	go retry.Start(retryCtx)

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggerMiddleware(logger))
	if cfg.TracingEnabled {
		engine.Use(middleware.TracingMiddleware(cfg.TracingServiceName))
	}
	app.Engine = engine

	return app, nil
}

// Shutdown stops the retry loop, flushes tracing and closes the storage
// backend.
func (app *Application) Shutdown(ctx context.Context) error {
	if app.retryCancel != nil {
		app.retryCancel()
	}
	if app.tracingShutdown != nil {
		if err := app.tracingShutdown(ctx); err != nil {
			app.Logger.Warn("tracing shutdown failed", "err", err)
		}
	}
	return app.Store.Close()
}
