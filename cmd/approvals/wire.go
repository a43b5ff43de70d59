package main

import (
	"context"
	"fmt"
	"os"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sahidur/ams-sub001/internal/access"
	"github.com/sahidur/ams-sub001/internal/approval"
	"github.com/sahidur/ams-sub001/internal/config"
	"github.com/sahidur/ams-sub001/internal/idempotency"
	"github.com/sahidur/ams-sub001/internal/notify"
	"github.com/sahidur/ams-sub001/internal/numbering"
	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/internal/template"
)

// app holds the wired dependencies shared by the serve and mcp commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *observability.Metrics
	templates *template.Registry
	policy    *access.StaticPolicy
	store     approval.Store
	pool      *pgxpool.Pool
	redis     *redis.Client
	engine    *approval.Engine

	closers []func()
}

// buildApp wires the engine and its stores from cfg. The caller must Close
// the returned app.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, metrics: observability.InitMetrics(reg)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.templates, err = loadTemplates(cfg.Templates.Directories, logger); err != nil {
		return nil, err
	}
	a.metrics.SetTemplatesLoaded(a.templates.Len())

	if a.policy, err = access.NewStaticPolicy(cfg.Access.PolicyFile); err != nil {
		return nil, fmt.Errorf("access policy: %w", err)
	}
	resolver := access.NewResolver(a.policy, cfg.Access.Cache.TTL, cfg.Access.Cache.MaxEntries, a.metrics)

	if cfg.Store.Driver == "postgres" {
		if a.pool, err = openPool(ctx, cfg.Store); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.pool.Close)
		if cfg.Store.AutoMigrate {
			applied, err := approval.Migrate(ctx, a.pool)
			if err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", zap.Strings("migrations", applied))
			}
		}
		a.store = approval.NewPgStore(a.pool)
		logger.Info("using postgres request store")
	} else {
		a.store = approval.NewMemoryStore()
		logger.Info("using in-memory request store")
	}

	if cfg.UsesRedis() {
		if a.redis, err = openRedis(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		client := a.redis
		a.closers = append(a.closers, func() { _ = client.Close() })
	}

	var seq numbering.Sequencer
	switch cfg.Numbering.Driver {
	case "redis":
		seq = numbering.NewRedisSequencer(a.redis)
	case "postgres":
		seq = numbering.NewPgSequencer(a.pool)
	default:
		seq = numbering.NewMemorySequencer()
	}

	var notifier notify.Notifier
	switch cfg.Notifications.Driver {
	case "redis":
		b := cfg.Notifications.Breaker
		notifier = notify.Multi{
			notify.NewBreaker(
				notify.NewRedisNotifier(a.redis, cfg.Notifications.Channel),
				notify.BreakerSettings{FailureThreshold: b.FailureThreshold, SuccessThreshold: b.SuccessThreshold, Cooldown: b.Cooldown},
				logger,
			),
			notify.NewLogNotifier(logger),
		}
	case "none":
		notifier = notify.Nop{}
	default:
		notifier = notify.NewLogNotifier(logger)
	}

	a.engine = approval.NewEngine(a.templates, a.store, a.policy, resolver,
		approval.WithMetrics(a.metrics),
		approval.WithLogger(logger),
		approval.WithNotifier(notifier),
		approval.WithNumbers(numbering.NewAllocator(seq), cfg.Numbering.DefaultPrefix),
	)
	return a, nil
}

// Close releases pools and clients in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// idempotencyStore returns the configured store, or nil when disabled.
func (a *app) idempotencyStore() idempotency.Store {
	if !a.cfg.Idempotency.Enabled {
		return nil
	}
	if a.cfg.Idempotency.Driver == "redis" {
		return idempotency.NewRedisStore(a.redis)
	}
	return idempotency.NewMemoryStore()
}

func (a *app) readiness() observability.ReadinessChecks {
	checks := observability.ReadinessChecks{
		TemplatesLoaded: a.templates.Loaded,
	}
	if hc, ok := a.store.(observability.HealthChecker); ok {
		checks.Store = hc
	}
	if a.redis != nil {
		checks.Redis = redisHealth{a.redis}
		if a.cfg.Idempotency.Enabled && a.cfg.Idempotency.Driver == "redis" {
			checks.Idempotency = redisHealth{a.redis}
		}
	}
	return checks
}

// loadTemplates loads and validates every template under dirs.
func loadTemplates(dirs []string, logger *zap.Logger) (*template.Registry, error) {
	templates, err := template.NewLoader().LoadAll(dirs)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	if verrs := template.NewValidator().Validate(templates); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("template validation error", zap.String("error", ve.Error()))
		}
		return nil, fmt.Errorf("template validation failed with %d errors", len(verrs))
	}
	logger.Info("templates loaded", zap.Int("count", len(templates)))
	return template.NewRegistry(templates), nil
}

func openPool(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("request store: %s environment variable not set", cfg.DSNEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("request store: parse DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("request store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("request store: ping: %w", err)
	}
	return pool, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	addr := os.Getenv(cfg.AddrEnv)
	if addr == "" {
		return nil, fmt.Errorf("redis: %s environment variable not set", cfg.AddrEnv)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv(cfg.PasswordEnv),
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return client, nil
}

type redisHealth struct {
	client redis.Cmdable
}

func (h redisHealth) HealthCheck(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}
