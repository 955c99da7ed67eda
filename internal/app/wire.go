package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/wagerwars/internal/blob/s3"
	cachemem "github.com/alanyoungcy/wagerwars/internal/cache/memory"
	"github.com/alanyoungcy/wagerwars/internal/cache/redis"
	"github.com/alanyoungcy/wagerwars/internal/command"
	"github.com/alanyoungcy/wagerwars/internal/config"
	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/metrics"
	"github.com/alanyoungcy/wagerwars/internal/notify"
	"github.com/alanyoungcy/wagerwars/internal/service"
	storemem "github.com/alanyoungcy/wagerwars/internal/store/memory"
	"github.com/alanyoungcy/wagerwars/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Storage
	Ledger domain.Ledger
	Audit  domain.AuditStore

	// Caches and coordination. Redis-backed when redis.addr is set,
	// in-process otherwise.
	MarketCache domain.MarketCache
	PriceCache  domain.PriceCache
	Bus         domain.SignalBus
	Locks       domain.LockManager
	Limiter     domain.RateLimiter

	// Blob is nil when no bucket is configured.
	Blob *s3blob.Store

	Engine     *service.Engine
	Dispatcher *command.Dispatcher
	Notifier   *notify.Notifier
	Metrics    metrics.Recorder
}

// needsBlob reports whether mode touches object storage.
func needsBlob(cfg *config.Config) bool {
	if cfg.S3.Bucket == "" {
		return false
	}
	return cfg.Mode == "snapshot" || cfg.Mode == "ledger"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Ledger storage ---
	switch cfg.Store.Backend {
	case "memory":
		deps.Ledger = storemem.NewLedger()
		deps.Audit = storemem.NewAuditStore()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Ledger = pgClient.Ledger(logger)
		deps.Audit = pgClient.AuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketCacheTTL.Duration)
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen, cfg.Redis.StreamBlock.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
	} else {
		logger.WarnContext(ctx, "redis not configured, using in-process caches and bus")
		deps.MarketCache = cachemem.NewMarketCache()
		deps.PriceCache = cachemem.NewPriceCache()
		deps.Bus = cachemem.NewSignalBus()
		deps.Locks = cachemem.NewLockManager()
		deps.Limiter = cachemem.NewRateLimiter()
	}

	// --- S3 blob storage ---
	if needsBlob(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Blob = s3Client.Store()
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, nil))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, nil))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.QueueSize, logger)

	// --- Engine ---
	engineDeps := service.EngineDeps{
		Ledger:      deps.Ledger,
		MarketCache: deps.MarketCache,
		PriceCache:  deps.PriceCache,
		Bus:         deps.Bus,
		Audit:       deps.Audit,
		Hooks:       []service.EventHook{deps.Metrics.HandleEvent},
		Logger:      logger,
	}
	if deps.Blob != nil {
		engineDeps.BlobWriter = deps.Blob
		engineDeps.BlobReader = deps.Blob
	}
	if deps.Notifier.Enabled() {
		engineDeps.Hooks = append(engineDeps.Hooks, deps.Notifier.HandleEvent)
	}
	deps.Engine = service.NewEngine(engineDeps, EngineConfig(cfg))
	deps.Dispatcher = command.NewDispatcher(deps.Engine, logger)

	return deps, cleanup, nil
}

// EngineConfig maps the engine section onto service parameters.
func EngineConfig(cfg *config.Config) service.EngineConfig {
	ec := service.DefaultEngineConfig()
	ec.FeeBps = cfg.Engine.FeeBps
	if cfg.Engine.MinResolutionHorizon > 0 {
		ec.Market.MinResolutionHorizon = cfg.Engine.MinResolutionHorizon
	}
	if cfg.Engine.ManagerStakeMin > 0 {
		ec.Market.ManagerStakeMin = cfg.Engine.ManagerStakeMin
	}
	if cfg.Engine.MaxOutcomes > 0 {
		ec.Market.MaxOutcomes = cfg.Engine.MaxOutcomes
	}
	if cfg.Engine.PlatformVersion != "" {
		ec.Version = cfg.Engine.PlatformVersion
	}
	if cfg.Engine.EventChannel != "" {
		ec.EventChannel = cfg.Engine.EventChannel
	}
	return ec
}
