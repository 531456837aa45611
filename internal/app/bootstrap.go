package app

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"pricefeed/internal/domain"
	"pricefeed/internal/infra"
	"pricefeed/internal/infra/binance"
	"pricefeed/internal/infra/redisstore"
	"pricefeed/internal/infra/storage"
	"pricefeed/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Metrics  *infra.Metrics
	Storage  *storage.Storage
	Mirror   *redisstore.Mirror
	Streamer *service.Streamer

	redis *redis.Client
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize builds the full service: watchlist storage, optional Redis mirror, and a
// streamer restored from the persisted watchlist.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	return b.initialize(ctx, configPath, true)
}

// InitializeEphemeral builds a memory-only streamer with an empty subscription set
func (b *Bootstrap) InitializeEphemeral(ctx context.Context, configPath string) error {
	return b.initialize(ctx, configPath, false)
}

func (b *Bootstrap) initialize(ctx context.Context, configPath string, persistent bool) error {
	// 1. Load .env (optional) and config
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", slog.Any("error", err))
	}

	cfg, err := infra.LoadConfigOrDefault(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping price feed...", slog.String("version", cfg.App.Version))

	b.Metrics = infra.NewMetrics()

	// 3. Price cache, mirrored to Redis when enabled
	var cache domain.PriceCache = service.NewPriceCache()
	if persistent && cfg.Cache.Redis.Enabled {
		client, err := redisstore.NewClient(ctx, cfg.Cache.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, continuing without mirror", slog.Any("error", err))
		} else {
			b.redis = client
			b.Mirror = redisstore.NewMirror(cache, client, cfg.Cache.Redis)
			cache = b.Mirror
			slog.Info("✅ Redis mirror enabled", slog.String("prefix", cfg.Cache.Redis.Prefix))
		}
	}

	// 4. Initialize Storage (DB)
	var opts []service.Option
	if persistent {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			b.Close()
			return err
		}
		b.Storage = store
		opts = append(opts, service.WithWatchlist(store))
		b.recordVersion()
		slog.Info("✅ Database initialized")
	}

	// 5. Feed + streamer
	feed := binance.NewFeed(binance.OptionsFromConfig(cfg.Feed), cache, b.Metrics)
	b.Streamer = service.NewStreamer(feed, cache, b.Metrics, opts...)

	if persistent {
		if err := b.Streamer.Restore(cfg.Feed.Symbols); err != nil {
			b.Close()
			return err
		}
	}

	slog.Info("✅ Price streamer ready", slog.Int("symbols", len(b.Streamer.ListSymbols())))
	return nil
}

// recordVersion stores the running version and logs upgrades
func (b *Bootstrap) recordVersion() {
	stored, err := b.Storage.LoadConfigMap()
	if err != nil {
		slog.Warn("Failed to load stored settings", slog.Any("error", err))
		return
	}
	if prev := stored["app.version"]; prev != "" && prev != b.Config.App.Version {
		slog.Info("Version changed since last run", slog.String("from", prev), slog.String("to", b.Config.App.Version))
	}
	if err := b.Storage.SaveConfig("app.version", b.Config.App.Version); err != nil {
		slog.Warn("Failed to save version", slog.Any("error", err))
	}
}

// Close stops the streamer and releases storage and Redis, in that order
func (b *Bootstrap) Close() {
	if b.Streamer != nil {
		b.Streamer.Stop()
	}
	if b.Mirror != nil {
		b.Mirror.Close()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			slog.Warn("Failed to close Redis client", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
	slog.Info("👋 Shutdown complete")
}
