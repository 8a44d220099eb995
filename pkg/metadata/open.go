package metadata

import (
	"context"
	"log/slog"
	"strings"
)

// Config selects and configures a backend.
type Config struct {
	RedisEnabled bool
	RedisURL     string
	BadgerDir    string
}

// Open returns the configured backend. Redis is used when enabled and a URL
// is set, badger when a directory is set, memory otherwise. When the chosen
// backend cannot be opened the error is logged and Open degrades to memory,
// so it always returns a usable store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}

	url := strings.TrimSpace(cfg.RedisURL)
	switch {
	case cfg.RedisEnabled && url != "":
		store, err := NewRedis(ctx, url)
		if err != nil {
			logger.Warn("metadata redis unavailable, falling back to memory", "error", err)
			return NewMemory()
		}
		logger.Info("metadata store ready", "backend", store.Backend())
		return store
	case strings.TrimSpace(cfg.BadgerDir) != "":
		store, err := NewBadger(BadgerOptions{Dir: cfg.BadgerDir, Logger: logger})
		if err != nil {
			logger.Warn("metadata badger unavailable, falling back to memory", "dir", cfg.BadgerDir, "error", err)
			return NewMemory()
		}
		logger.Info("metadata store ready", "backend", store.Backend(), "dir", cfg.BadgerDir)
		return store
	default:
		if cfg.RedisEnabled || url != "" {
			logger.Warn("metadata redis not fully configured, using memory", "redis_enabled", cfg.RedisEnabled, "redis_url_set", url != "")
		}
		logger.Info("metadata store ready", "backend", "memory")
		return NewMemory()
	}
}
