package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm/logger"

	"strata/api/internal/config"
	"strata/api/internal/locker"
	"strata/api/internal/search"
	"strata/api/internal/storage"
	"strata/api/internal/store"
)

// Backends bundles the infrastructure chosen by configuration.
type Backends struct {
	Repo    store.Repository
	Locker  locker.Locker
	Blobs   storage.BlobStore
	Search  *search.Service
	closers []func() error
}

// Close releases every backend in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("close backend", "err", err)
		}
	}
}

// OpenRepository opens the record store selected by STORE_DRIVER.
func OpenRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL, store.PoolOptions{})
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return store.NewPostgresStore(db), db.Close, nil
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		repo, err := store.OpenGorm("sqlite", cfg.SQLitePath, gormLogLevel(cfg.LogLevel))
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		repo, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() error { return nil }, nil
	}
}

// OpenBackends wires the store, lock, attachment storage and search from cfg.
func OpenBackends(ctx context.Context, cfg config.Config) (*Backends, error) {
	b := &Backends{}
	repo, closeRepo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.Repo = repo
	b.closers = append(b.closers, closeRepo)
	slog.Info("record store ready", "driver", cfg.StoreDriver)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLocker, err := locker.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		b.Locker = redisLocker
		b.closers = append(b.closers, redisLocker.Close)
		slog.Info("using redis for source locks")
	} else {
		b.Locker = locker.NewMemoryLocker()
		slog.Info("using in-process source locks")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("minio setup failed: %w", err)
		}
		b.Blobs = blobs
		slog.Info("attachments stored in minio", "bucket", cfg.MinioBucket)
	} else {
		blobs, err := storage.NewLocalStore(cfg.DataDir)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Blobs = blobs
		slog.Info("attachments stored on disk", "dir", cfg.DataDir)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		b.closers = append(b.closers, func() error { meiliClient.Close(); return nil })
	}
	b.Search = search.NewService(meiliClient, search.NewLocal(Snapshot(repo)))
	return b, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.Info
	case "warn", "warning":
		return logger.Warn
	case "error":
		return logger.Error
	}
	return logger.Silent
}
