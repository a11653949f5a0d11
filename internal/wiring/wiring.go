// Package wiring builds the adapters shared by the bench and server binaries.
package wiring

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"detection-quant-bench/internal/adapters/secondary/filestore"
	"detection-quant-bench/internal/adapters/secondary/postgres"
	"detection-quant-bench/internal/adapters/secondary/registry"
	"detection-quant-bench/internal/config"
	ports "detection-quant-bench/internal/core/ports/output"
)

func InitLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logger.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// Registry returns the blob store selected by REGISTRY_KIND.
func Registry(ctx context.Context, cfg *config.Config) (ports.ModelRegistry, error) {
	switch cfg.Registry.Kind {
	case "s3":
		return registry.NewS3Registry(ctx, cfg.Registry.S3, cfg.Registry.Prefix)
	default:
		return registry.NewHTTPRegistry(cfg.Registry.URL, cfg.Registry.Prefix, cfg.Registry.Timeout), nil
	}
}

// RunStore is where benchmark runs are persisted. Ping reports the health of
// the backing store.
type RunStore struct {
	Repo  ports.RunRepository
	Ping  func(ctx context.Context) error
	Close func()
}

// OpenRunStore uses PostgreSQL when DB_ENABLED is set and JSON files under
// DATA_DIR otherwise.
func OpenRunStore(ctx context.Context, cfg *config.Config) (*RunStore, error) {
	if !cfg.Database.Enabled {
		log.WithField("dir", cfg.Paths.DataDir).Info("storing runs on the filesystem")
		return &RunStore{
			Repo:  filestore.NewRunRepository(cfg.Paths.DataDir),
			Ping:  func(context.Context) error { return nil },
			Close: func() {},
		}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("database connection established")

	return &RunStore{
		Repo:  postgres.NewBenchmarkRunRepository(pool),
		Ping:  pool.Ping,
		Close: pool.Close,
	}, nil
}
