package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"autoforge/internal/cache"
	"autoforge/internal/config"
	"autoforge/internal/database"
	"autoforge/internal/logger"
	"autoforge/internal/monitoring"
	"autoforge/internal/registry"
	"autoforge/internal/service"
)

// app 一次命令执行所需的组件
type app struct {
	cfg      *config.Config
	log      logger.Logger
	registry *registry.Registry
	cache    *cache.ResultCache
	db       *database.DB
	metrics  *monitoring.Metrics
	svc      *service.Service
}

// loadConfig reads .env, the YAML file and the environment, then initializes logging
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Logging)
	return cfg, nil
}

// newApp wires the registry, cache, run store and metrics into a service
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logger.Get()
	cfg.Capabilities = config.ResolveCapabilities(cfg, log)

	reg, err := registry.New(cfg.Registry.Dir, log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, registry: reg}

	var opts []service.Option
	if a.cache = cache.New(cfg.Cache, log); a.cache != nil {
		opts = append(opts, service.WithCache(a.cache))
	}
	if cfg.Database.Enabled {
		db, err := openStore(cfg, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		opts = append(opts, service.WithStore(db))
	}
	if cfg.Metrics.Enabled {
		a.metrics = monitoring.NewMetrics()
		opts = append(opts, service.WithMetrics(a.metrics))
	}
	a.svc = service.New(cfg, reg, log, opts...)
	return a, nil
}

// openStore opens the run-history database and applies pending migrations
func openStore(cfg *config.Config, log logger.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// serveMetrics exposes the metrics endpoint until ctx is done
func (a *app) serveMetrics(ctx context.Context) {
	if a.metrics == nil {
		return
	}
	srv := monitoring.NewServer(a.metrics, a.cfg.Metrics.Addr, a.cfg.Metrics.Path, a.log)
	go func() {
		if err := srv.Run(ctx); err != nil {
			a.log.Error("metrics server stopped", "error", err)
		}
	}()
}

// Close releases the cache and database connections
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("failed to close cache", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
