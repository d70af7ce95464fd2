package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"autoforge/internal/config"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB represents the database connection
type DB struct {
	*sql.DB
	driver string
	config config.DatabaseConfig
	logger logger.Logger
}

// PoolStats represents connection pool statistics
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// Open opens and pings the run-history database
func Open(cfg config.DatabaseConfig, log logger.Logger) (*DB, error) {
	log = logger.OrDefault(log)
	if cfg.Driver != DriverSQLite && cfg.Driver != DriverPostgres {
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "unsupported database driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "database dsn is empty")
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to open database", err)
	}

	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 4
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	// every connection to an in-memory sqlite database sees its own empty database
	if cfg.Driver == DriverSQLite && isMemoryDSN(cfg.DSN) {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var pingErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if pingErr = sqlDB.PingContext(ctx); pingErr == nil {
			break
		}
		log.Warn("database ping failed", "attempt", attempt, "driver", cfg.Driver, "error", pingErr)
		if attempt < 3 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
	}
	if pingErr != nil {
		sqlDB.Close()
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to ping database", pingErr).
			WithContext("driver", cfg.Driver)
	}

	if cfg.Driver == DriverSQLite {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			log.Warn("failed to set sqlite busy timeout", "error", err)
		}
	}

	log.Info("database connection established", "driver", cfg.Driver, "max_open", cfg.MaxOpen)
	return &DB{DB: sqlDB, driver: cfg.Driver, config: cfg, logger: log}, nil
}

// Driver returns the configured driver name
func (db *DB) Driver() string { return db.driver }

// Rebind rewrites ? placeholders into the driver's bind style
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// GetPoolStats returns connection pool statistics
func (db *DB) GetPoolStats() PoolStats {
	s := db.Stats()
	return PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
