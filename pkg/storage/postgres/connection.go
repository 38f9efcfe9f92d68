package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/taskboard/pkg/async"
	"github.com/platinummonkey/taskboard/pkg/observability"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Validate checks pool bounds
func (c ConnectionConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("max connections must be at least 1")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections must be between 0 and max connections")
	}
	return nil
}

// ConnectionManager owns the service's Postgres pool
type ConnectionManager struct {
	db     *sql.DB
	config ConnectionConfig
	logger *observability.Logger
}

// NewConnectionManager opens the pool and pings it within config.Timeout
func NewConnectionManager(ctx context.Context, config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}
	return newConnectionManager(ctx, db, config, logger)
}

func newConnectionManager(ctx context.Context, db *sql.DB, config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping primary: %w", err)
	}

	logger.WithField("max_conns", config.MaxConns).Info("Postgres connection pool ready")
	return &ConnectionManager{db: db, config: config, logger: logger}, nil
}

// Primary returns the pool
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.db
}

// HealthCheck pings the database
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.db.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics
func (cm *ConnectionManager) Stats() sql.DBStats {
	return cm.db.Stats()
}

// Close closes the pool
func (cm *ConnectionManager) Close() error {
	if err := cm.db.Close(); err != nil {
		return fmt.Errorf("primary close error: %w", err)
	}
	return nil
}

// StartStatsRoutine copies pool statistics onto the connection gauges every
// interval until ctx is done. The returned channel closes when the routine exits.
func (cm *ConnectionManager) StartStatsRoutine(ctx context.Context, interval time.Duration, metrics *observability.Metrics) <-chan struct{} {
	if interval == 0 {
		interval = 30 * time.Second
	}

	return async.SafeGoNoError(ctx, cm.logger, 0, "postgres stats routine", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		metrics.RecordDBStats(cm.db.Stats())
		for {
			select {
			case <-ticker.C:
				metrics.RecordDBStats(cm.db.Stats())
			case <-ctx.Done():
				return
			}
		}
	})
}
