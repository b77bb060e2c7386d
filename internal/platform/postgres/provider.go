package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hanko-field/checkout/internal/platform/config"
)

const (
	defaultConnectAttempts = 5
	defaultConnectBackoff  = 2 * time.Second
	defaultPingTimeout     = 5 * time.Second
)

// OpenOption customises Open behaviour.
type OpenOption func(*openOptions)

type openOptions struct {
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
	dialect  gorm.Dialector
}

// WithConnectAttempts overrides how many times Open retries the initial ping.
func WithConnectAttempts(attempts int) OpenOption {
	return func(o *openOptions) {
		if attempts > 0 {
			o.attempts = attempts
		}
	}
}

// WithConnectBackoff overrides the pause between connection attempts.
func WithConnectBackoff(backoff time.Duration) OpenOption {
	return func(o *openOptions) {
		if backoff >= 0 {
			o.backoff = backoff
		}
	}
}

// WithLogger routes gorm diagnostics to the supplied zap logger.
func WithLogger(logger *zap.Logger) OpenOption {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// WithDialector replaces the pgx-backed dialector. Used by tests.
func WithDialector(dialect gorm.Dialector) OpenOption {
	return func(o *openOptions) {
		o.dialect = dialect
	}
}

// Open connects to Postgres through gorm and the pgx driver, applying pool settings and retrying
// the initial ping while the database is still starting.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...OpenOption) (*gorm.DB, error) {
	options := openOptions{
		attempts: defaultConnectAttempts,
		backoff:  defaultConnectBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" && options.dialect == nil {
		return nil, errors.New("postgres: database url is required")
	}
	dialect := options.dialect
	if dialect == nil {
		dialect = gormpostgres.New(gormpostgres.Config{DSN: dsn})
	}

	db, err := gorm.Open(dialect, &gorm.Config{
		Logger:                 NewGormLogger(options.logger),
		NowFunc:                func() time.Time { return time.Now().UTC() },
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: underlying pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	var pingErr error
	for attempt := 1; attempt <= options.attempts; attempt++ {
		pingErr = Ping(ctx, db)
		if pingErr == nil {
			return db, nil
		}
		if options.logger != nil {
			options.logger.Warn("postgres connection attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", options.attempts),
				zap.Error(pingErr),
			)
		}
		if attempt == options.attempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = sqlDB.Close()
			return nil, ctx.Err()
		case <-time.After(options.backoff):
		}
	}
	_ = sqlDB.Close()
	return nil, fmt.Errorf("postgres: connect after %d attempts: %w", options.attempts, pingErr)
}

// Ping checks connectivity with a bounded timeout.
func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("postgres: db is nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
