package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	defaultTxAttempts = 3
	defaultTxTimeout  = 15 * time.Second
)

type txKey struct{}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides how often a transaction is retried after serialization failures.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// UnitOfWork implements repositories.UnitOfWork on top of gorm transactions. Repositories pick
// the active transaction up from the context through Conn.
type UnitOfWork struct {
	db   *gorm.DB
	opts []TxOption
}

// NewUnitOfWork binds a unit of work to db.
func NewUnitOfWork(db *gorm.DB, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{db: db, opts: opts}
}

// RunInTx executes fn in a transaction. Nested calls join the outer transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.db == nil {
		return WrapError("transaction", errors.New("postgres: unit of work has no database"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	cfg := newTxConfig(u.opts)
	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	var err error
	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		err = u.db.WithContext(txnCtx).Transaction(func(tx *gorm.DB) error {
			return fn(context.WithValue(txnCtx, txKey{}, tx))
		})
		if err == nil || !isRetryable(err) || txnCtx.Err() != nil {
			break
		}
	}
	return WrapError("transaction", err)
}

func newTxConfig(opts []TxOption) txConfig {
	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Conn returns the transaction bound to ctx, or db scoped to ctx when no transaction is active.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// InTx reports whether ctx carries an active transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}
