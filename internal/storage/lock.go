package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const tryAdvisoryXactLockSQL = `SELECT pg_try_advisory_xact_lock($1);`

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

// TxBeginner is satisfied by *pgxpool.Pool and pgxmock pools.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Locker takes transaction-scoped advisory locks so only one replica runs a
// detection cycle at a time. The lock is released when unlock commits.
type Locker struct {
	db TxBeginner
}

func NewLocker(db TxBeginner) *Locker {
	return &Locker{db: db}
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (l *Locker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if l == nil || l.db == nil {
		return nil, false, ErrNotConfigured
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin lock transaction: %w", err)
	}

	var acquired bool
	if err := tx.QueryRow(ctx, tryAdvisoryXactLockSQL, key).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		_ = tx.Rollback(ctx)
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// commit ends the transaction and with it the lock; a failure still releases it server-side
		_ = tx.Commit(ctxUnlock)
	}
	return unlock, true, nil
}

var _ AdvisoryLocker = (*Locker)(nil)
