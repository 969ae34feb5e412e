package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/ledger-engine/billing"
)

// PostgreSQL error codes the store reacts to.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
	pqQueryCanceled        = "57014"
)

// classify maps a driver error onto the engine's error taxonomy:
// lock waits and timeouts become ErrContention, unique violations
// ErrDuplicate, and everything else ErrStorage.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		nf   *billing.NotFoundError
		serr *billing.StorageError
	)
	if errors.As(err, &nf) || errors.As(err, &serr) || errors.Is(err, billing.ErrDuplicate) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return billing.NewContentionError(op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrTxDone) || errors.Is(err, sql.ErrConnDone) {
		return billing.NewStorageError(op, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return billing.NewContentionError(op, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w: %w", op, billing.ErrDuplicate, err)
		}
		return billing.NewStorageError(op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, billing.ErrDuplicate, err)
		case pqLockNotAvailable, pqDeadlockDetected, pqSerializationFailure, pqQueryCanceled:
			return billing.NewContentionError(op, err)
		}
		return billing.NewStorageError(op, err)
	}

	return billing.NewStorageError(op, err)
}
