package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/billing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, billing.ErrContention},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, billing.ErrContention},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, billing.ErrDuplicate},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, billing.ErrDuplicate},
		{"sqlite foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, billing.ErrStorage},
		{"pg unique", &pq.Error{Code: "23505"}, billing.ErrDuplicate},
		{"pg lock timeout", &pq.Error{Code: "55P03"}, billing.ErrContention},
		{"pg deadlock", &pq.Error{Code: "40P01"}, billing.ErrContention},
		{"pg serialization", &pq.Error{Code: "40001"}, billing.ErrContention},
		{"pg other", &pq.Error{Code: "42P01"}, billing.ErrStorage},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), billing.ErrContention},
		{"cancelled", context.Canceled, billing.ErrStorage},
		{"unknown", errors.New("disk on fire"), billing.ErrStorage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", tc.err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, tc.err, "driver error stays inspectable")
		})
	}
}

func TestClassify_PassesEngineErrorsThrough(t *testing.T) {
	nf := &billing.NotFoundError{Kind: "invoice", Ref: "INV-1"}
	assert.Same(t, nf, classify("op", nf))
	assert.NoError(t, classify("op", nil))
}

func newMockStore(t *testing.T, dialect Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, dialect, time.Second, nil), mock
}

func TestWithTx_BusyDatabaseIsContention(t *testing.T) {
	s, mock := newMockStore(t, SQLite)

	// GIVEN: the database reports SQLITE_BUSY on the product lookup
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM products WHERE name = ?").
		WithArgs("ProductA").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})
	mock.ExpectRollback()

	// WHEN: running a transaction
	err := s.WithTx(context.Background(), func(tx billing.Tx) error {
		_, err := tx.GetProduct(context.Background(), "ProductA")
		return err
	})

	// THEN: the caller sees a retryable contention error and nothing commits
	assert.ErrorIs(t, err, billing.ErrContention)
	assert.True(t, billing.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_PostgresSetsLockTimeoutAndLocksRows(t *testing.T) {
	s, mock := newMockStore(t, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout = '1000ms'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM products\s+WHERE name IN \(\$1, \$2\)\s+ORDER BY name FOR UPDATE`).
		WithArgs("A", "B").
		WillReturnError(&pq.Error{Code: "55P03", Message: "could not obtain lock"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx billing.Tx) error {
		_, err := tx.LockProducts(context.Background(), []string{"A", "B"})
		return err
	})

	assert.ErrorIs(t, err, billing.ErrContention)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFailureIsStorage(t *testing.T) {
	s, mock := newMockStore(t, SQLite)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE customers SET pending_balance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	err := s.WithTx(context.Background(), func(tx billing.Tx) error {
		return tx.UpdateCustomerBalance(context.Background(), 1, decimal.Zero, decimal.Zero)
	})

	assert.ErrorIs(t, err, billing.ErrStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_UpdateOfMissingRowIsNotFound(t *testing.T) {
	s, mock := newMockStore(t, SQLite)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE invoices SET paid_amount").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx billing.Tx) error {
		return tx.UpdateInvoicePayment(context.Background(), "INV-202610-0999", decimal.Zero, billing.StatusPaid)
	})

	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestView_NeverCommits(t *testing.T) {
	s, mock := newMockStore(t, SQLite)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM customers ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "address", "phone", "pending_balance", "total_sales", "created_at"}).
			AddRow(1, "Acme", "1 Quay", "", "120.50", "900", time.Now()))
	mock.ExpectRollback()

	var got []billing.Customer
	err := s.View(context.Background(), func(tx billing.Tx) error {
		var err error
		got, err = tx.ListCustomers(context.Background())
		return err
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "120.5", got[0].PendingBalance.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y IN (?, ?)"
	assert.Equal(t, q, SQLite.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)", Postgres.rebind(q))
}

func TestLimitOffset(t *testing.T) {
	clause, args := SQLite.limitOffset(0, 5)
	assert.Equal(t, " LIMIT -1 OFFSET ?", clause)
	assert.Equal(t, []any{5}, args)

	clause, _ = Postgres.limitOffset(0, 5)
	assert.Equal(t, " OFFSET ?", clause)

	clause, args = Postgres.limitOffset(10, 0)
	assert.Equal(t, " LIMIT ?", clause)
	assert.Equal(t, []any{10}, args)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?"+sqliteParams, SQLite.dsn(""))
	assert.Equal(t, "file:ledger.db?cache=shared&"+sqliteParams, SQLite.dsn("file:ledger.db?cache=shared"))
	assert.Equal(t, "postgres://x", Postgres.dsn("postgres://x"))
}
