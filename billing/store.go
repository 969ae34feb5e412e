/*
store.go - Persistence ports for the billing engine

PURPOSE:
  Abstracts storage so the engine can run on SQLite, PostgreSQL or memory.
  Every engine operation runs inside Store.WithTx; the Tx it receives is the
  only handle through which rows are read or written.

LOCKING CONTRACT:
  The Lock* methods acquire row locks (SELECT ... FOR UPDATE or an
  equivalent) that are held until the transaction ends. Callers acquire them
  in one global order to avoid deadlocks:

      invoice row -> product rows (sorted by name) -> customer row -> sequence

  A lock that cannot be acquired within the store's bounded timeout fails
  with ErrContention. Cancelling the context rolls the whole transaction back.

SEE ALSO:
  - billing/store/memory.go: in-memory implementation
  - store/sqlstore: SQLite and PostgreSQL implementation
*/
package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store opens transactions.
type Store interface {
	// WithTx runs fn in one read-write transaction. If fn returns an error
	// every write made through the Tx is discarded.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// View runs fn in a transaction that is always rolled back.
	View(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// Tx is the set of row operations available inside a transaction.
// Missing rows are reported with a *NotFoundError.
type Tx interface {
	// Products
	InsertProduct(ctx context.Context, p Product) error
	UpdateProductDetails(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, name string) (Product, error)
	// LockProducts locks the named rows in sorted order. Unknown names are
	// absent from the result.
	LockProducts(ctx context.Context, names []string) (map[string]Product, error)
	ListProducts(ctx context.Context, lowStockOnly bool) ([]Product, error)
	SetProductStock(ctx context.Context, name string, qty decimal.Decimal) error
	InsertStockMovement(ctx context.Context, m StockMovement) error
	StockMovements(ctx context.Context, product string) ([]StockMovement, error)

	// Customers
	InsertCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id CustomerID) (Customer, error)
	LockCustomer(ctx context.Context, id CustomerID) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	UpdateCustomerBalance(ctx context.Context, id CustomerID, pending, totalSales decimal.Decimal) error

	// Sequence counters
	NextSequence(ctx context.Context, prefix, periodKey string, base int64) (int64, error)

	// Invoices. Get/Lock load the items too; List does not.
	InsertInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, number InvoiceNumber) (Invoice, error)
	LockInvoice(ctx context.Context, number InvoiceNumber) (Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	UpdateInvoicePayment(ctx context.Context, number InvoiceNumber, paid decimal.Decimal, status InvoiceStatus) error
	DeleteInvoice(ctx context.Context, number InvoiceNumber) error
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)

	// Payments
	InsertPayment(ctx context.Context, p Payment) error
	DetachPayments(ctx context.Context, number InvoiceNumber) error
	ListPayments(ctx context.Context, customerID CustomerID) ([]Payment, error)

	// Ledger (append-only)
	AppendLedgerEntry(ctx context.Context, e *LedgerEntry) error
	LedgerEntries(ctx context.Context, customerID CustomerID) ([]LedgerEntry, error)
}
