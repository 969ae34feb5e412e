// Package store provides an in-memory billing.Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// DefaultLockTimeout bounds how long WithTx waits for the store.
const DefaultLockTimeout = 5 * time.Second

var (
	errLockTimeout = errors.New("timed out waiting for transaction lock")
	errReadOnly    = errors.New("write in read-only transaction")
)

// Memory serialises transactions behind a single slot. Rollback restores a
// snapshot taken when the transaction began.
type Memory struct {
	slot        chan struct{}
	lockTimeout time.Duration
	data        *memoryData
}

type seqKey struct {
	prefix string
	period string
}

type memoryData struct {
	products     map[string]billing.Product
	movements    []billing.StockMovement
	customers    map[billing.CustomerID]billing.Customer
	nextCustomer int64
	sequences    map[seqKey]int64
	invoices     map[billing.InvoiceNumber]billing.Invoice
	nextInvoice  int64
	payments     []billing.Payment
	ledger       []billing.LedgerEntry
	nextEntry    int64
}

func NewMemory() *Memory {
	return NewMemoryWithTimeout(DefaultLockTimeout)
}

func NewMemoryWithTimeout(lockTimeout time.Duration) *Memory {
	return &Memory{
		slot:        make(chan struct{}, 1),
		lockTimeout: lockTimeout,
		data: &memoryData{
			products:  make(map[string]billing.Product),
			customers: make(map[billing.CustomerID]billing.Customer),
			sequences: make(map[seqKey]int64),
			invoices:  make(map[billing.InvoiceNumber]billing.Invoice),
		},
	}
}

// WithTx executes fn within a transaction.
// Any error from fn, or a cancelled context, restores the snapshot.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Tx) error) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	snapshot := m.data.clone()
	if err := fn(&memTx{d: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.data = snapshot
		return billing.NewStorageError("memory.commit", err)
	}
	return nil
}

// View runs fn against the current state and rejects writes.
func (m *Memory) View(ctx context.Context, fn func(billing.Tx) error) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	return fn(&memTx{d: m.data, readOnly: true})
}

func (m *Memory) Close() error { return nil }

func (m *Memory) acquire(ctx context.Context) error {
	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()
	select {
	case m.slot <- struct{}{}:
		return nil
	case <-timer.C:
		return billing.NewContentionError("memory.begin", errLockTimeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return billing.NewContentionError("memory.begin", ctx.Err())
		}
		return billing.NewStorageError("memory.begin", ctx.Err())
	}
}

func (m *Memory) release() { <-m.slot }

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		products:     make(map[string]billing.Product, len(d.products)),
		movements:    append([]billing.StockMovement(nil), d.movements...),
		customers:    make(map[billing.CustomerID]billing.Customer, len(d.customers)),
		nextCustomer: d.nextCustomer,
		sequences:    make(map[seqKey]int64, len(d.sequences)),
		invoices:     make(map[billing.InvoiceNumber]billing.Invoice, len(d.invoices)),
		nextInvoice:  d.nextInvoice,
		payments:     append([]billing.Payment(nil), d.payments...),
		ledger:       append([]billing.LedgerEntry(nil), d.ledger...),
		nextEntry:    d.nextEntry,
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.customers {
		c.customers[k] = v
	}
	for k, v := range d.sequences {
		c.sequences[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = copyInvoice(v)
	}
	return c
}

func copyInvoice(inv billing.Invoice) billing.Invoice {
	inv.Items = append([]billing.InvoiceItem(nil), inv.Items...)
	return inv
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type memTx struct {
	d        *memoryData
	readOnly bool
}

func (t *memTx) check(ctx context.Context, write bool) error {
	if err := ctx.Err(); err != nil {
		return billing.NewStorageError("memory", err)
	}
	if write && t.readOnly {
		return billing.NewStorageError("memory", errReadOnly)
	}
	return nil
}

// Products

func (t *memTx) InsertProduct(ctx context.Context, p billing.Product) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	if _, ok := t.d.products[p.Name]; ok {
		return fmt.Errorf("product %q: %w", p.Name, billing.ErrDuplicate)
	}
	t.d.products[p.Name] = p
	return nil
}

func (t *memTx) UpdateProductDetails(ctx context.Context, p billing.Product) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	cur, ok := t.d.products[p.Name]
	if !ok {
		return &billing.NotFoundError{Kind: "product", Ref: p.Name}
	}
	cur.Unit = p.Unit
	cur.SellingPrice = p.SellingPrice
	cur.CostPrice = p.CostPrice
	cur.MinStockThreshold = p.MinStockThreshold
	cur.UpdatedAt = p.UpdatedAt
	t.d.products[p.Name] = cur
	return nil
}

func (t *memTx) GetProduct(ctx context.Context, name string) (billing.Product, error) {
	if err := t.check(ctx, false); err != nil {
		return billing.Product{}, err
	}
	p, ok := t.d.products[name]
	if !ok {
		return billing.Product{}, &billing.NotFoundError{Kind: "product", Ref: name}
	}
	return p, nil
}

// LockProducts needs no row locks: the whole store is held by this transaction.
func (t *memTx) LockProducts(ctx context.Context, names []string) (map[string]billing.Product, error) {
	if err := t.check(ctx, false); err != nil {
		return nil, err
	}
	out := make(map[string]billing.Product, len(names))
	for _, n := range names {
		if p, ok := t.d.products[n]; ok {
			out[n] = p
		}
	}
	return out, nil
}

func (t *memTx) ListProducts(ctx context.Context, lowStockOnly bool) ([]billing.Product, error) {
	if err := t.check(ctx, false); err != nil {
		return nil, err
	}
	out := make([]billing.Product, 0, len(t.d.products))
	for _, p := range t.d.products {
		if lowStockOnly && !p.IsLowStock() {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) SetProductStock(ctx context.Context, name string, qty decimal.Decimal) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	p, ok := t.d.products[name]
	if !ok {
		return &billing.NotFoundError{Kind: "product", Ref: name}
	}
	if qty.IsNegative() {
		return billing.NewStorageError("memory.set_stock", fmt.Errorf("negative stock for %q", name))
	}
	p.StockQuantity = qty
	t.d.products[name] = p
	return nil
}

func (t *memTx) InsertStockMovement(ctx context.Context, mv billing.StockMovement) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	t.d.movements = append(t.d.movements, mv)
	return nil
}

func (t *memTx) StockMovements(ctx context.Context, product string) ([]billing.StockMovement, error) {
	if err := t.check(ctx, false); err != nil {
		return nil, err
	}
	var out []billing.StockMovement
	for _, mv := range t.d.movements {
		if mv.Product == product {
			out = append(out, mv)
		}
	}
	return out, nil
}

// Customers

func (t *memTx) InsertCustomer(ctx context.Context, c *billing.Customer) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	for _, existing := range t.d.customers {
		if existing.Name == c.Name && existing.Address == c.Address {
			return fmt.Errorf("customer %q at %q: %w", c.Name, c.Address, billing.ErrDuplicate)
		}
	}
	t.d.nextCustomer++
	c.ID = billing.CustomerID(t.d.nextCustomer)
	t.d.customers[c.ID] = *c
	return nil
}

func (t *memTx) GetCustomer(ctx context.Context, id billing.CustomerID) (billing.Customer, error) {
	if err := t.check(ctx, false); err != nil {
		return billing.Customer{}, err
	}
	c, ok := t.d.customers[id]
	if !ok {
		return billing.Customer{}, &billing.NotFoundError{Kind: "customer", Ref: fmt.Sprint(id)}
	}
	return c, nil
}

func (t *memTx) LockCustomer(ctx context.Context, id billing.CustomerID) (billing.Customer, error) {
	return t.GetCustomer(ctx, id)
}

func (t *memTx) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	if err := t.check(ctx, false); err != nil {
		return nil, err
	}
	out := make([]billing.Customer, 0, len(t.d.customers))
	for _, c := range t.d.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateCustomerBalance(ctx context.Context, id billing.CustomerID, pending, totalSales decimal.Decimal) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	c, ok := t.d.customers[id]
	if !ok {
		return &billing.NotFoundError{Kind: "customer", Ref: fmt.Sprint(id)}
	}
	c.PendingBalance = pending
	c.TotalSales = totalSales
	t.d.customers[id] = c
	return nil
}

// Sequence

func (t *memTx) NextSequence(ctx context.Context, prefix, periodKey string, base int64) (int64, error) {
	if err := t.check(ctx, true); err != nil {
		return 0, err
	}
	k := seqKey{prefix: prefix, period: periodKey}
	last, ok := t.d.sequences[k]
	next := base
	if ok {
		next = last + 1
	}
	t.d.sequences[k] = next
	return next, nil
}

// Invoices

func (t *memTx) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	if _, ok := t.d.invoices[inv.Number]; ok {
		return fmt.Errorf("invoice %s: %w", inv.Number, billing.ErrDuplicate)
	}
	t.d.nextInvoice++
	inv.ID = t.d.nextInvoice
	t.d.invoices[inv.Number] = copyInvoice(*inv)
	return nil
}

func (t *memTx) GetInvoice(ctx context.Context, number billing.InvoiceNumber) (billing.Invoice, error) {
	if err := t.check(ctx, false); err != nil {
		return billing.Invoice{}, err
	}
	inv, ok := t.d.invoices[number]
	if !ok {
		return billing.Invoice{}, &billing.NotFoundError{Kind: "invoice", Ref: string(number)}
	}
	return copyInvoice(inv), nil
}

func (t *memTx) LockInvoice(ctx context.Context, number billing.InvoiceNumber) (billing.Invoice, error) {
	return t.GetInvoice(ctx, number)
}

func (t *memTx) UpdateInvoice(ctx context.Context, inv billing.Invoice) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	if _, ok := t.d.invoices[inv.Number]; !ok {
		return &billing.NotFoundError{Kind: "invoice", Ref: string(inv.Number)}
	}
	t.d.invoices[inv.Number] = copyInvoice(inv)
	return nil
}

func (t *memTx) UpdateInvoicePayment(ctx context.Context, number billing.InvoiceNumber, paid decimal.Decimal, status billing.InvoiceStatus) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	inv, ok := t.d.invoices[number]
	if !ok {
		return &billing.NotFoundError{Kind: "invoice", Ref: string(number)}
	}
	inv.PaidAmount = paid
	inv.Status = status
	t.d.invoices[number] = inv
	return nil
}

func (t *memTx) DeleteInvoice(ctx context.Context, number billing.InvoiceNumber) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	if _, ok := t.d.invoices[number]; !ok {
		return &billing.NotFoundError{Kind: "invoice", Ref: string(number)}
	}
	delete(t.d.invoices, number)
	return nil
}

func (t *memTx) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	if err := t.check(ctx, false); err != nil {
		return nil, err
	}
	var out []billing.Invoice
	for _, inv := range t.d.invoices {
		if f.CustomerID != 0 && inv.CustomerID != f.CustomerID {
			continue
		}
		if f.SalesmanID != "" && inv.SalesmanID != f.SalesmanID {
			continue
		}
		if f.PeriodKey != "" && inv.PeriodKey != f.PeriodKey {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		inv.Items = nil
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Number > out[j].Number
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Payments

func (t *memTx) InsertPayment(ctx context.Context, p billing.Payment) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	t.d.payments = append(t.d.payments, p)
	return nil
}

func (t *memTx) DetachPayments(ctx context.Context, number billing.InvoiceNumber) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	for i := range t.d.payments {
		if t.d.payments[i].InvoiceNumber == number {
			t.d.payments[i].InvoiceNumber = ""
		}
	}
	return nil
}

func (t *memTx) ListPayments(ctx context.Context, customerID billing.CustomerID) ([]billing.Payment, error) {
	if err := t.check(ctx, false); err != nil {
		return nil, err
	}
	var out []billing.Payment
	for _, p := range t.d.payments {
		if p.CustomerID == customerID {
			out = append(out, p)
		}
	}
	return out, nil
}

// Ledger

func (t *memTx) AppendLedgerEntry(ctx context.Context, e *billing.LedgerEntry) error {
	if err := t.check(ctx, true); err != nil {
		return err
	}
	t.d.nextEntry++
	e.ID = billing.EntryID(t.d.nextEntry)
	t.d.ledger = append(t.d.ledger, *e)
	return nil
}

func (t *memTx) LedgerEntries(ctx context.Context, customerID billing.CustomerID) ([]billing.LedgerEntry, error) {
	if err := t.check(ctx, false); err != nil {
		return nil, err
	}
	var out []billing.LedgerEntry
	for _, e := range t.d.ledger {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out, nil
}
