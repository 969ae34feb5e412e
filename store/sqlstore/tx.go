package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/billing"
)

// txStore implements billing.Tx on one *sql.Tx.
type txStore struct {
	tx *sql.Tx
	d  Dialect
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (t *txStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.d.rebind(query), args...)
	if err != nil {
		return nil, classify(op, err)
	}
	return res, nil
}

func (t *txStore) query(ctx context.Context, op, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.d.rebind(query), args...)
	if err != nil {
		return nil, classify(op, err)
	}
	return rows, nil
}

func (t *txStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.rebind(query), args...)
}

// mustAffect turns an update that matched no row into a NotFoundError.
func mustAffect(res sql.Result, kind, ref string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify("rows_affected", err)
	}
	if n == 0 {
		return &billing.NotFoundError{Kind: kind, Ref: ref}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// =============================================================================
// PRODUCTS
// =============================================================================

const productColumns = `name, unit, selling_price, cost_price, stock_quantity, min_stock_threshold, created_at, updated_at`

func scanProduct(r rowScanner) (billing.Product, error) {
	var p billing.Product
	err := r.Scan(&p.Name, &p.Unit, &p.SellingPrice, &p.CostPrice, &p.StockQuantity,
		&p.MinStockThreshold, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt, p.UpdatedAt = utc(p.CreatedAt), utc(p.UpdatedAt)
	return p, err
}

func (t *txStore) InsertProduct(ctx context.Context, p billing.Product) error {
	_, err := t.exec(ctx, "insert_product", `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Unit, p.SellingPrice, p.CostPrice, p.StockQuantity,
		p.MinStockThreshold, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return err
}

func (t *txStore) UpdateProductDetails(ctx context.Context, p billing.Product) error {
	res, err := t.exec(ctx, "update_product", `
		UPDATE products
		SET unit = ?, selling_price = ?, cost_price = ?, min_stock_threshold = ?, updated_at = ?
		WHERE name = ?`,
		p.Unit, p.SellingPrice, p.CostPrice, p.MinStockThreshold, p.UpdatedAt.UTC(), p.Name,
	)
	if err != nil {
		return err
	}
	return mustAffect(res, "product", p.Name)
}

func (t *txStore) GetProduct(ctx context.Context, name string) (billing.Product, error) {
	p, err := scanProduct(t.queryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Product{}, &billing.NotFoundError{Kind: "product", Ref: name}
	}
	if err != nil {
		return billing.Product{}, classify("get_product", err)
	}
	return p, nil
}

// LockProducts locks the rows in name order in a single statement.
func (t *txStore) LockProducts(ctx context.Context, names []string) (map[string]billing.Product, error) {
	out := make(map[string]billing.Product, len(names))
	if len(names) == 0 {
		return out, nil
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	rows, err := t.query(ctx, "lock_products",
		`SELECT `+productColumns+` FROM products
		 WHERE name IN (`+placeholders(len(names))+`)
		 ORDER BY name`+t.d.forUpdate(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("lock_products", err)
		}
		out[p.Name] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classify("lock_products", err)
	}
	return out, nil
}

// ListProducts filters low stock in Go: SQLite keeps quantities as text.
func (t *txStore) ListProducts(ctx context.Context, lowStockOnly bool) ([]billing.Product, error) {
	rows, err := t.query(ctx, "list_products",
		`SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("list_products", err)
		}
		if lowStockOnly && !p.IsLowStock() {
			continue
		}
		out = append(out, p)
	}
	return out, classify("list_products", rows.Err())
}

func (t *txStore) SetProductStock(ctx context.Context, name string, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return billing.NewStorageError("set_stock", fmt.Errorf("negative stock for %q", name))
	}
	res, err := t.exec(ctx, "set_stock",
		`UPDATE products SET stock_quantity = ? WHERE name = ?`, qty, name)
	if err != nil {
		return err
	}
	return mustAffect(res, "product", name)
}

func (t *txStore) InsertStockMovement(ctx context.Context, m billing.StockMovement) error {
	_, err := t.exec(ctx, "insert_movement", `
		INSERT INTO stock_movements (id, product, kind, qty, resulting, reference, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Product, string(m.Type), m.Qty, m.Resulting, m.Reference, m.CreatedBy, m.CreatedAt.UTC(),
	)
	return err
}

func (t *txStore) StockMovements(ctx context.Context, product string) ([]billing.StockMovement, error) {
	rows, err := t.query(ctx, "stock_movements", `
		SELECT id, product, kind, qty, resulting, reference, created_by, created_at
		FROM stock_movements WHERE product = ? ORDER BY seq`, product)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.StockMovement
	for rows.Next() {
		var (
			m    billing.StockMovement
			kind string
		)
		if err := rows.Scan(&m.ID, &m.Product, &kind, &m.Qty, &m.Resulting,
			&m.Reference, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, classify("stock_movements", err)
		}
		m.Type = billing.MovementType(kind)
		m.CreatedAt = utc(m.CreatedAt)
		out = append(out, m)
	}
	return out, classify("stock_movements", rows.Err())
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = `id, name, address, phone, pending_balance, total_sales, created_at`

func scanCustomer(r rowScanner) (billing.Customer, error) {
	var c billing.Customer
	err := r.Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &c.PendingBalance, &c.TotalSales, &c.CreatedAt)
	c.CreatedAt = utc(c.CreatedAt)
	return c, err
}

func (t *txStore) InsertCustomer(ctx context.Context, c *billing.Customer) error {
	err := t.queryRow(ctx, `
		INSERT INTO customers (name, address, phone, pending_balance, total_sales, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		c.Name, c.Address, c.Phone, c.PendingBalance, c.TotalSales, c.CreatedAt.UTC(),
	).Scan(&c.ID)
	return classify("insert_customer", err)
}

func (t *txStore) getCustomer(ctx context.Context, op string, id billing.CustomerID, lock bool) (billing.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = ?`
	if lock {
		query += t.d.forUpdate()
	}
	c, err := scanCustomer(t.queryRow(ctx, query, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Customer{}, &billing.NotFoundError{Kind: "customer", Ref: fmt.Sprint(id)}
	}
	if err != nil {
		return billing.Customer{}, classify(op, err)
	}
	return c, nil
}

func (t *txStore) GetCustomer(ctx context.Context, id billing.CustomerID) (billing.Customer, error) {
	return t.getCustomer(ctx, "get_customer", id, false)
}

func (t *txStore) LockCustomer(ctx context.Context, id billing.CustomerID) (billing.Customer, error) {
	return t.getCustomer(ctx, "lock_customer", id, true)
}

func (t *txStore) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	rows, err := t.query(ctx, "list_customers",
		`SELECT `+customerColumns+` FROM customers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, classify("list_customers", err)
		}
		out = append(out, c)
	}
	return out, classify("list_customers", rows.Err())
}

func (t *txStore) UpdateCustomerBalance(ctx context.Context, id billing.CustomerID, pending, totalSales decimal.Decimal) error {
	res, err := t.exec(ctx, "update_balance",
		`UPDATE customers SET pending_balance = ?, total_sales = ? WHERE id = ?`,
		pending, totalSales, int64(id))
	if err != nil {
		return err
	}
	return mustAffect(res, "customer", fmt.Sprint(id))
}

// =============================================================================
// SEQUENCE
// =============================================================================

// NextSequence increments the (prefix, period) counter in one statement.
// The upsert row-locks the counter until the transaction ends.
func (t *txStore) NextSequence(ctx context.Context, prefix, periodKey string, base int64) (int64, error) {
	var next int64
	err := t.queryRow(ctx, `
		INSERT INTO sequence_counters (prefix, period_key, last_value)
		VALUES (?, ?, ?)
		ON CONFLICT (prefix, period_key)
		DO UPDATE SET last_value = sequence_counters.last_value + 1
		RETURNING last_value`,
		prefix, periodKey, base,
	).Scan(&next)
	if err != nil {
		return 0, classify("next_sequence", err)
	}
	return next, nil
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, number, invoice_date, period_key, customer_id, salesman_id,
	tax_rate, discount, pending_added, subtotal, tax_amount, total, total_cost, gross_profit,
	paid_amount, status, payment_method, notes, editable_until, created_at, updated_at`

func scanInvoice(r rowScanner) (billing.Invoice, error) {
	var (
		inv            billing.Invoice
		number, status string
		method         string
	)
	err := r.Scan(&inv.ID, &number, &inv.Date, &inv.PeriodKey, &inv.CustomerID, &inv.SalesmanID,
		&inv.TaxRate, &inv.Discount, &inv.PendingAdded, &inv.Subtotal, &inv.TaxAmount, &inv.Total,
		&inv.TotalCost, &inv.GrossProfit, &inv.PaidAmount, &status, &method, &inv.Notes,
		&inv.EditableUntil, &inv.CreatedAt, &inv.UpdatedAt)
	inv.Number = billing.InvoiceNumber(number)
	inv.Status = billing.InvoiceStatus(status)
	inv.PaymentMethod = billing.PaymentMethod(method)
	inv.Date = utc(inv.Date)
	inv.EditableUntil = utc(inv.EditableUntil)
	inv.CreatedAt, inv.UpdatedAt = utc(inv.CreatedAt), utc(inv.UpdatedAt)
	return inv, err
}

func (t *txStore) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	err := t.queryRow(ctx, `
		INSERT INTO invoices (number, invoice_date, period_key, customer_id, salesman_id,
			tax_rate, discount, pending_added, subtotal, tax_amount, total, total_cost, gross_profit,
			paid_amount, status, payment_method, notes, editable_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		string(inv.Number), inv.Date.UTC(), inv.PeriodKey, int64(inv.CustomerID), inv.SalesmanID,
		inv.TaxRate, inv.Discount, inv.PendingAdded, inv.Subtotal, inv.TaxAmount, inv.Total,
		inv.TotalCost, inv.GrossProfit, inv.PaidAmount, string(inv.Status), string(inv.PaymentMethod),
		inv.Notes, inv.EditableUntil.UTC(), inv.CreatedAt.UTC(), inv.UpdatedAt.UTC(),
	).Scan(&inv.ID)
	if err != nil {
		return classify("insert_invoice", err)
	}
	return t.insertItems(ctx, inv.ID, inv.Items)
}

func (t *txStore) insertItems(ctx context.Context, invoiceID int64, items []billing.InvoiceItem) error {
	for _, it := range items {
		if _, err := t.exec(ctx, "insert_item", `
			INSERT INTO invoice_items (invoice_id, line_index, product, qty, unit_price, unit_cost, line_total, profit)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			invoiceID, it.LineIndex, it.Product, it.Qty, it.UnitPrice, it.UnitCost, it.LineTotal, it.Profit,
		); err != nil {
			return err
		}
	}
	return nil
}

func (t *txStore) loadItems(ctx context.Context, invoiceID int64) ([]billing.InvoiceItem, error) {
	rows, err := t.query(ctx, "load_items", `
		SELECT line_index, product, qty, unit_price, unit_cost, line_total, profit
		FROM invoice_items WHERE invoice_id = ? ORDER BY line_index`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []billing.InvoiceItem
	for rows.Next() {
		var it billing.InvoiceItem
		if err := rows.Scan(&it.LineIndex, &it.Product, &it.Qty, &it.UnitPrice,
			&it.UnitCost, &it.LineTotal, &it.Profit); err != nil {
			return nil, classify("load_items", err)
		}
		items = append(items, it)
	}
	return items, classify("load_items", rows.Err())
}

func (t *txStore) getInvoice(ctx context.Context, op string, number billing.InvoiceNumber, lock bool) (billing.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE number = ?`
	if lock {
		query += t.d.forUpdate()
	}
	inv, err := scanInvoice(t.queryRow(ctx, query, string(number)))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Invoice{}, &billing.NotFoundError{Kind: "invoice", Ref: string(number)}
	}
	if err != nil {
		return billing.Invoice{}, classify(op, err)
	}
	if inv.Items, err = t.loadItems(ctx, inv.ID); err != nil {
		return billing.Invoice{}, err
	}
	return inv, nil
}

func (t *txStore) GetInvoice(ctx context.Context, number billing.InvoiceNumber) (billing.Invoice, error) {
	return t.getInvoice(ctx, "get_invoice", number, false)
}

func (t *txStore) LockInvoice(ctx context.Context, number billing.InvoiceNumber) (billing.Invoice, error) {
	return t.getInvoice(ctx, "lock_invoice", number, true)
}

// UpdateInvoice rewrites the header and replaces the lines.
func (t *txStore) UpdateInvoice(ctx context.Context, inv billing.Invoice) error {
	var id int64
	err := t.queryRow(ctx, `
		UPDATE invoices SET invoice_date = ?, period_key = ?, salesman_id = ?,
			tax_rate = ?, discount = ?, pending_added = ?, subtotal = ?, tax_amount = ?, total = ?,
			total_cost = ?, gross_profit = ?, paid_amount = ?, status = ?, payment_method = ?,
			notes = ?, editable_until = ?, updated_at = ?
		WHERE number = ?
		RETURNING id`,
		inv.Date.UTC(), inv.PeriodKey, inv.SalesmanID,
		inv.TaxRate, inv.Discount, inv.PendingAdded, inv.Subtotal, inv.TaxAmount, inv.Total,
		inv.TotalCost, inv.GrossProfit, inv.PaidAmount, string(inv.Status), string(inv.PaymentMethod),
		inv.Notes, inv.EditableUntil.UTC(), inv.UpdatedAt.UTC(), string(inv.Number),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return &billing.NotFoundError{Kind: "invoice", Ref: string(inv.Number)}
	}
	if err != nil {
		return classify("update_invoice", err)
	}
	if _, err := t.exec(ctx, "delete_items", `DELETE FROM invoice_items WHERE invoice_id = ?`, id); err != nil {
		return err
	}
	return t.insertItems(ctx, id, inv.Items)
}

func (t *txStore) UpdateInvoicePayment(ctx context.Context, number billing.InvoiceNumber, paid decimal.Decimal, status billing.InvoiceStatus) error {
	res, err := t.exec(ctx, "update_invoice_payment",
		`UPDATE invoices SET paid_amount = ?, status = ? WHERE number = ?`,
		paid, string(status), string(number))
	if err != nil {
		return err
	}
	return mustAffect(res, "invoice", string(number))
}

// DeleteInvoice removes the invoice; its lines go with it (ON DELETE CASCADE).
func (t *txStore) DeleteInvoice(ctx context.Context, number billing.InvoiceNumber) error {
	res, err := t.exec(ctx, "delete_invoice", `DELETE FROM invoices WHERE number = ?`, string(number))
	if err != nil {
		return err
	}
	return mustAffect(res, "invoice", string(number))
}

func (t *txStore) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if f.CustomerID != 0 {
		where = append(where, "customer_id = ?")
		args = append(args, int64(f.CustomerID))
	}
	if f.SalesmanID != "" {
		where = append(where, "salesman_id = ?")
		args = append(args, f.SalesmanID)
	}
	if f.PeriodKey != "" {
		where = append(where, "period_key = ?")
		args = append(args, f.PeriodKey)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY invoice_date DESC, number DESC`
	page, pageArgs := t.d.limitOffset(f.Limit, f.Offset)
	query += page
	args = append(args, pageArgs...)

	rows, err := t.query(ctx, "list_invoices", query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, classify("list_invoices", err)
		}
		out = append(out, inv)
	}
	return out, classify("list_invoices", rows.Err())
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (t *txStore) InsertPayment(ctx context.Context, p billing.Payment) error {
	_, err := t.exec(ctx, "insert_payment", `
		INSERT INTO payments (id, payment_date, customer_id, invoice_number, amount, method,
			reference, received_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Date.UTC(), int64(p.CustomerID), nullString(string(p.InvoiceNumber)), p.Amount,
		string(p.Method), p.Reference, p.ReceivedBy, p.CreatedAt.UTC(),
	)
	return err
}

// DetachPayments keeps the payments as account credit after the invoice is gone.
func (t *txStore) DetachPayments(ctx context.Context, number billing.InvoiceNumber) error {
	_, err := t.exec(ctx, "detach_payments",
		`UPDATE payments SET invoice_number = NULL WHERE invoice_number = ?`, string(number))
	return err
}

func (t *txStore) ListPayments(ctx context.Context, customerID billing.CustomerID) ([]billing.Payment, error) {
	rows, err := t.query(ctx, "list_payments", `
		SELECT id, payment_date, customer_id, invoice_number, amount, method, reference, received_by, created_at
		FROM payments WHERE customer_id = ? ORDER BY seq`, int64(customerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Payment
	for rows.Next() {
		var (
			p       billing.Payment
			invoice sql.NullString
			method  string
		)
		if err := rows.Scan(&p.ID, &p.Date, &p.CustomerID, &invoice, &p.Amount, &method,
			&p.Reference, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, classify("list_payments", err)
		}
		p.InvoiceNumber = billing.InvoiceNumber(invoice.String)
		p.Method = billing.PaymentMethod(method)
		p.Date, p.CreatedAt = utc(p.Date), utc(p.CreatedAt)
		out = append(out, p)
	}
	return out, classify("list_payments", rows.Err())
}

// =============================================================================
// LEDGER
// =============================================================================

func (t *txStore) AppendLedgerEntry(ctx context.Context, e *billing.LedgerEntry) error {
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO ledger_entries (entry_date, customer_id, invoice_number, kind, debit, credit,
			resulting_balance, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		e.Date.UTC(), int64(e.CustomerID), nullString(string(e.InvoiceNumber)), string(e.Type),
		e.Debit, e.Credit, e.ResultingBalance, e.Description, e.CreatedBy, e.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return classify("append_ledger", err)
	}
	e.ID = billing.EntryID(id)
	return nil
}

func (t *txStore) LedgerEntries(ctx context.Context, customerID billing.CustomerID) ([]billing.LedgerEntry, error) {
	rows, err := t.query(ctx, "ledger_entries", `
		SELECT id, entry_date, customer_id, invoice_number, kind, debit, credit,
			resulting_balance, description, created_by, created_at
		FROM ledger_entries WHERE customer_id = ? ORDER BY id`, int64(customerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.LedgerEntry
	for rows.Next() {
		var (
			e       billing.LedgerEntry
			invoice sql.NullString
			kind    string
		)
		if err := rows.Scan(&e.ID, &e.Date, &e.CustomerID, &invoice, &kind, &e.Debit, &e.Credit,
			&e.ResultingBalance, &e.Description, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, classify("ledger_entries", err)
		}
		e.InvoiceNumber = billing.InvoiceNumber(invoice.String)
		e.Type = billing.EntryType(kind)
		e.Date, e.CreatedAt = utc(e.Date), utc(e.CreatedAt)
		out = append(out, e)
	}
	return out, classify("ledger_entries", rows.Err())
}

var _ billing.Tx = (*txStore)(nil)
var _ billing.Store = (*Store)(nil)
