/*
Package billing is the invoice lifecycle and ledger consistency engine.

PURPOSE:
  Every invoice creation, edit, deletion and payment has to keep four facts in
  agreement: product stock, invoice totals, the customer's pending balance and
  the append-only ledger used for auditing. This package owns the rules that
  keep them consistent. Rendering, authentication and export live elsewhere
  and only consume the values produced here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: catalog item whose stock only moves through the StockLedger
  - Customer: debtor whose pending balance is derived from the ledger
  - Invoice / InvoiceItem: the bill and its lines
  - LedgerEntry: immutable debit/credit record per customer
  - Payment / StockMovement: audit rows written next to ledger changes

DESIGN PRINCIPLES:
  1. Precision: money and quantities are decimal.Decimal, never float64
  2. Immutability: ledger entries are appended, corrections are new entries
  3. Derivation: Customer.PendingBalance is a cache of a ledger replay
  4. Atomicity: every operation runs inside one Store transaction

SEE ALSO:
  - invoice.go: the orchestrator (Create / Edit / Delete)
  - ledger.go: ledger replay
  - store.go: persistence ports
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID int64
type InvoiceNumber string
type EntryID int64

// =============================================================================
// PRODUCT
// =============================================================================

// Product is identified by its unique name.
type Product struct {
	Name              string
	Unit              string
	SellingPrice      decimal.Decimal
	CostPrice         decimal.Decimal
	StockQuantity     decimal.Decimal
	MinStockThreshold decimal.Decimal
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsLowStock reports whether the product sits at or below its threshold.
func (p Product) IsLowStock() bool {
	return p.StockQuantity.LessThanOrEqual(p.MinStockThreshold)
}

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer is unique by (Name, Address); ID is the surrogate key.
type Customer struct {
	ID             CustomerID
	Name           string
	Address        string
	Phone          string
	PendingBalance decimal.Decimal // cached max(0, ledger raw balance)
	TotalSales     decimal.Decimal // informational: sum of active invoice totals
	CreatedAt      time.Time
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	StatusPending InvoiceStatus = "pending"
	StatusPartial InvoiceStatus = "partial"
	StatusPaid    InvoiceStatus = "paid"
)

// DeriveStatus maps paid vs total onto the invoice status.
func DeriveStatus(paid, total decimal.Decimal) InvoiceStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

type Invoice struct {
	ID            int64
	Number        InvoiceNumber
	Date          time.Time
	PeriodKey     string
	CustomerID    CustomerID
	SalesmanID    string
	Items         []InvoiceItem
	TaxRate       decimal.Decimal // percent
	Discount      decimal.Decimal
	PendingAdded  decimal.Decimal
	Subtotal      decimal.Decimal
	TaxAmount     decimal.Decimal
	Total         decimal.Decimal
	TotalCost     decimal.Decimal
	GrossProfit   decimal.Decimal
	PaidAmount    decimal.Decimal
	Status        InvoiceStatus
	PaymentMethod PaymentMethod
	Notes         string
	EditableUntil time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Balance is what is still owed on this invoice alone.
func (inv Invoice) Balance() decimal.Decimal {
	return inv.Total.Sub(inv.PaidAmount)
}

// InvoiceItem is one line; identity is (invoice number, LineIndex).
type InvoiceItem struct {
	LineIndex int
	Product   string
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	UnitCost  decimal.Decimal // cost price at time of sale
	LineTotal decimal.Decimal
	Profit    decimal.Decimal
}

// InvoiceView is the read-only projection handed to printing/rendering.
type InvoiceView struct {
	Invoice
	CustomerName    string
	CustomerAddress string
	CustomerPhone   string
	CustomerPending decimal.Decimal
}

// InvoiceFilter narrows invoice listings. Zero values mean "any".
type InvoiceFilter struct {
	CustomerID CustomerID
	SalesmanID string
	PeriodKey  string
	Status     InvoiceStatus
	Limit      int
	Offset     int
}

// =============================================================================
// LEDGER
// =============================================================================

type EntryType string

const (
	EntryInvoice    EntryType = "invoice"
	EntryPayment    EntryType = "payment"
	EntryAdjustment EntryType = "adjustment"
)

// LedgerEntry is append-only. Never updated, never deleted.
type LedgerEntry struct {
	ID               EntryID
	Date             time.Time
	CustomerID       CustomerID
	InvoiceNumber    InvoiceNumber // empty for pure payments
	Type             EntryType
	Debit            decimal.Decimal
	Credit           decimal.Decimal
	ResultingBalance decimal.Decimal // pending balance right after this entry
	Description      string
	CreatedBy        string
	CreatedAt        time.Time
}

// Net is the signed effect of the entry on what the customer owes.
func (e LedgerEntry) Net() decimal.Decimal {
	return e.Debit.Sub(e.Credit)
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodBank   PaymentMethod = "bank"
	MethodCheque PaymentMethod = "cheque"
	MethodCard   PaymentMethod = "card"
	MethodOnline PaymentMethod = "online"
	MethodOther  PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBank, MethodCheque, MethodCard, MethodOnline, MethodOther:
		return true
	}
	return false
}

type Payment struct {
	ID            string
	Date          time.Time
	CustomerID    CustomerID
	InvoiceNumber InvoiceNumber // empty when paid against the customer account
	Amount        decimal.Decimal
	Method        PaymentMethod
	Reference     string
	ReceivedBy    string
	CreatedAt     time.Time
}

// =============================================================================
// STOCK MOVEMENTS
// =============================================================================

type MovementType string

const (
	MovementSale       MovementType = "sale"
	MovementReversal   MovementType = "reversal"
	MovementRestock    MovementType = "restock"
	MovementAdjustment MovementType = "adjustment"
)

// StockMovement records every delta applied by the StockLedger.
type StockMovement struct {
	ID        string
	Product   string
	Type      MovementType
	Qty       decimal.Decimal // signed
	Resulting decimal.Decimal
	Reference string
	CreatedBy string
	CreatedAt time.Time
}
