/*
invoice.go - Invoice orchestrator (Create / Edit / Delete / Get / List)

PURPOSE:
  Composes the sequence generator, stock ledger and balance tracker into
  atomic invoice operations. Each operation is one Store transaction; any
  failure discards every stock, ledger, balance and sequence write made so far.

STATE MACHINE (per operation):

  Validating --ok--> StockReserved --ok--> Committed
      |                    |
      +--fail--> Rejected  +--fail--> RolledBack

  Validating covers input checks, row locks, pricing and totals. Once the
  first stock delta is applied the operation is StockReserved and a failure
  rolls the transaction back.

LOCK ORDER:
  invoice row -> product rows (sorted by name) -> customer row -> sequence
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// REQUESTS AND RESULTS
// =============================================================================

// ItemInput is one requested line. A nil UnitPrice is filled from the
// product's selling price.
type ItemInput struct {
	Product   string
	Qty       decimal.Decimal
	UnitPrice *decimal.Decimal
}

type CreateInvoiceRequest struct {
	CustomerID    CustomerID
	Salesman      Actor
	Date          time.Time // zero means today
	Items         []ItemInput
	TaxRate       *decimal.Decimal // nil means Policy.DefaultTaxRate
	Discount      decimal.Decimal
	PendingAdded  decimal.Decimal
	PaidAmount    decimal.Decimal
	PaymentMethod PaymentMethod
	Notes         string
}

// EditInvoiceRequest replaces items and charges. Zero Date, nil TaxRate and
// nil Notes keep the stored values.
type EditInvoiceRequest struct {
	Actor        Actor
	Items        []ItemInput
	Date         time.Time
	TaxRate      *decimal.Decimal
	Discount     decimal.Decimal
	PendingAdded decimal.Decimal
	Notes        *string
}

// PriceWarning flags a line sold below cost.
type PriceWarning struct {
	Line      int
	Product   string
	UnitPrice decimal.Decimal
	CostPrice decimal.Decimal
}

func (w PriceWarning) String() string {
	return fmt.Sprintf("line %d: %s sold at %s, below cost %s", w.Line, w.Product, w.UnitPrice, w.CostPrice)
}

type InvoiceResult struct {
	Invoice        Invoice
	PendingBalance decimal.Decimal
	Delta          decimal.Decimal // change in total; equals Total on create
	LowStock       []StockResult
	Warnings       []PriceWarning
}

type DeleteResult struct {
	Number         InvoiceNumber
	CustomerID     CustomerID
	Total          decimal.Decimal
	PendingBalance decimal.Decimal
	Restored       []StockResult
}

// TxState is the orchestrator state of one operation.
type TxState string

const (
	StateValidating    TxState = "validating"
	StateStockReserved TxState = "stock_reserved"
	StateCommitted     TxState = "committed"
	StateRejected      TxState = "rejected"
	StateRolledBack    TxState = "rolled_back"
)

// =============================================================================
// SERVICE
// =============================================================================

type InvoiceService struct {
	store    Store
	policy   Policy
	seq      *SequenceGenerator
	stock    *StockLedger
	balances *BalanceTracker
	log      *zap.Logger
}

func NewInvoiceService(store Store, policy Policy, seq *SequenceGenerator, stock *StockLedger, balances *BalanceTracker, log *zap.Logger) *InvoiceService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InvoiceService{store: store, policy: policy, seq: seq, stock: stock, balances: balances, log: log}
}

// Create bills a customer, decrements stock and debits the ledger.
func (s *InvoiceService) Create(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error) {
	op := s.track("create", zap.Int64("customer_id", int64(req.CustomerID)), zap.String("actor", req.Salesman.ID))
	res, err := s.create(ctx, req, op)
	if err != nil {
		op.finish(err)
		return nil, err
	}
	op.finish(nil,
		zap.String("invoice", string(res.Invoice.Number)),
		zap.String("total", res.Invoice.Total.String()),
		zap.String("pending", res.PendingBalance.String()))
	return res, nil
}

func (s *InvoiceService) create(ctx context.Context, req CreateInvoiceRequest, op *opTracker) (*InvoiceResult, error) {
	if err := req.Salesman.Require(PermCreateInvoice); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Salesman.ID) == "" {
		return nil, invalid("salesman", "salesman is required")
	}
	if req.CustomerID <= 0 {
		return nil, invalid("customer_id", "customer is required")
	}
	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}
	taxRate := s.policy.DefaultTaxRate
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
	}
	if err := checkCharges(taxRate, req.Discount, req.PendingAdded); err != nil {
		return nil, err
	}
	if req.PaidAmount.IsNegative() {
		return nil, invalid("paid_amount", "must not be negative")
	}
	method := req.PaymentMethod
	if method == "" {
		method = MethodCash
	}
	if !method.Valid() {
		return nil, invalid("payment_method", "unknown payment method %q", method)
	}
	date := s.invoiceDate(req.Date)

	var res *InvoiceResult
	err = s.store.WithTx(ctx, func(tx Tx) error {
		products, err := tx.LockProducts(ctx, inputNames(items))
		if err != nil {
			return err
		}
		customer, err := tx.LockCustomer(ctx, req.CustomerID)
		if err != nil {
			if IsNotFound(err) {
				return invalid("customer_id", "unknown customer %d", req.CustomerID)
			}
			return err
		}

		lines, warnings, err := s.priceItems(items, products, req.Salesman)
		if err != nil {
			return err
		}
		totals, err := s.policy.ComputeTotals(lines, taxRate, req.Discount, req.PendingAdded)
		if err != nil {
			return err
		}
		if err := checkAvailability(lines, products); err != nil {
			return err
		}

		// Stock is known to be reservable, so the number is not burned.
		number, period, err := s.seq.NextInvoiceNumber(ctx, tx, date)
		if err != nil {
			return err
		}
		op.reserve()
		applied, err := s.applyLines(ctx, tx, lines, decimal.NewFromInt(-1), MovementSale, number, req.Salesman.ID)
		if err != nil {
			return err
		}

		now := s.policy.now()
		inv := Invoice{
			Number:        number,
			Date:          date,
			PeriodKey:     period,
			CustomerID:    customer.ID,
			SalesmanID:    req.Salesman.ID,
			Items:         lines,
			TaxRate:       taxRate,
			Discount:      req.Discount,
			PendingAdded:  req.PendingAdded,
			Subtotal:      totals.Subtotal,
			TaxAmount:     totals.TaxAmount,
			Total:         totals.Total,
			TotalCost:     totals.TotalCost,
			GrossProfit:   totals.GrossProfit,
			PaidAmount:    req.PaidAmount,
			Status:        DeriveStatus(req.PaidAmount, totals.Total),
			PaymentMethod: method,
			Notes:         req.Notes,
			EditableUntil: now.Add(s.policy.EditWindow),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertInvoice(ctx, &inv); err != nil {
			return err
		}

		entry, err := s.balances.ApplyDelta(ctx, tx, LedgerEntry{
			Date:          date,
			CustomerID:    customer.ID,
			InvoiceNumber: number,
			Type:          EntryInvoice,
			Debit:         totals.Total,
			Credit:        decimal.Zero,
			Description:   fmt.Sprintf("Invoice %s", number),
			CreatedBy:     req.Salesman.ID,
		}, totals.Total)
		if err != nil {
			return err
		}
		pending := entry.ResultingBalance

		if req.PaidAmount.IsPositive() {
			pe, err := recordPaymentTx(ctx, tx, s.balances, s.policy, Payment{
				Date:          date,
				CustomerID:    customer.ID,
				InvoiceNumber: number,
				Amount:        req.PaidAmount,
				Method:        method,
				ReceivedBy:    req.Salesman.ID,
			}, fmt.Sprintf("Payment on invoice %s", number))
			if err != nil {
				return err
			}
			pending = pe.ResultingBalance
		}

		for _, w := range warnings {
			s.log.Warn("invoice priced below cost", zap.String("invoice", string(number)), zap.String("warning", w.String()))
		}
		res = &InvoiceResult{
			Invoice:        inv,
			PendingBalance: pending,
			Delta:          totals.Total,
			LowStock:       lowOnly(applied),
			Warnings:       warnings,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Edit reverses the invoice's stock effects, applies the new lines and
// writes one adjustment entry for the net change in total.
func (s *InvoiceService) Edit(ctx context.Context, number InvoiceNumber, req EditInvoiceRequest) (*InvoiceResult, error) {
	op := s.track("edit", zap.String("invoice", string(number)), zap.String("actor", req.Actor.ID))
	res, err := s.edit(ctx, number, req, op)
	if err != nil {
		op.finish(err)
		return nil, err
	}
	op.finish(nil, zap.String("total", res.Invoice.Total.String()), zap.String("delta", res.Delta.String()))
	return res, nil
}

func (s *InvoiceService) edit(ctx context.Context, number InvoiceNumber, req EditInvoiceRequest, op *opTracker) (*InvoiceResult, error) {
	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}

	var res *InvoiceResult
	err = s.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.LockInvoice(ctx, number)
		if err != nil {
			return err
		}
		if err := canEdit(req.Actor, inv); err != nil {
			return err
		}
		now := s.policy.now()
		if s.policy.EnforceEditWindow && now.After(inv.EditableUntil) &&
			!req.Actor.Permissions.Has(PermBypassEditWindow) {
			return &EditWindowError{InvoiceNumber: inv.Number, EditableUntil: inv.EditableUntil}
		}

		products, err := tx.LockProducts(ctx, unionNames(lineNames(inv.Items), inputNames(items)))
		if err != nil {
			return err
		}
		if _, err := tx.LockCustomer(ctx, inv.CustomerID); err != nil {
			return err
		}

		taxRate := inv.TaxRate
		if req.TaxRate != nil {
			taxRate = *req.TaxRate
		}
		lines, warnings, err := s.priceItems(items, products, req.Actor)
		if err != nil {
			return err
		}
		totals, err := s.policy.ComputeTotals(lines, taxRate, req.Discount, req.PendingAdded)
		if err != nil {
			return err
		}

		op.reserve()
		if _, err := s.applyLines(ctx, tx, inv.Items, decimal.NewFromInt(1), MovementReversal, number, req.Actor.ID); err != nil {
			return err
		}
		applied, err := s.applyLines(ctx, tx, lines, decimal.NewFromInt(-1), MovementSale, number, req.Actor.ID)
		if err != nil {
			return err
		}

		oldTotal := inv.Total
		delta := totals.Total.Sub(oldTotal)
		if !req.Date.IsZero() {
			inv.Date = s.invoiceDate(req.Date)
			inv.PeriodKey = s.policy.PeriodKey(inv.Date)
		}
		if req.Notes != nil {
			inv.Notes = *req.Notes
		}
		inv.Items = lines
		inv.TaxRate = taxRate
		inv.Discount = req.Discount
		inv.PendingAdded = req.PendingAdded
		inv.Subtotal = totals.Subtotal
		inv.TaxAmount = totals.TaxAmount
		inv.Total = totals.Total
		inv.TotalCost = totals.TotalCost
		inv.GrossProfit = totals.GrossProfit
		inv.Status = DeriveStatus(inv.PaidAmount, inv.Total)
		inv.UpdatedAt = now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}

		entry, err := s.balances.ApplyDelta(ctx, tx, signedEntry(LedgerEntry{
			CustomerID:    inv.CustomerID,
			InvoiceNumber: number,
			Type:          EntryAdjustment,
			Description:   fmt.Sprintf("Invoice %s edited: %s -> %s", number, oldTotal, totals.Total),
			CreatedBy:     req.Actor.ID,
		}, delta), delta)
		if err != nil {
			return err
		}

		res = &InvoiceResult{
			Invoice:        inv,
			PendingBalance: entry.ResultingBalance,
			Delta:          delta,
			LowStock:       lowOnly(applied),
			Warnings:       warnings,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Delete restores stock, credits the invoice total back and removes the
// invoice. Its number is never issued again.
func (s *InvoiceService) Delete(ctx context.Context, number InvoiceNumber, actor Actor) (*DeleteResult, error) {
	op := s.track("delete", zap.String("invoice", string(number)), zap.String("actor", actor.ID))
	res, err := s.delete(ctx, number, actor, op)
	if err != nil {
		op.finish(err)
		return nil, err
	}
	op.finish(nil, zap.String("pending", res.PendingBalance.String()))
	return res, nil
}

func (s *InvoiceService) delete(ctx context.Context, number InvoiceNumber, actor Actor, op *opTracker) (*DeleteResult, error) {
	if err := actor.Require(PermDeleteInvoice); err != nil {
		return nil, err
	}

	var res *DeleteResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.LockInvoice(ctx, number)
		if err != nil {
			return err
		}
		if _, err := tx.LockProducts(ctx, lineNames(inv.Items)); err != nil {
			return err
		}
		if _, err := tx.LockCustomer(ctx, inv.CustomerID); err != nil {
			return err
		}

		op.reserve()
		restored, err := s.applyLines(ctx, tx, inv.Items, decimal.NewFromInt(1), MovementReversal, number, actor.ID)
		if err != nil {
			return err
		}
		entry, err := s.balances.ApplyDelta(ctx, tx, LedgerEntry{
			CustomerID:    inv.CustomerID,
			InvoiceNumber: number,
			Type:          EntryAdjustment,
			Debit:         decimal.Zero,
			Credit:        inv.Total,
			Description:   fmt.Sprintf("Invoice %s deleted", number),
			CreatedBy:     actor.ID,
		}, inv.Total.Neg())
		if err != nil {
			return err
		}
		if err := tx.DetachPayments(ctx, number); err != nil {
			return err
		}
		if err := tx.DeleteInvoice(ctx, number); err != nil {
			return err
		}

		res = &DeleteResult{
			Number:         number,
			CustomerID:     inv.CustomerID,
			Total:          inv.Total,
			PendingBalance: entry.ResultingBalance,
			Restored:       restored,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Get returns the printable projection of an invoice.
func (s *InvoiceService) Get(ctx context.Context, number InvoiceNumber) (InvoiceView, error) {
	var view InvoiceView
	err := s.store.View(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, number)
		if err != nil {
			return err
		}
		c, err := tx.GetCustomer(ctx, inv.CustomerID)
		if err != nil {
			return err
		}
		view = InvoiceView{
			Invoice:         inv,
			CustomerName:    c.Name,
			CustomerAddress: c.Address,
			CustomerPhone:   c.Phone,
			CustomerPending: c.PendingBalance,
		}
		return nil
	})
	return view, err
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// List returns invoice headers, newest first.
func (s *InvoiceService) List(ctx context.Context, f InvoiceFilter) ([]Invoice, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		return nil, invalid("offset", "must not be negative")
	}
	var out []Invoice
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListInvoices(ctx, f)
		return err
	})
	return out, err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *InvoiceService) invoiceDate(d time.Time) time.Time {
	if d.IsZero() {
		d = s.policy.now()
	}
	return dateOnly(d)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// normalizeItems trims names and rejects empty, duplicate or non-positive lines.
func normalizeItems(in []ItemInput) ([]ItemInput, error) {
	if len(in) == 0 {
		return nil, invalid("items", "at least one item is required")
	}
	seen := make(map[string]int, len(in))
	out := make([]ItemInput, len(in))
	for i, it := range in {
		it.Product = strings.TrimSpace(it.Product)
		field := fmt.Sprintf("items[%d]", i)
		if it.Product == "" {
			return nil, invalid(field+".product", "product is required")
		}
		if j, dup := seen[it.Product]; dup {
			return nil, invalid(field+".product", "%q already appears on line %d", it.Product, j)
		}
		seen[it.Product] = i
		if !it.Qty.IsPositive() {
			return nil, invalid(field+".qty", "must be greater than zero")
		}
		if it.UnitPrice != nil && it.UnitPrice.IsNegative() {
			return nil, invalid(field+".unit_price", "must not be negative")
		}
		out[i] = it
	}
	return out, nil
}

// priceItems resolves catalog prices and applies the below-cost policy.
func (s *InvoiceService) priceItems(items []ItemInput, products map[string]Product, actor Actor) ([]InvoiceItem, []PriceWarning, error) {
	lines := make([]InvoiceItem, 0, len(items))
	var warnings []PriceWarning
	for i, it := range items {
		p, ok := products[it.Product]
		if !ok {
			return nil, nil, invalid(fmt.Sprintf("items[%d].product", i), "unknown product %q", it.Product)
		}
		price := p.SellingPrice
		if it.UnitPrice != nil {
			price = *it.UnitPrice
		}
		if price.LessThan(p.CostPrice) {
			if s.policy.StrictPricing && !actor.Permissions.Has(PermOverridePrice) {
				return nil, nil, invalid(fmt.Sprintf("items[%d].unit_price", i),
					"%s is below cost price %s for %q", price, p.CostPrice, p.Name)
			}
			warnings = append(warnings, PriceWarning{Line: i, Product: p.Name, UnitPrice: price, CostPrice: p.CostPrice})
		}
		lines = append(lines, InvoiceItem{Product: p.Name, Qty: it.Qty, UnitPrice: price, UnitCost: p.CostPrice})
	}
	return s.policy.PriceLines(lines), warnings, nil
}

// checkAvailability reports the first line whose product cannot cover it.
func checkAvailability(lines []InvoiceItem, products map[string]Product) error {
	for _, l := range lines {
		p := products[l.Product]
		if p.StockQuantity.LessThan(l.Qty) {
			return &InsufficientStockError{
				Product:   p.Name,
				Available: p.StockQuantity,
				Requested: l.Qty,
				Shortfall: l.Qty.Sub(p.StockQuantity),
			}
		}
	}
	return nil
}

// applyLines applies sign*qty for every line, in line order.
func (s *InvoiceService) applyLines(ctx context.Context, tx Tx, lines []InvoiceItem, sign decimal.Decimal, mt MovementType, ref InvoiceNumber, actor string) ([]StockResult, error) {
	out := make([]StockResult, 0, len(lines))
	for _, l := range lines {
		r, err := s.stock.Apply(ctx, tx, StockChange{
			Product:   l.Product,
			Delta:     l.Qty.Mul(sign),
			Type:      mt,
			Reference: string(ref),
			Actor:     actor,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func canEdit(a Actor, inv Invoice) error {
	if a.Permissions.Has(PermEditInvoice) {
		return nil
	}
	if a.ID != "" && a.ID == inv.SalesmanID && a.Permissions.Has(PermCreateInvoice) {
		return nil
	}
	return &PermissionError{ActorID: a.ID, Missing: PermEditInvoice}
}

func lowOnly(rs []StockResult) []StockResult {
	var out []StockResult
	for _, r := range rs {
		if r.LowStock {
			out = append(out, r)
		}
	}
	return out
}

func inputNames(items []ItemInput) []string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Product)
	}
	sort.Strings(names)
	return names
}

func lineNames(items []InvoiceItem) []string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Product)
	}
	sort.Strings(names)
	return names
}

func unionNames(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, n := range a {
		set[n] = struct{}{}
	}
	for _, n := range b {
		set[n] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// OPERATION TRACKING
// =============================================================================

type opTracker struct {
	name   string
	state  TxState
	start  time.Time
	log    *zap.Logger
	fields []zap.Field
}

func (s *InvoiceService) track(name string, fields ...zap.Field) *opTracker {
	return &opTracker{name: name, state: StateValidating, start: time.Now(), log: s.log, fields: fields}
}

func (t *opTracker) reserve() { t.state = StateStockReserved }

// finish moves the operation to its terminal state and logs it.
func (t *opTracker) finish(err error, fields ...zap.Field) TxState {
	switch {
	case err == nil:
		t.state = StateCommitted
	case t.state == StateValidating:
		t.state = StateRejected
	default:
		t.state = StateRolledBack
	}

	all := append(append([]zap.Field{}, t.fields...), fields...)
	all = append(all,
		zap.String("op", t.name),
		zap.String("state", string(t.state)),
		zap.Duration("elapsed", time.Since(t.start)))

	switch {
	case err == nil:
		t.log.Info("invoice operation committed", all...)
	case IsClientError(err) || IsNotFound(err):
		t.log.Info("invoice operation refused", append(all, zap.Error(err))...)
	default:
		t.log.Error("invoice operation failed", append(all, zap.Error(err))...)
	}
	return t.state
}
