package billing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals are the computed money fields of an invoice.
//
//	subtotal = sum(lineTotal)
//	tax      = round(subtotal * taxRate / 100)
//	total    = subtotal + tax - discount + pendingAdded
type Totals struct {
	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	Total       decimal.Decimal
	TotalCost   decimal.Decimal
	GrossProfit decimal.Decimal
}

// PriceLines fills LineTotal and Profit on every item.
func (p Policy) PriceLines(items []InvoiceItem) []InvoiceItem {
	out := make([]InvoiceItem, len(items))
	for i, it := range items {
		it.LineIndex = i
		it.LineTotal = p.Round(it.Qty.Mul(it.UnitPrice))
		it.Profit = it.LineTotal.Sub(p.Round(it.Qty.Mul(it.UnitCost)))
		out[i] = it
	}
	return out
}

// ComputeTotals expects items already priced by PriceLines.
func (p Policy) ComputeTotals(items []InvoiceItem, taxRate, discount, pendingAdded decimal.Decimal) (Totals, error) {
	if err := checkCharges(taxRate, discount, pendingAdded); err != nil {
		return Totals{}, err
	}

	t := Totals{Subtotal: decimal.Zero, TotalCost: decimal.Zero}
	for _, it := range items {
		t.Subtotal = t.Subtotal.Add(it.LineTotal)
		t.TotalCost = t.TotalCost.Add(p.Round(it.Qty.Mul(it.UnitCost)))
	}
	t.TaxAmount = p.Round(t.Subtotal.Mul(taxRate).Div(hundred))
	t.Total = t.Subtotal.Add(t.TaxAmount).Sub(discount).Add(pendingAdded)
	if t.Total.IsNegative() {
		return Totals{}, invalid("discount", "discount %s exceeds the invoice amount", discount)
	}
	t.GrossProfit = t.Subtotal.Sub(discount).Sub(t.TotalCost)
	return t, nil
}

func checkCharges(taxRate, discount, pendingAdded decimal.Decimal) error {
	if taxRate.IsNegative() || taxRate.GreaterThan(hundred) {
		return invalid("tax_rate", "must be within [0, 100], got %s", taxRate)
	}
	if discount.IsNegative() {
		return invalid("discount", "must not be negative")
	}
	if pendingAdded.IsNegative() {
		return invalid("pending_added", "must not be negative")
	}
	return nil
}
