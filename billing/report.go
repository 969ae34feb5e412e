package billing

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// SalesSummary is the profit roll-up for one period.
type SalesSummary struct {
	PeriodKey   string
	Invoices    int
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Discount    decimal.Decimal
	Revenue     decimal.Decimal // subtotal + tax - discount, without carried balances
	Cost        decimal.Decimal
	GrossProfit decimal.Decimal
	Paid        decimal.Decimal
	BySalesman  []SalesmanTotals
}

type SalesmanTotals struct {
	SalesmanID string
	Invoices   int
	Revenue    decimal.Decimal
}

type Reports struct {
	store Store
}

func NewReports(store Store) *Reports {
	return &Reports{store: store}
}

// SalesSummary aggregates active invoices of the period.
func (r *Reports) SalesSummary(ctx context.Context, periodKey string) (SalesSummary, error) {
	if periodKey == "" {
		return SalesSummary{}, invalid("period", "period is required")
	}
	var invoices []Invoice
	err := r.store.View(ctx, func(tx Tx) error {
		var err error
		invoices, err = tx.ListInvoices(ctx, InvoiceFilter{PeriodKey: periodKey})
		return err
	})
	if err != nil {
		return SalesSummary{}, err
	}

	s := SalesSummary{
		PeriodKey: periodKey, Subtotal: decimal.Zero, Tax: decimal.Zero, Discount: decimal.Zero,
		Revenue: decimal.Zero, Cost: decimal.Zero, GrossProfit: decimal.Zero, Paid: decimal.Zero,
	}
	per := make(map[string]*SalesmanTotals)
	for _, inv := range invoices {
		revenue := inv.Subtotal.Add(inv.TaxAmount).Sub(inv.Discount)
		s.Invoices++
		s.Subtotal = s.Subtotal.Add(inv.Subtotal)
		s.Tax = s.Tax.Add(inv.TaxAmount)
		s.Discount = s.Discount.Add(inv.Discount)
		s.Revenue = s.Revenue.Add(revenue)
		s.Cost = s.Cost.Add(inv.TotalCost)
		s.GrossProfit = s.GrossProfit.Add(inv.GrossProfit)
		s.Paid = s.Paid.Add(inv.PaidAmount)

		t, ok := per[inv.SalesmanID]
		if !ok {
			t = &SalesmanTotals{SalesmanID: inv.SalesmanID, Revenue: decimal.Zero}
			per[inv.SalesmanID] = t
		}
		t.Invoices++
		t.Revenue = t.Revenue.Add(revenue)
	}
	for _, t := range per {
		s.BySalesman = append(s.BySalesman, *t)
	}
	sort.Slice(s.BySalesman, func(i, j int) bool { return s.BySalesman[i].SalesmanID < s.BySalesman[j].SalesmanID })
	return s, nil
}
