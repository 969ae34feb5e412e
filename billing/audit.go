package billing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AuditReport is the result of a read-only consistency sweep.
type AuditReport struct {
	CheckedAt      time.Time
	Customers      int
	Drift          []BalanceCheck
	MissingEntries []InvoiceNumber // invoices with no invoice-type ledger entry
	NegativeStock  []string
}

func (r AuditReport) OK() bool {
	return len(r.Drift) == 0 && len(r.MissingEntries) == 0 && len(r.NegativeStock) == 0
}

// Auditor replays ledgers and compares them with the cached state. It never
// writes.
type Auditor struct {
	store    Store
	policy   Policy
	balances *BalanceTracker
	log      *zap.Logger
}

func NewAuditor(store Store, policy Policy, balances *BalanceTracker, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{store: store, policy: policy, balances: balances, log: log}
}

// Verify checks one customer.
func (a *Auditor) Verify(ctx context.Context, id CustomerID) (BalanceCheck, error) {
	var check BalanceCheck
	err := a.store.View(ctx, func(tx Tx) error {
		var err error
		check, err = a.balances.Verify(ctx, tx, id)
		return err
	})
	return check, err
}

// VerifyAll checks every customer, every invoice and every product.
func (a *Auditor) VerifyAll(ctx context.Context) (AuditReport, error) {
	report := AuditReport{CheckedAt: a.policy.now()}
	err := a.store.View(ctx, func(tx Tx) error {
		customers, err := tx.ListCustomers(ctx)
		if err != nil {
			return err
		}
		report.Customers = len(customers)
		for _, c := range customers {
			check, err := a.balances.Verify(ctx, tx, c.ID)
			if err != nil {
				return err
			}
			if !check.Consistent() {
				report.Drift = append(report.Drift, check)
			}

			entries, err := tx.LedgerEntries(ctx, c.ID)
			if err != nil {
				return err
			}
			booked := make(map[InvoiceNumber]bool)
			for _, e := range entries {
				if e.Type == EntryInvoice {
					booked[e.InvoiceNumber] = true
				}
			}
			invoices, err := tx.ListInvoices(ctx, InvoiceFilter{CustomerID: c.ID})
			if err != nil {
				return err
			}
			for _, inv := range invoices {
				if !booked[inv.Number] {
					report.MissingEntries = append(report.MissingEntries, inv.Number)
				}
			}
		}

		products, err := tx.ListProducts(ctx, false)
		if err != nil {
			return err
		}
		for _, p := range products {
			if p.StockQuantity.IsNegative() {
				report.NegativeStock = append(report.NegativeStock, p.Name)
			}
		}
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}

	if report.OK() {
		a.log.Info("ledger audit clean", zap.Int("customers", report.Customers))
	} else {
		a.log.Warn("ledger audit found inconsistencies",
			zap.Int("customers", report.Customers),
			zap.Int("drift", len(report.Drift)),
			zap.Int("missing_entries", len(report.MissingEntries)),
			zap.Strings("negative_stock", report.NegativeStock))
	}
	return report, nil
}
