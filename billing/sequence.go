package billing

import (
	"context"
	"time"
)

// SequenceGenerator issues invoice numbers scoped by (prefix, period).
//
// The counter is advanced inside the caller's transaction, so a rolled back
// invoice never consumes a number and two concurrent creates never share one.
type SequenceGenerator struct {
	policy Policy
}

func NewSequenceGenerator(policy Policy) *SequenceGenerator {
	return &SequenceGenerator{policy: policy}
}

// Next returns the next value for (prefix, periodKey). The first value for a
// new key is the configured base.
func (g *SequenceGenerator) Next(ctx context.Context, tx Tx, prefix, periodKey string) (int64, error) {
	if periodKey == "" {
		return 0, invalid("period", "period key is required")
	}
	return tx.NextSequence(ctx, prefix, periodKey, g.policy.SequenceBase)
}

// NextInvoiceNumber allocates the number for an invoice dated d.
func (g *SequenceGenerator) NextInvoiceNumber(ctx context.Context, tx Tx, d time.Time) (InvoiceNumber, string, error) {
	period := g.policy.PeriodKey(d)
	n, err := g.Next(ctx, tx, g.policy.InvoicePrefix, period)
	if err != nil {
		return "", "", err
	}
	return g.policy.FormatNumber(period, n), period, nil
}
