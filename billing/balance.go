package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceTracker keeps Customer.PendingBalance equal to a ledger replay.
type BalanceTracker struct {
	ledger *TransactionLedger
}

func NewBalanceTracker(ledger *TransactionLedger) *BalanceTracker {
	return &BalanceTracker{ledger: ledger}
}

// Recompute replays the ledger and overwrites the cached balance.
func (b *BalanceTracker) Recompute(ctx context.Context, tx Tx, id CustomerID) (decimal.Decimal, error) {
	c, err := tx.GetCustomer(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	entries, err := b.ledger.Entries(ctx, tx, id)
	if err != nil {
		return decimal.Zero, err
	}
	pending := ReplayEntries(entries).Pending
	if err := tx.UpdateCustomerBalance(ctx, id, pending, c.TotalSales); err != nil {
		return decimal.Zero, err
	}
	return pending, nil
}

// ApplyDelta appends e and writes the replayed balance to the cache.
// salesDelta moves the informational TotalSales figure.
func (b *BalanceTracker) ApplyDelta(ctx context.Context, tx Tx, e LedgerEntry, salesDelta decimal.Decimal) (LedgerEntry, error) {
	c, err := tx.GetCustomer(ctx, e.CustomerID)
	if err != nil {
		return LedgerEntry{}, err
	}
	stored, err := b.ledger.Append(ctx, tx, e)
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := tx.UpdateCustomerBalance(ctx, c.ID, stored.ResultingBalance, c.TotalSales.Add(salesDelta)); err != nil {
		return LedgerEntry{}, err
	}
	return stored, nil
}

// BalanceCheck compares the cache with a replay.
type BalanceCheck struct {
	CustomerID CustomerID
	Name       string
	Cached     decimal.Decimal
	Replay     Replay
}

func (c BalanceCheck) Consistent() bool {
	return c.Cached.Equal(c.Replay.Pending)
}

// Verify is read-only.
func (b *BalanceTracker) Verify(ctx context.Context, tx Tx, id CustomerID) (BalanceCheck, error) {
	c, err := tx.GetCustomer(ctx, id)
	if err != nil {
		return BalanceCheck{}, err
	}
	entries, err := b.ledger.Entries(ctx, tx, id)
	if err != nil {
		return BalanceCheck{}, err
	}
	return BalanceCheck{
		CustomerID: c.ID,
		Name:       c.Name,
		Cached:     c.PendingBalance,
		Replay:     ReplayEntries(entries),
	}, nil
}
