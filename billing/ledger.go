/*
ledger.go - Append-only customer ledger and its replay

PURPOSE:
  The ledger is the source of truth for what every customer owes. The cached
  Customer.PendingBalance is only a read optimisation that is overwritten from
  a replay after every append.

ENTRY SEMANTICS:
  invoice     debit  = invoice total
  payment     credit = amount received (negative for a correction)
  adjustment  debit or credit = net change from an edit, credit on delete

  raw     = sum(debit) - sum(credit)
  pending = max(0, raw)

The raw sum is kept so an overpayment is absorbed by the clamp on the
reported value without being lost from the history.
*/
package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Replay is the result of folding a customer's entries.
type Replay struct {
	Entries int
	Debits  decimal.Decimal
	Credits decimal.Decimal
	Raw     decimal.Decimal
	Pending decimal.Decimal
}

// ReplayEntries folds entries in order. It never consults cached values.
func ReplayEntries(entries []LedgerEntry) Replay {
	r := Replay{Debits: decimal.Zero, Credits: decimal.Zero}
	for _, e := range entries {
		r.Debits = r.Debits.Add(e.Debit)
		r.Credits = r.Credits.Add(e.Credit)
	}
	r.Entries = len(entries)
	r.Raw = r.Debits.Sub(r.Credits)
	r.Pending = clampZero(r.Raw)
	return r
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// StatementLine is an entry with the running balances after it.
type StatementLine struct {
	LedgerEntry
	RunningRaw     decimal.Decimal
	RunningPending decimal.Decimal
}

// Statement walks entries and reports the running balance after each one.
func Statement(entries []LedgerEntry) []StatementLine {
	out := make([]StatementLine, 0, len(entries))
	raw := decimal.Zero
	for _, e := range entries {
		raw = raw.Add(e.Net())
		out = append(out, StatementLine{LedgerEntry: e, RunningRaw: raw, RunningPending: clampZero(raw)})
	}
	return out
}

// TransactionLedger appends and reads ledger entries.
type TransactionLedger struct {
	policy Policy
}

func NewTransactionLedger(policy Policy) *TransactionLedger {
	return &TransactionLedger{policy: policy}
}

// Append stores e after computing its ResultingBalance from a replay of the
// customer's history. The stored entry is returned.
func (l *TransactionLedger) Append(ctx context.Context, tx Tx, e LedgerEntry) (LedgerEntry, error) {
	if e.CustomerID == 0 {
		return LedgerEntry{}, invalid("customer_id", "ledger entry needs a customer")
	}
	switch e.Type {
	case EntryInvoice, EntryPayment, EntryAdjustment:
	default:
		return LedgerEntry{}, invalid("type", "unknown ledger entry type %q", e.Type)
	}

	history, err := tx.LedgerEntries(ctx, e.CustomerID)
	if err != nil {
		return LedgerEntry{}, err
	}
	raw := ReplayEntries(history).Raw.Add(e.Net())

	now := l.policy.now()
	if e.Date.IsZero() {
		e.Date = now
	}
	e.CreatedAt = now
	e.ResultingBalance = clampZero(raw)
	if err := tx.AppendLedgerEntry(ctx, &e); err != nil {
		return LedgerEntry{}, err
	}
	return e, nil
}

// Entries returns a customer's history in append order.
func (l *TransactionLedger) Entries(ctx context.Context, tx Tx, id CustomerID) ([]LedgerEntry, error) {
	return tx.LedgerEntries(ctx, id)
}

// signedEntry turns a signed amount into a debit or a credit.
func signedEntry(e LedgerEntry, amount decimal.Decimal) LedgerEntry {
	if amount.IsNegative() {
		e.Debit = decimal.Zero
		e.Credit = amount.Neg()
	} else {
		e.Debit = amount
		e.Credit = decimal.Zero
	}
	return e
}
