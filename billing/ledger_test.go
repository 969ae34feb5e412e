package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/ledger-engine/billing"
)

func TestReplayEntries_ClampsOnlyTheReportedBalance(t *testing.T) {
	entries := []billing.LedgerEntry{
		{Type: billing.EntryInvoice, Debit: d("100"), Credit: d("0")},
		{Type: billing.EntryPayment, Debit: d("0"), Credit: d("150")},
	}

	r := billing.ReplayEntries(entries)

	requireDec(t, "100", r.Debits)
	requireDec(t, "150", r.Credits)
	requireDec(t, "-50", r.Raw, "overpayment stays in the raw sum")
	requireDec(t, "0", r.Pending)
	assert.Equal(t, 2, r.Entries)
}

func TestReplayEntries_NegativePaymentIsACorrection(t *testing.T) {
	entries := []billing.LedgerEntry{
		{Type: billing.EntryInvoice, Debit: d("300"), Credit: d("0")},
		{Type: billing.EntryPayment, Debit: d("0"), Credit: d("300")},
		{Type: billing.EntryPayment, Debit: d("0"), Credit: d("-100")},
	}

	requireDec(t, "100", billing.ReplayEntries(entries).Pending)
}

func TestReplayEntries_Empty(t *testing.T) {
	r := billing.ReplayEntries(nil)
	requireDec(t, "0", r.Raw)
	requireDec(t, "0", r.Pending)
}

func TestStatement_RunningBalances(t *testing.T) {
	lines := billing.Statement([]billing.LedgerEntry{
		{Debit: d("500"), Credit: d("0")},
		{Debit: d("0"), Credit: d("700")},
		{Debit: d("300"), Credit: d("0")},
	})

	requireDec(t, "500", lines[0].RunningPending)
	requireDec(t, "-200", lines[1].RunningRaw)
	requireDec(t, "0", lines[1].RunningPending)
	requireDec(t, "100", lines[2].RunningPending)
}

func TestPermissions(t *testing.T) {
	assert.True(t, billing.RoleAdmin.Has(billing.PermOverridePrice|billing.PermManageCatalog))
	assert.False(t, billing.RoleSalesman.Has(billing.PermDeleteInvoice))
	assert.Equal(t, billing.RoleAdmin, billing.RoleByName(" Admin "))
	assert.Equal(t, billing.Permission(0), billing.RoleByName("guest"))
	assert.Equal(t, "create_invoice|record_payment", billing.RoleSalesman.String())

	err := salesman.Require(billing.PermDeleteInvoice)
	assert.ErrorIs(t, err, billing.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "delete_invoice")
}
