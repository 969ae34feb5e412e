package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/billing"
)

func TestRecordPayment_Partial(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice

	res, err := f.Engine.Payments.RecordPayment(f.Ctx, billing.PaymentRequest{
		InvoiceNumber: inv.Number,
		Amount:        d("500"),
		Method:        billing.MethodCheque,
		Reference:     "CHQ-991",
		Actor:         salesman,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.PaymentID)
	assert.Equal(t, f.Customer.ID, res.CustomerID)
	assert.Equal(t, billing.StatusPartial, res.InvoiceStatus)
	requireDec(t, "820", res.PendingBalance)
	requireDec(t, "500", res.InvoicePaid)
}

func TestRecordPayment_AgainstCustomerAccount(t *testing.T) {
	f := newFixture(t)
	f.CreateScenario()

	res, err := f.Engine.Payments.RecordPayment(f.Ctx, billing.PaymentRequest{
		CustomerID: f.Customer.ID,
		Amount:     d("20"),
		Actor:      salesman,
	})
	require.NoError(t, err)

	requireDec(t, "1300", res.PendingBalance)
	assert.Empty(t, res.InvoiceStatus)
	entries := f.Entries(f.Customer.ID)
	assert.Empty(t, entries[len(entries)-1].InvoiceNumber)
	f.CheckInvariants()
}

func TestRecordPayment_Overpayment_ClampsToZero(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice

	res, err := f.Engine.Payments.RecordPayment(f.Ctx, billing.PaymentRequest{
		InvoiceNumber: inv.Number, Amount: d("2000"), Actor: salesman,
	})
	require.NoError(t, err)

	requireDec(t, "0", res.PendingBalance)
	assert.Equal(t, billing.StatusPaid, res.InvoiceStatus)

	// The clamped cache shows 0, but the next balance is replayed from the
	// ledger, so the 680 credit still reduces it.
	next := f.CreateScenario()
	requireDec(t, "640", next.PendingBalance)
	f.CheckInvariants()
}

func TestRecordPayment_Rejects(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice
	other := f.AddCustomer("Bolt Hardware", "7 Dock Street")

	cases := []struct {
		name string
		req  billing.PaymentRequest
		want error
	}{
		{"zero amount", billing.PaymentRequest{InvoiceNumber: inv.Number, Amount: d("0"), Actor: salesman}, billing.ErrValidation},
		{"negative amount", billing.PaymentRequest{InvoiceNumber: inv.Number, Amount: d("-5"), Actor: salesman}, billing.ErrValidation},
		{"no target", billing.PaymentRequest{Amount: d("5"), Actor: salesman}, billing.ErrValidation},
		{"bad method", billing.PaymentRequest{InvoiceNumber: inv.Number, Amount: d("5"), Method: "barter", Actor: salesman}, billing.ErrValidation},
		{"customer mismatch", billing.PaymentRequest{InvoiceNumber: inv.Number, CustomerID: other.ID, Amount: d("5"), Actor: salesman}, billing.ErrValidation},
		{"unknown invoice", billing.PaymentRequest{InvoiceNumber: "INV-202610-0999", Amount: d("5"), Actor: salesman}, billing.ErrNotFound},
		{"unknown customer", billing.PaymentRequest{CustomerID: 999, Amount: d("5"), Actor: salesman}, billing.ErrNotFound},
		{"no permission", billing.PaymentRequest{InvoiceNumber: inv.Number, Amount: d("5"), Actor: billing.Actor{ID: "x"}}, billing.ErrPermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Engine.Payments.RecordPayment(f.Ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	requireDec(t, "1320", f.Pending(f.Customer.ID))
	f.CheckInvariants()
}

func TestSetReceived_BooksTheDifference(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice

	// GIVEN: 1000 received
	res, err := f.Engine.Payments.SetReceived(f.Ctx, inv.Number, d("1000"), billing.PaymentRequest{Actor: salesman})
	require.NoError(t, err)
	requireDec(t, "1000", res.Amount)
	requireDec(t, "320", res.PendingBalance)

	// WHEN: corrected down to 800
	res, err = f.Engine.Payments.SetReceived(f.Ctx, inv.Number, d("800"), billing.PaymentRequest{Actor: salesman})
	require.NoError(t, err)

	// THEN: a negative payment of 200 is booked
	requireDec(t, "-200", res.Amount)
	requireDec(t, "520", res.PendingBalance)
	requireDec(t, "800", res.InvoicePaid)
	assert.Equal(t, billing.StatusPartial, res.InvoiceStatus)

	entries := f.Entries(f.Customer.ID)
	last := entries[len(entries)-1]
	assert.Equal(t, billing.EntryPayment, last.Type)
	requireDec(t, "-200", last.Credit)
	f.CheckInvariants()
}

func TestSetReceived_NoChange_IsNoop(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice
	before := len(f.Entries(f.Customer.ID))

	res, err := f.Engine.Payments.SetReceived(f.Ctx, inv.Number, d("0"), billing.PaymentRequest{Actor: salesman})
	require.NoError(t, err)

	assert.Empty(t, res.PaymentID)
	requireDec(t, "1320", res.PendingBalance)
	assert.Len(t, f.Entries(f.Customer.ID), before)
}

func TestSetReceived_NegativeTarget_Rejected(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice

	_, err := f.Engine.Payments.SetReceived(f.Ctx, inv.Number, d("-1"), billing.PaymentRequest{Actor: salesman})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestCreate_WithUpfrontPayment(t *testing.T) {
	f := newFixture(t)

	res, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID:    f.Customer.ID,
		Salesman:      salesman,
		Items:         scenarioItems(),
		TaxRate:       p("10"),
		PaidAmount:    d("320"),
		PaymentMethod: billing.MethodCard,
	})
	require.NoError(t, err)

	assert.Equal(t, billing.StatusPartial, res.Invoice.Status)
	requireDec(t, "1000", res.PendingBalance)
	entries := f.Entries(f.Customer.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, billing.EntryInvoice, entries[0].Type)
	assert.Equal(t, billing.EntryPayment, entries[1].Type)
	requireDec(t, "320", entries[1].Credit)
	f.CheckInvariants()
}

func TestCreate_PendingAddedIsBilled(t *testing.T) {
	f := newFixture(t)

	res, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID:   f.Customer.ID,
		Salesman:     salesman,
		Items:        []billing.ItemInput{{Product: "ProductB", Qty: d("1")}},
		PendingAdded: d("75.50"),
		Discount:     d("25"),
	})
	require.NoError(t, err)

	requireDec(t, "250.5", res.Invoice.Total)
	requireDec(t, "250.5", res.PendingBalance)
}
