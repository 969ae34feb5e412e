package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/billing"
)

// =============================================================================
// CREATE VALIDATION
// =============================================================================

func TestCreate_RejectsMalformedItems(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name  string
		items []billing.ItemInput
		field string
	}{
		{"no items", nil, "items"},
		{"duplicate product", []billing.ItemInput{
			{Product: "ProductA", Qty: d("1")},
			{Product: " ProductA ", Qty: d("1")},
		}, "items[1].product"},
		{"zero qty", []billing.ItemInput{{Product: "ProductA", Qty: d("0")}}, "items[0].qty"},
		{"negative price", []billing.ItemInput{{Product: "ProductA", Qty: d("1"), UnitPrice: p("-1")}}, "items[0].unit_price"},
		{"unknown product", []billing.ItemInput{{Product: "Ghost", Qty: d("1")}}, "items[0].product"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
				CustomerID: f.Customer.ID,
				Salesman:   salesman,
				Items:      tc.items,
			})
			var ve *billing.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
	f.CheckInvariants()
	requireDec(t, "10", f.Stock("ProductA"))
}

func TestCreate_UnknownCustomer_IsValidationError(t *testing.T) {
	f := newFixture(t)

	_, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: 999,
		Salesman:   salesman,
		Items:      scenarioItems(),
	})

	assert.ErrorIs(t, err, billing.ErrValidation)
	requireDec(t, "10", f.Stock("ProductA"))
}

func TestCreate_MissingPrice_FilledFromCatalog(t *testing.T) {
	f := newFixture(t)

	res, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID,
		Salesman:   salesman,
		Items:      []billing.ItemInput{{Product: "ProductB", Qty: d("2")}},
	})
	require.NoError(t, err)

	requireDec(t, "200", res.Invoice.Items[0].UnitPrice)
	requireDec(t, "120", res.Invoice.Items[0].UnitCost)
	requireDec(t, "400", res.Invoice.Total)
	requireDec(t, "160", res.Invoice.GrossProfit)
}

func TestCreate_DefaultTaxRateFromPolicy(t *testing.T) {
	f := newFixture(t, func(p *billing.Policy) { p.DefaultTaxRate = d("5") })

	res, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID,
		Salesman:   salesman,
		Items:      []billing.ItemInput{{Product: "ProductA", Qty: d("1")}},
	})
	require.NoError(t, err)
	requireDec(t, "25", res.Invoice.TaxAmount)
}

func TestCreate_RequiresPermission(t *testing.T) {
	f := newFixture(t)
	viewer := billing.Actor{ID: "viewer"}

	_, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID,
		Salesman:   viewer,
		Items:      scenarioItems(),
	})
	assert.ErrorIs(t, err, billing.ErrPermissionDenied)
}

// =============================================================================
// PRICE POLICY
// =============================================================================

func belowCost() []billing.ItemInput {
	return []billing.ItemInput{{Product: "ProductA", Qty: d("1"), UnitPrice: p("250")}}
}

func TestPricing_BelowCost_WarnsByDefault(t *testing.T) {
	f := newFixture(t)

	res, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID, Salesman: salesman, Items: belowCost(),
	})
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "ProductA", res.Warnings[0].Product)
	requireDec(t, "300", res.Warnings[0].CostPrice)
	requireDec(t, "-50", res.Invoice.GrossProfit)
}

func TestPricing_BelowCost_BlockedWhenStrict(t *testing.T) {
	f := newFixture(t, func(p *billing.Policy) { p.StrictPricing = true })

	_, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID, Salesman: salesman, Items: belowCost(),
	})

	var ve *billing.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "items[0].unit_price", ve.Field)
	requireDec(t, "10", f.Stock("ProductA"))
}

func TestPricing_BelowCost_StrictButOverridden(t *testing.T) {
	f := newFixture(t, func(p *billing.Policy) { p.StrictPricing = true })

	res, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID, Salesman: admin, Items: belowCost(),
	})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)
}

// =============================================================================
// EDIT WINDOW AND OWNERSHIP
// =============================================================================

func TestEdit_AfterWindow_Expired(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice
	f.Clock.Advance(25 * time.Hour)

	_, err := f.Engine.Invoices.Edit(f.Ctx, inv.Number, billing.EditInvoiceRequest{
		Actor: salesman,
		Items: []billing.ItemInput{{Product: "ProductA", Qty: d("1")}},
	})

	require.ErrorIs(t, err, billing.ErrEditWindowExpired)
	var we *billing.EditWindowError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, inv.EditableUntil, we.EditableUntil)
	requireDec(t, "8", f.Stock("ProductA"))
}

func TestEdit_AfterWindow_AdminBypasses(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice
	f.Clock.Advance(48 * time.Hour)

	res, err := f.Engine.Invoices.Edit(f.Ctx, inv.Number, billing.EditInvoiceRequest{
		Actor: admin,
		Items: []billing.ItemInput{{Product: "ProductA", Qty: d("1")}},
	})
	require.NoError(t, err)
	requireDec(t, "550", res.Invoice.Total)
	requireDec(t, "9", f.Stock("ProductA"))
	requireDec(t, "5", f.Stock("ProductB"))
}

func TestEdit_AfterWindow_AllowedWhenNotEnforced(t *testing.T) {
	f := newFixture(t, func(p *billing.Policy) { p.EnforceEditWindow = false })
	inv := f.CreateScenario().Invoice
	f.Clock.Advance(72 * time.Hour)

	_, err := f.Engine.Invoices.Edit(f.Ctx, inv.Number, billing.EditInvoiceRequest{
		Actor: salesman, Items: scenarioItems(),
	})
	assert.NoError(t, err)
}

func TestEdit_OtherSalesman_Denied(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice
	bob := billing.Actor{ID: "bob", Permissions: billing.RoleSalesman}

	_, err := f.Engine.Invoices.Edit(f.Ctx, inv.Number, billing.EditInvoiceRequest{
		Actor: bob, Items: scenarioItems(),
	})
	assert.ErrorIs(t, err, billing.ErrPermissionDenied)
}

func TestEdit_UnknownInvoice_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.Engine.Invoices.Edit(f.Ctx, "INV-209901-0100", billing.EditInvoiceRequest{
		Actor: admin, Items: scenarioItems(),
	})
	assert.True(t, billing.IsNotFound(err))
}

func TestEdit_KeepsPaymentsAndRederivesStatus(t *testing.T) {
	f := newFixture(t)
	res, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID,
		Salesman:   salesman,
		Items:      []billing.ItemInput{{Product: "ProductA", Qty: d("2")}},
		PaidAmount: d("1000"),
	})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, res.Invoice.Status)
	requireDec(t, "0", res.PendingBalance)

	// WHEN: the bill grows by one unit
	edited, err := f.Engine.Invoices.Edit(f.Ctx, res.Invoice.Number, billing.EditInvoiceRequest{
		Actor: salesman,
		Items: []billing.ItemInput{{Product: "ProductA", Qty: d("3")}},
	})
	require.NoError(t, err)

	// THEN: the earlier payment still counts and status drops to partial
	assert.Equal(t, billing.StatusPartial, edited.Invoice.Status)
	requireDec(t, "1000", edited.Invoice.PaidAmount)
	requireDec(t, "500", edited.PendingBalance)
	f.CheckInvariants()
}

// =============================================================================
// DELETE, LIST, LOW STOCK
// =============================================================================

func TestDelete_SalesmanWithoutPermission_Denied(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice

	_, err := f.Engine.Invoices.Delete(f.Ctx, inv.Number, salesman)

	assert.ErrorIs(t, err, billing.ErrPermissionDenied)
	requireDec(t, "8", f.Stock("ProductA"))
}

func TestDelete_PaidInvoice_PaymentsStayOnAccount(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice
	_, err := f.Engine.Payments.RecordPayment(f.Ctx, billing.PaymentRequest{
		InvoiceNumber: inv.Number, Amount: d("320"), Actor: salesman,
	})
	require.NoError(t, err)

	_, err = f.Engine.Invoices.Delete(f.Ctx, inv.Number, admin)
	require.NoError(t, err)

	// The 320 already received is now a credit absorbed by the clamp.
	requireDec(t, "0", f.Pending(f.Customer.ID))
	check, err := f.Engine.Auditor.Verify(f.Ctx, f.Customer.ID)
	require.NoError(t, err)
	requireDec(t, "-320", check.Replay.Raw)
	assert.True(t, check.Consistent())
	f.CheckInvariants()
}

func TestDelete_Unknown_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.Engine.Invoices.Delete(f.Ctx, "INV-202610-0999", admin)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestCreate_ReportsLowStock(t *testing.T) {
	f := newFixture(t)

	res, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID,
		Salesman:   salesman,
		Items: []billing.ItemInput{
			{Product: "ProductA", Qty: d("8")},
			{Product: "ProductB", Qty: d("1")},
		},
	})
	require.NoError(t, err)

	require.Len(t, res.LowStock, 1)
	assert.Equal(t, "ProductA", res.LowStock[0].Product)
	requireDec(t, "2", res.LowStock[0].NewStock)
}

func TestList_FiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	other := f.AddCustomer("Bolt Hardware", "7 Dock Street")
	bob := billing.Actor{ID: "bob", Permissions: billing.RoleSalesman}

	first := f.CreateScenario().Invoice
	_, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: other.ID,
		Salesman:   bob,
		Date:       time.Date(2026, time.September, 30, 0, 0, 0, 0, time.UTC),
		Items:      []billing.ItemInput{{Product: "ProductB", Qty: d("1")}},
	})
	require.NoError(t, err)

	all, err := f.Engine.Invoices.List(f.Ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.Number, all[0].Number, "newest first")
	assert.Equal(t, billing.InvoiceNumber("INV-202609-0100"), all[1].Number)

	bobs, err := f.Engine.Invoices.List(f.Ctx, billing.InvoiceFilter{SalesmanID: "bob"})
	require.NoError(t, err)
	require.Len(t, bobs, 1)

	october, err := f.Engine.Invoices.List(f.Ctx, billing.InvoiceFilter{PeriodKey: "202610"})
	require.NoError(t, err)
	require.Len(t, october, 1)
	assert.Equal(t, first.Number, october[0].Number)
}
