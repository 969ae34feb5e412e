package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/billing"
)

func TestUpsertProduct_UpdateKeepsStock(t *testing.T) {
	f := newFixture(t)

	p, created, err := f.Engine.Catalog.UpsertProduct(f.Ctx, admin, billing.ProductInput{
		Name:              "ProductA",
		SellingPrice:      d("550"),
		CostPrice:         d("320"),
		MinStockThreshold: d("3"),
		InitialStock:      d("999"),
	})
	require.NoError(t, err)

	assert.False(t, created)
	requireDec(t, "550", p.SellingPrice)
	requireDec(t, "10", f.Stock("ProductA"), "stock only moves through the stock ledger")
}

func TestUpsertProduct_RequiresCatalogPermission(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.Engine.Catalog.UpsertProduct(f.Ctx, salesman, billing.ProductInput{Name: "X"})
	assert.ErrorIs(t, err, billing.ErrPermissionDenied)
}

func TestRestockAndAdjust_RecordMovements(t *testing.T) {
	f := newFixture(t)

	r, err := f.Engine.Catalog.Restock(f.Ctx, admin, "ProductB", d("7"), "PO-17")
	require.NoError(t, err)
	requireDec(t, "12", r.NewStock)
	assert.False(t, r.LowStock)

	r, err = f.Engine.Catalog.AdjustStock(f.Ctx, admin, "ProductB", d("-11"), "stock count")
	require.NoError(t, err)
	requireDec(t, "1", r.NewStock)
	assert.True(t, r.LowStock)

	_, err = f.Engine.Catalog.AdjustStock(f.Ctx, admin, "ProductB", d("-2"), "breakage")
	assert.ErrorIs(t, err, billing.ErrInsufficientStock)

	moves, err := f.Engine.Catalog.StockMovements(f.Ctx, "ProductB")
	require.NoError(t, err)
	require.Len(t, moves, 3) // initial stock, restock, adjustment
	assert.Equal(t, billing.MovementRestock, moves[1].Type)
	assert.Equal(t, "PO-17", moves[1].Reference)
	assert.Equal(t, billing.MovementAdjustment, moves[2].Type)
	requireDec(t, "1", moves[2].Resulting)
}

func TestRestock_Rejects(t *testing.T) {
	f := newFixture(t)

	_, err := f.Engine.Catalog.Restock(f.Ctx, admin, "ProductA", d("0"), "")
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = f.Engine.Catalog.Restock(f.Ctx, admin, "Ghost", d("1"), "")
	assert.ErrorIs(t, err, billing.ErrNotFound)

	_, err = f.Engine.Catalog.AdjustStock(f.Ctx, admin, "ProductA", d("1"), " ")
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestListProducts_LowStockOnly(t *testing.T) {
	f := newFixture(t)
	f.AddProduct("ProductC", "10", "5", "1", "3")

	low, err := f.Engine.Catalog.ListProducts(f.Ctx, true)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "ProductC", low[0].Name)

	all, err := f.Engine.Catalog.ListProducts(f.Ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCreateCustomer_DuplicateNameAndAddress(t *testing.T) {
	f := newFixture(t)

	_, err := f.Engine.Catalog.CreateCustomer(f.Ctx, billing.CustomerInput{Name: "Acme Traders", Address: "12 Market Road"})
	assert.ErrorIs(t, err, billing.ErrDuplicate)

	// Same name elsewhere is a different customer.
	c, err := f.Engine.Catalog.CreateCustomer(f.Ctx, billing.CustomerInput{Name: "Acme Traders", Address: "Harbour Branch"})
	require.NoError(t, err)
	assert.NotEqual(t, f.Customer.ID, c.ID)

	_, err = f.Engine.Catalog.CreateCustomer(f.Ctx, billing.CustomerInput{Name: " "})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestCustomerStatement(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice
	_, err := f.Engine.Payments.RecordPayment(f.Ctx, billing.PaymentRequest{InvoiceNumber: inv.Number, Amount: d("1000"), Actor: salesman})
	require.NoError(t, err)

	lines, err := f.Engine.Catalog.CustomerStatement(f.Ctx, f.Customer.ID)
	require.NoError(t, err)

	require.Len(t, lines, 2)
	requireDec(t, "1320", lines[0].RunningPending)
	requireDec(t, "320", lines[1].RunningPending)
	assert.Contains(t, lines[1].Description, string(inv.Number))

	_, err = f.Engine.Catalog.CustomerStatement(f.Ctx, 999)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestAuditor_CleanAfterOperations(t *testing.T) {
	f := newFixture(t)
	inv := f.CreateScenario().Invoice
	_, err := f.Engine.Payments.RecordPayment(f.Ctx, billing.PaymentRequest{InvoiceNumber: inv.Number, Amount: d("100"), Actor: salesman})
	require.NoError(t, err)

	report, err := f.Engine.Auditor.VerifyAll(f.Ctx)
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Customers)
}

func TestAuditor_DetectsDrift(t *testing.T) {
	f := newFixture(t)
	f.CreateScenario()

	// Corrupt the cache behind the engine's back.
	require.NoError(t, f.Store.WithTx(f.Ctx, func(tx billing.Tx) error {
		return tx.UpdateCustomerBalance(f.Ctx, f.Customer.ID, d("5"), d("0"))
	}))

	report, err := f.Engine.Auditor.VerifyAll(f.Ctx)
	require.NoError(t, err)

	require.Len(t, report.Drift, 1)
	requireDec(t, "5", report.Drift[0].Cached)
	requireDec(t, "1320", report.Drift[0].Replay.Pending)

	// Recompute repairs it from the ledger.
	require.NoError(t, f.Store.WithTx(f.Ctx, func(tx billing.Tx) error {
		_, err := f.Engine.Balances.Recompute(f.Ctx, tx, f.Customer.ID)
		return err
	}))
	requireDec(t, "1320", f.Pending(f.Customer.ID))
}

func TestSalesSummary(t *testing.T) {
	f := newFixture(t)
	f.CreateScenario()
	_, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID:   f.Customer.ID,
		Salesman:     admin,
		Items:        []billing.ItemInput{{Product: "ProductB", Qty: d("2")}},
		Discount:     d("40"),
		PendingAdded: d("100"),
		PaidAmount:   d("50"),
	})
	require.NoError(t, err)

	s, err := f.Engine.Reports.SalesSummary(f.Ctx, "202610")
	require.NoError(t, err)

	assert.Equal(t, 2, s.Invoices)
	requireDec(t, "1600", s.Subtotal)
	requireDec(t, "120", s.Tax)
	requireDec(t, "1680", s.Revenue) // carried balances are not revenue
	requireDec(t, "960", s.Cost)
	requireDec(t, "600", s.GrossProfit)
	requireDec(t, "50", s.Paid)
	require.Len(t, s.BySalesman, 2)
	assert.Equal(t, "admin", s.BySalesman[0].SalesmanID)
	requireDec(t, "360", s.BySalesman[0].Revenue)

	_, err = f.Engine.Reports.SalesSummary(f.Ctx, "")
	assert.ErrorIs(t, err, billing.ErrValidation)
}
