package billingtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/ledger-engine/billing"
)

// RunStoreSuite runs the engine scenarios against stores built by newStore.
// Each subtest gets a fresh, empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) billing.Store) {
	cases := []struct {
		name string
		run  func(t *testing.T, f *Fixture)
	}{
		{"CreateInvoice_Scenario", testCreateScenario},
		{"DeleteInvoice_RestoresStockAndBalance", testDeleteRestores},
		{"RecordPayment_SettlesInvoice", testPaymentSettles},
		{"CreateInvoice_InsufficientStock_LeavesNoTrace", testInsufficientStock},
		{"CreateInvoice_LaterLineShort_RollsBackEarlierLines", testRollbackEarlierLines},
		{"EditInvoice_SameItems_IsNetZero", testEditSameItems},
		{"EditInvoice_NetDelta_SingleAdjustment", testEditNetDelta},
		{"EditInvoice_InsufficientStock_LeavesInvoiceUnchanged", testEditInsufficient},
		{"InvoiceNumbers_NeverReused", testNumbersNeverReused},
		{"CancelledContext_WritesNothing", testCancelledContext},
		{"ConcurrentCreates_DistinctNumbers", testConcurrentNumbers},
		{"ConcurrentCreates_NeverOversell", testConcurrentOversell},
		{"RandomOperations_KeepInvariants", testRandomOperations},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, NewFixture(t, newStore(t)))
		})
	}
}

func testCreateScenario(t *testing.T, f *Fixture) {
	// GIVEN: a customer with nothing pending
	RequireDecimal(t, "0", f.Pending(f.Customer.ID))

	// WHEN: billing 2 x A @500 + 1 x B @200 at 10% tax
	res := f.CreateScenario()

	// THEN: totals, stock, balance and ledger agree
	inv := res.Invoice
	assert.Equal(t, billing.InvoiceNumber("INV-202610-0100"), inv.Number)
	RequireDecimal(t, "1200", inv.Subtotal)
	RequireDecimal(t, "120", inv.TaxAmount)
	RequireDecimal(t, "1320", inv.Total)
	assert.Equal(t, billing.StatusPending, inv.Status)
	RequireDecimal(t, "8", f.Stock("ProductA"))
	RequireDecimal(t, "4", f.Stock("ProductB"))
	RequireDecimal(t, "1320", res.PendingBalance)
	RequireDecimal(t, "1320", f.Pending(f.Customer.ID))

	entries := f.Entries(f.Customer.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, billing.EntryInvoice, entries[0].Type)
	assert.Equal(t, inv.Number, entries[0].InvoiceNumber)
	RequireDecimal(t, "1320", entries[0].Debit)
	RequireDecimal(t, "1320", entries[0].ResultingBalance)

	view, err := f.Engine.Invoices.Get(f.Ctx, inv.Number)
	require.NoError(t, err)
	assert.Equal(t, "Acme Traders", view.CustomerName)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "ProductA", view.Items[0].Product)
	RequireDecimal(t, "1000", view.Items[0].LineTotal)
	f.CheckInvariants()
}

func testDeleteRestores(t *testing.T, f *Fixture) {
	// GIVEN: the scenario invoice
	inv := f.CreateScenario().Invoice

	// WHEN: it is deleted
	res, err := f.Engine.Invoices.Delete(f.Ctx, inv.Number, Admin)
	require.NoError(t, err)

	// THEN: stock and balance return to where they started
	RequireDecimal(t, "10", f.Stock("ProductA"))
	RequireDecimal(t, "5", f.Stock("ProductB"))
	RequireDecimal(t, "0", res.PendingBalance)
	RequireDecimal(t, "0", f.Pending(f.Customer.ID))

	_, err = f.Engine.Invoices.Get(f.Ctx, inv.Number)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	entries := f.Entries(f.Customer.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, billing.EntryAdjustment, entries[1].Type)
	RequireDecimal(t, "1320", entries[1].Credit)
	RequireDecimal(t, "0", billing.ReplayEntries(entries).Raw)
	f.CheckInvariants()
}

func testPaymentSettles(t *testing.T, f *Fixture) {
	inv := f.CreateScenario().Invoice

	res, err := f.Engine.Payments.RecordPayment(f.Ctx, billing.PaymentRequest{
		InvoiceNumber: inv.Number,
		Amount:        D("1320"),
		Method:        billing.MethodBank,
		Actor:         Salesman,
	})
	require.NoError(t, err)

	RequireDecimal(t, "0", res.PendingBalance)
	assert.Equal(t, billing.StatusPaid, res.InvoiceStatus)
	RequireDecimal(t, "0", f.Pending(f.Customer.ID))

	view, err := f.Engine.Invoices.Get(f.Ctx, inv.Number)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, view.Status)
	RequireDecimal(t, "1320", view.PaidAmount)

	entries := f.Entries(f.Customer.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, billing.EntryPayment, entries[1].Type)
	f.CheckInvariants()
}

func testInsufficientStock(t *testing.T, f *Fixture) {
	// WHEN: requesting 11 x ProductA with 10 in stock
	_, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID,
		Salesman:   Salesman,
		Items:      []billing.ItemInput{{Product: "ProductA", Qty: D("11")}},
	})

	// THEN: the error names the product and the shortfall
	require.ErrorIs(t, err, billing.ErrInsufficientStock)
	var se *billing.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ProductA", se.Product)
	RequireDecimal(t, "1", se.Shortfall)

	// AND: nothing was written
	RequireDecimal(t, "10", f.Stock("ProductA"))
	invoices, err := f.Engine.Invoices.List(f.Ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, invoices)
	assert.Empty(t, f.Entries(f.Customer.ID))

	// AND: no invoice number was consumed
	assert.Equal(t, billing.InvoiceNumber("INV-202610-0100"), f.CreateScenario().Invoice.Number)
}

func testRollbackEarlierLines(t *testing.T, f *Fixture) {
	_, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID,
		Salesman:   Salesman,
		Items: []billing.ItemInput{
			{Product: "ProductA", Qty: D("3")},
			{Product: "ProductB", Qty: D("6")},
		},
	})

	var se *billing.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ProductB", se.Product)
	RequireDecimal(t, "10", f.Stock("ProductA"))
	RequireDecimal(t, "5", f.Stock("ProductB"))
	f.CheckInvariants()
}

func testEditSameItems(t *testing.T, f *Fixture) {
	inv := f.CreateScenario().Invoice
	beforeA, beforeB := f.Stock("ProductA"), f.Stock("ProductB")
	beforePending := f.Pending(f.Customer.ID)

	res, err := f.Engine.Invoices.Edit(f.Ctx, inv.Number, billing.EditInvoiceRequest{
		Actor: Salesman,
		Items: ScenarioItems(),
	})
	require.NoError(t, err)

	assert.True(t, beforeA.Equal(f.Stock("ProductA")))
	assert.True(t, beforeB.Equal(f.Stock("ProductB")))
	assert.True(t, beforePending.Equal(f.Pending(f.Customer.ID)))
	RequireDecimal(t, "0", res.Delta)
	RequireDecimal(t, "1320", res.Invoice.Total)
	assert.Equal(t, inv.Number, res.Invoice.Number)
	f.CheckInvariants()
}

func testEditNetDelta(t *testing.T, f *Fixture) {
	inv := f.CreateScenario().Invoice

	// WHEN: the invoice becomes 3 x ProductA only
	res, err := f.Engine.Invoices.Edit(f.Ctx, inv.Number, billing.EditInvoiceRequest{
		Actor: Admin,
		Items: []billing.ItemInput{{Product: "ProductA", Qty: D("3")}},
	})
	require.NoError(t, err)

	// THEN: 1500 + 10% = 1650, delta +330, ProductB fully restored
	RequireDecimal(t, "1650", res.Invoice.Total)
	RequireDecimal(t, "330", res.Delta)
	RequireDecimal(t, "7", f.Stock("ProductA"))
	RequireDecimal(t, "5", f.Stock("ProductB"))
	RequireDecimal(t, "1650", f.Pending(f.Customer.ID))

	entries := f.Entries(f.Customer.ID)
	require.Len(t, entries, 2, "an edit writes exactly one adjustment")
	assert.Equal(t, billing.EntryAdjustment, entries[1].Type)
	RequireDecimal(t, "330", entries[1].Debit)
	RequireDecimal(t, "1650", entries[1].ResultingBalance)
	f.CheckInvariants()
}

func testEditInsufficient(t *testing.T, f *Fixture) {
	inv := f.CreateScenario().Invoice

	_, err := f.Engine.Invoices.Edit(f.Ctx, inv.Number, billing.EditInvoiceRequest{
		Actor: Admin,
		Items: []billing.ItemInput{{Product: "ProductA", Qty: D("20")}},
	})
	require.ErrorIs(t, err, billing.ErrInsufficientStock)

	RequireDecimal(t, "8", f.Stock("ProductA"))
	RequireDecimal(t, "4", f.Stock("ProductB"))
	view, err := f.Engine.Invoices.Get(f.Ctx, inv.Number)
	require.NoError(t, err)
	RequireDecimal(t, "1320", view.Total)
	require.Len(t, view.Items, 2)
	assert.Len(t, f.Entries(f.Customer.ID), 1)
	f.CheckInvariants()
}

func testNumbersNeverReused(t *testing.T, f *Fixture) {
	first := f.CreateScenario().Invoice
	_, err := f.Engine.Invoices.Delete(f.Ctx, first.Number, Admin)
	require.NoError(t, err)

	second := f.CreateScenario().Invoice
	assert.Equal(t, billing.InvoiceNumber("INV-202610-0100"), first.Number)
	assert.Equal(t, billing.InvoiceNumber("INV-202610-0101"), second.Number)
}

func testCancelledContext(t *testing.T, f *Fixture) {
	ctx, cancel := context.WithCancel(f.Ctx)
	cancel()

	_, err := f.Engine.Invoices.Create(ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID,
		Salesman:   Salesman,
		Items:      ScenarioItems(),
	})
	require.Error(t, err)
	assert.True(t, billing.IsRetryable(err), "got %v", err)

	RequireDecimal(t, "10", f.Stock("ProductA"))
	RequireDecimal(t, "0", f.Pending(f.Customer.ID))
	assert.Empty(t, f.Entries(f.Customer.ID))
}

func testConcurrentNumbers(t *testing.T, f *Fixture) {
	const k = 8
	_, err := f.Engine.Catalog.Restock(f.Ctx, Admin, "ProductA", D("100"), "bulk")
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		numbers []string
	)
	g, ctx := errgroup.WithContext(f.Ctx)
	for i := 0; i < k; i++ {
		g.Go(func() error {
			res, err := f.Engine.Invoices.Create(ctx, billing.CreateInvoiceRequest{
				CustomerID: f.Customer.ID,
				Salesman:   Salesman,
				Items:      []billing.ItemInput{{Product: "ProductA", Qty: D("1")}},
			})
			if err != nil {
				return err
			}
			mu.Lock()
			numbers = append(numbers, string(res.Invoice.Number))
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(numbers)
	want := make([]string, k)
	for i := range want {
		want[i] = fmt.Sprintf("INV-202610-%04d", 100+i)
	}
	assert.Equal(t, want, numbers, "numbers are distinct and gapless")
	RequireDecimal(t, "102", f.Stock("ProductA"))
	RequireDecimal(t, "4000", f.Pending(f.Customer.ID))
	f.CheckInvariants()
}

func testConcurrentOversell(t *testing.T, f *Fixture) {
	const attempts = 10
	var (
		mu       sync.Mutex
		ok, rejected int
	)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
				CustomerID: f.Customer.ID,
				Salesman:   Salesman,
				Items:      []billing.ItemInput{{Product: "ProductB", Qty: D("1")}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case billing.IsClientError(err):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 5, ok)
	assert.Equal(t, 5, rejected)
	RequireDecimal(t, "0", f.Stock("ProductB"))
	f.CheckInvariants()
}

func testRandomOperations(t *testing.T, f *Fixture) {
	rng := rand.New(rand.NewSource(42))
	other := f.AddCustomer("Bolt Hardware", "7 Dock Street")
	customers := []billing.CustomerID{f.Customer.ID, other.ID}
	products := []string{"ProductA", "ProductB"}
	var live []billing.InvoiceNumber

	randomItems := func() []billing.ItemInput {
		n := 1 + rng.Intn(len(products))
		perm := rng.Perm(len(products))[:n]
		items := make([]billing.ItemInput, 0, n)
		for _, i := range perm {
			items = append(items, billing.ItemInput{Product: products[i], Qty: D(fmt.Sprint(1 + rng.Intn(4)))})
		}
		return items
	}

	for step := 0; step < 60; step++ {
		var err error
		switch op := rng.Intn(6); {
		case op == 0 && step%10 == 0:
			_, err = f.Engine.Catalog.Restock(f.Ctx, Admin, products[rng.Intn(2)], D("6"), "restock")
		case op <= 1 || len(live) == 0:
			var res *billing.InvoiceResult
			res, err = f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
				CustomerID:   customers[rng.Intn(2)],
				Salesman:     Salesman,
				Items:        randomItems(),
				TaxRate:      P(fmt.Sprint(rng.Intn(3) * 5)),
				PendingAdded: D(fmt.Sprint(rng.Intn(2) * 50)),
				PaidAmount:   D(fmt.Sprint(rng.Intn(3) * 100)),
			})
			if err == nil {
				live = append(live, res.Invoice.Number)
			}
		case op == 2:
			_, err = f.Engine.Invoices.Edit(f.Ctx, live[rng.Intn(len(live))], billing.EditInvoiceRequest{
				Actor:    Admin,
				Items:    randomItems(),
				Discount: D(fmt.Sprint(rng.Intn(2) * 10)),
			})
		case op == 3:
			i := rng.Intn(len(live))
			_, err = f.Engine.Invoices.Delete(f.Ctx, live[i], Admin)
			if err == nil {
				live = append(live[:i], live[i+1:]...)
			}
		case op == 4:
			_, err = f.Engine.Payments.RecordPayment(f.Ctx, billing.PaymentRequest{
				InvoiceNumber: live[rng.Intn(len(live))],
				Amount:        D(fmt.Sprint(50 + rng.Intn(900))),
				Actor:         Salesman,
			})
		default:
			_, err = f.Engine.Payments.SetReceived(f.Ctx, live[rng.Intn(len(live))], D(fmt.Sprint(rng.Intn(500))),
				billing.PaymentRequest{Actor: Salesman})
		}
		if err != nil {
			require.Truef(t, billing.IsClientError(err), "step %d: unexpected error %v", step, err)
		}
		f.CheckInvariants()
	}
}
