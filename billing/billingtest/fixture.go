// Package billingtest holds fixtures and a conformance suite shared by every
// billing.Store implementation.
package billingtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/ledger-engine/billing"
)

var (
	Admin    = billing.Actor{ID: "admin", Permissions: billing.RoleAdmin}
	Salesman = billing.Actor{ID: "alice", Permissions: billing.RoleSalesman}
)

// D parses a decimal literal and panics on bad input.
func D(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// P returns a pointer to a decimal literal.
func P(s string) *decimal.Decimal {
	d := D(s)
	return &d
}

// Clock is a settable clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Fixture is an engine seeded with two products and one customer:
//
//	ProductA  price 500  cost 300  stock 10  threshold 2
//	ProductB  price 200  cost 120  stock 5   threshold 1
type Fixture struct {
	T        *testing.T
	Ctx      context.Context
	Engine   *billing.Engine
	Store    billing.Store
	Clock    *Clock
	Customer billing.Customer
}

// NewFixture builds a seeded engine over s. opts tweak the policy.
func NewFixture(t *testing.T, s billing.Store, opts ...func(*billing.Policy)) *Fixture {
	t.Helper()
	clock := NewClock(time.Date(2026, time.October, 17, 9, 30, 0, 0, time.UTC))
	policy := billing.DefaultPolicy()
	policy.Now = clock.Now
	for _, opt := range opts {
		opt(&policy)
	}

	eng, err := billing.New(s, policy, zaptest.NewLogger(t))
	require.NoError(t, err)

	f := &Fixture{T: t, Ctx: context.Background(), Engine: eng, Store: s, Clock: clock}
	f.AddProduct("ProductA", "500", "300", "10", "2")
	f.AddProduct("ProductB", "200", "120", "5", "1")
	f.Customer = f.AddCustomer("Acme Traders", "12 Market Road")
	return f
}

func (f *Fixture) AddProduct(name, price, cost, stock, threshold string) billing.Product {
	f.T.Helper()
	p, created, err := f.Engine.Catalog.UpsertProduct(f.Ctx, Admin, billing.ProductInput{
		Name:              name,
		SellingPrice:      D(price),
		CostPrice:         D(cost),
		InitialStock:      D(stock),
		MinStockThreshold: D(threshold),
	})
	require.NoError(f.T, err)
	require.True(f.T, created)
	return p
}

func (f *Fixture) AddCustomer(name, address string) billing.Customer {
	f.T.Helper()
	c, err := f.Engine.Catalog.CreateCustomer(f.Ctx, billing.CustomerInput{Name: name, Address: address, Phone: "555-0100"})
	require.NoError(f.T, err)
	return c
}

// Stock returns the current stock of a product.
func (f *Fixture) Stock(name string) decimal.Decimal {
	f.T.Helper()
	p, err := f.Engine.Catalog.GetProduct(f.Ctx, name)
	require.NoError(f.T, err)
	return p.StockQuantity
}

// Pending returns the cached pending balance of a customer.
func (f *Fixture) Pending(id billing.CustomerID) decimal.Decimal {
	f.T.Helper()
	p, err := f.Engine.Payments.Pending(f.Ctx, id)
	require.NoError(f.T, err)
	return p
}

// Entries returns the ledger of a customer.
func (f *Fixture) Entries(id billing.CustomerID) []billing.LedgerEntry {
	f.T.Helper()
	var out []billing.LedgerEntry
	require.NoError(f.T, f.Store.View(f.Ctx, func(tx billing.Tx) error {
		var err error
		out, err = f.Engine.Ledger.Entries(f.Ctx, tx, id)
		return err
	}))
	return out
}

// ScenarioItems are 2 x ProductA and 1 x ProductB at catalog prices.
func ScenarioItems() []billing.ItemInput {
	return []billing.ItemInput{
		{Product: "ProductA", Qty: D("2"), UnitPrice: P("500")},
		{Product: "ProductB", Qty: D("1"), UnitPrice: P("200")},
	}
}

// CreateScenario bills ScenarioItems at 10% tax: total 1320.
func (f *Fixture) CreateScenario() *billing.InvoiceResult {
	f.T.Helper()
	res, err := f.Engine.Invoices.Create(f.Ctx, billing.CreateInvoiceRequest{
		CustomerID: f.Customer.ID,
		Salesman:   Salesman,
		Items:      ScenarioItems(),
		TaxRate:    P("10"),
	})
	require.NoError(f.T, err)
	return res
}

// RequireDecimal compares decimals by value.
func RequireDecimal(t testing.TB, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, D(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

// CheckInvariants asserts non-negative stock and, for every customer, that
// cached pending == replay == max(0, sum(active totals) - sum(payments)).
func (f *Fixture) CheckInvariants() {
	f.T.Helper()
	require.NoError(f.T, f.Store.View(f.Ctx, func(tx billing.Tx) error {
		products, err := tx.ListProducts(f.Ctx, false)
		require.NoError(f.T, err)
		for _, p := range products {
			require.Falsef(f.T, p.StockQuantity.IsNegative(), "negative stock for %s", p.Name)
		}

		customers, err := tx.ListCustomers(f.Ctx)
		require.NoError(f.T, err)
		for _, c := range customers {
			invoices, err := tx.ListInvoices(f.Ctx, billing.InvoiceFilter{CustomerID: c.ID})
			require.NoError(f.T, err)
			payments, err := tx.ListPayments(f.Ctx, c.ID)
			require.NoError(f.T, err)
			entries, err := tx.LedgerEntries(f.Ctx, c.ID)
			require.NoError(f.T, err)

			expected := decimal.Zero
			for _, inv := range invoices {
				expected = expected.Add(inv.Total)
			}
			for _, p := range payments {
				expected = expected.Sub(p.Amount)
			}
			if expected.IsNegative() {
				expected = decimal.Zero
			}

			replay := billing.ReplayEntries(entries)
			require.Truef(f.T, replay.Pending.Equal(expected), "customer %d: replay %s != formula %s", c.ID, replay.Pending, expected)
			require.Truef(f.T, c.PendingBalance.Equal(expected), "customer %d: cached %s != formula %s", c.ID, c.PendingBalance, expected)

			booked := map[billing.InvoiceNumber]bool{}
			for _, e := range entries {
				if e.Type == billing.EntryInvoice {
					booked[e.InvoiceNumber] = true
				}
			}
			for _, inv := range invoices {
				require.Truef(f.T, booked[inv.Number], "invoice %s has no ledger entry", inv.Number)
			}
		}
		return nil
	}))
}
