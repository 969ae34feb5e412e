/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the engine with realistic data
  for demos and API smoke tests. Every scenario goes through billing.Engine,
  so the data obeys the same invariants as production traffic.

AVAILABLE SCENARIOS:
  retail-day:       Groceries billed with tax, partial payment, account payment
  account-credit:   Customer overpays and the next invoice consumes the credit
  low-stock:        Sale that drops a product below its threshold
  edit-and-delete:  Invoice edited by an admin, another one deleted

HOW SCENARIOS WORK:
 1. Upsert the scenario's products (stock is only set on first creation)
 2. Create or reuse the scenario's customers
 3. Bill invoices and record payments as the demo salesman
 4. Admin-only steps (edit, delete) run as the demo admin

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "retail-day"}

NOTE:
  Scenarios are additive and each can be loaded once per process.
  Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/billing"
)

var (
	demoAdmin    = billing.Actor{ID: "demo-admin", Permissions: billing.RoleAdmin}
	demoSalesman = billing.Actor{ID: "demo-salesman", Permissions: billing.RoleSalesman}
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "retail-day",
		Name:        "Retail Day",
		Description: "Groceries billed at 5% tax, part paid at the counter, rest paid on account",
	},
	{
		ID:          "account-credit",
		Name:        "Account Credit",
		Description: "Customer overpays; the credit is absorbed by the next invoice",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "A sale drops a product to its minimum threshold",
	},
	{
		ID:          "edit-and-delete",
		Name:        "Edit and Delete",
		Description: "An invoice is re-quantified and another is deleted, restoring stock",
	},
}

func (h *Handler) scenarioLoader(id string) func(context.Context) error {
	switch id {
	case "retail-day":
		return h.loadRetailDayScenario
	case "account-credit":
		return h.loadAccountCreditScenario
	case "low-stock":
		return h.loadLowStockScenario
	case "edit-and-delete":
		return h.loadEditAndDeleteScenario
	}
	return nil
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	load := h.scenarioLoader(req.ScenarioID)
	if load == nil {
		h.fail(w, r, &billing.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", req.ScenarioID)})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded == nil {
		h.loaded = make(map[string]bool)
	}
	if h.loaded[req.ScenarioID] {
		writeError(w, http.StatusConflict, CodeDuplicate, fmt.Sprintf("scenario %q already loaded", req.ScenarioID), nil)
		return
	}

	if err := load(r.Context()); err != nil {
		h.fail(w, r, fmt.Errorf("failed to load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.loaded[req.ScenarioID] = true
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadRetailDayScenario(ctx context.Context) error {
	if err := h.ensureProducts(ctx, groceries...); err != nil {
		return err
	}
	c, err := h.ensureCustomer(ctx, "Hassan General Store", "14 Canal Road", "0300-1112233")
	if err != nil {
		return err
	}

	// 10 x 1500 + 20 x 90 = 16800, 5% tax 840, total 17640, 5000 paid.
	rate := dec("5")
	if _, err := h.Engine.Invoices.Create(ctx, billing.CreateInvoiceRequest{
		CustomerID: c.ID,
		Salesman:   demoSalesman,
		Items: []billing.ItemInput{
			{Product: "Rice 25kg", Qty: dec("10")},
			{Product: "Sugar 1kg", Qty: dec("20")},
		},
		TaxRate:       &rate,
		PaidAmount:    dec("5000"),
		PaymentMethod: billing.MethodCash,
		Notes:         "Weekly restock",
	}); err != nil {
		return err
	}

	_, err = h.Engine.Payments.RecordPayment(ctx, billing.PaymentRequest{
		CustomerID: c.ID,
		Amount:     dec("3000"),
		Method:     billing.MethodBank,
		Reference:  "TRF-0042",
		Actor:      demoSalesman,
	})
	return err
}

func (h *Handler) loadAccountCreditScenario(ctx context.Context) error {
	if err := h.ensureProducts(ctx, groceries...); err != nil {
		return err
	}
	c, err := h.ensureCustomer(ctx, "Bilal Traders", "3 Mill Street", "0321-5556677")
	if err != nil {
		return err
	}

	// 850 owed, 1000 paid: raw balance -150, pending 0.
	oil := []billing.ItemInput{{Product: "Cooking Oil 5L", Qty: dec("1")}}
	if _, err := h.Engine.Invoices.Create(ctx, billing.CreateInvoiceRequest{
		CustomerID: c.ID, Salesman: demoSalesman, Items: oil,
	}); err != nil {
		return err
	}
	if _, err := h.Engine.Payments.RecordPayment(ctx, billing.PaymentRequest{
		CustomerID: c.ID, Amount: dec("1000"), Method: billing.MethodCash, Actor: demoSalesman,
	}); err != nil {
		return err
	}

	// The second 850 invoice absorbs the 150 credit: pending 700.
	_, err = h.Engine.Invoices.Create(ctx, billing.CreateInvoiceRequest{
		CustomerID: c.ID, Salesman: demoSalesman, Items: oil,
	})
	return err
}

func (h *Handler) loadLowStockScenario(ctx context.Context) error {
	if err := h.ensureProducts(ctx, billing.ProductInput{
		Name: "Tea 500g", Unit: "pack", SellingPrice: dec("420"), CostPrice: dec("350"),
		InitialStock: dec("6"), MinStockThreshold: dec("5"),
	}); err != nil {
		return err
	}
	c, err := h.ensureCustomer(ctx, "Corner Cafe", "22 Station Road", "0333-4445566")
	if err != nil {
		return err
	}
	_, err = h.Engine.Invoices.Create(ctx, billing.CreateInvoiceRequest{
		CustomerID: c.ID,
		Salesman:   demoSalesman,
		Items:      []billing.ItemInput{{Product: "Tea 500g", Qty: dec("2")}},
		PaidAmount: dec("840"),
	})
	return err
}

func (h *Handler) loadEditAndDeleteScenario(ctx context.Context) error {
	if err := h.ensureProducts(ctx, groceries...); err != nil {
		return err
	}
	c, err := h.ensureCustomer(ctx, "Noor Bakery", "9 Bazaar Lane", "0345-7778899")
	if err != nil {
		return err
	}

	kept, err := h.Engine.Invoices.Create(ctx, billing.CreateInvoiceRequest{
		CustomerID: c.ID, Salesman: demoSalesman,
		Items: []billing.ItemInput{{Product: "Sugar 1kg", Qty: dec("5")}},
	})
	if err != nil {
		return err
	}
	if _, err := h.Engine.Invoices.Edit(ctx, kept.Invoice.Number, billing.EditInvoiceRequest{
		Actor: demoAdmin,
		Items: []billing.ItemInput{{Product: "Sugar 1kg", Qty: dec("8")}},
	}); err != nil {
		return err
	}

	dropped, err := h.Engine.Invoices.Create(ctx, billing.CreateInvoiceRequest{
		CustomerID: c.ID, Salesman: demoSalesman,
		Items: []billing.ItemInput{{Product: "Sugar 1kg", Qty: dec("2")}},
	})
	if err != nil {
		return err
	}
	_, err = h.Engine.Invoices.Delete(ctx, dropped.Invoice.Number, demoAdmin)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

var groceries = []billing.ProductInput{
	{Name: "Rice 25kg", Unit: "bag", SellingPrice: dec("1500"), CostPrice: dec("1200"), InitialStock: dec("40"), MinStockThreshold: dec("5")},
	{Name: "Sugar 1kg", Unit: "kg", SellingPrice: dec("90"), CostPrice: dec("70"), InitialStock: dec("200"), MinStockThreshold: dec("20")},
	{Name: "Cooking Oil 5L", Unit: "can", SellingPrice: dec("850"), CostPrice: dec("700"), InitialStock: dec("30"), MinStockThreshold: dec("5")},
}

func (h *Handler) ensureProducts(ctx context.Context, products ...billing.ProductInput) error {
	for _, p := range products {
		if _, _, err := h.Engine.Catalog.UpsertProduct(ctx, demoAdmin, p); err != nil {
			return err
		}
	}
	return nil
}

// ensureCustomer creates the customer or returns the existing one.
func (h *Handler) ensureCustomer(ctx context.Context, name, address, phone string) (billing.Customer, error) {
	c, err := h.Engine.Catalog.CreateCustomer(ctx, billing.CustomerInput{Name: name, Address: address, Phone: phone})
	if err == nil || !errors.Is(err, billing.ErrDuplicate) {
		return c, err
	}
	all, err := h.Engine.Catalog.ListCustomers(ctx)
	if err != nil {
		return billing.Customer{}, err
	}
	for _, c := range all {
		if c.Name == name && c.Address == address {
			return c, nil
		}
	}
	return billing.Customer{}, &billing.NotFoundError{Kind: "customer", Ref: name}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
