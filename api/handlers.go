/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every state change to billing.Engine.
  No handler touches the Store directly.

ENDPOINTS:
  Invoices:
    POST   /api/invoices                     Create invoice (Idempotency-Key)
    GET    /api/invoices                     List invoices
    GET    /api/invoices/{number}            Printable invoice view
    PUT    /api/invoices/{number}            Edit invoice
    DELETE /api/invoices/{number}            Delete invoice
    POST   /api/invoices/{number}/payments   Payment against invoice
    PUT    /api/invoices/{number}/received   Set received amount

  Customers:
    POST   /api/customers                    Create customer
    GET    /api/customers/{id}               Customer details
    GET    /api/customers/{id}/pending       Pending balance
    GET    /api/customers/{id}/ledger        Ledger statement
    POST   /api/customers/{id}/payments      Payment against account

  Products:
    POST   /api/products                     Create or update product
    GET    /api/products?low_stock=true      List products
    POST   /api/products/{name}/restock      Add stock
    POST   /api/products/{name}/adjust       Signed stock correction

  Reports:
    GET    /api/reports/sales?period=YYYYMM  Sales and profit roll-up
    GET    /api/audit                        Ledger verification

ACTOR:
  Authentication happens in front of this service. The caller identity is
  read from X-Actor-ID and its role from X-Actor-Role ("admin" or
  "salesman"); an unknown role has no permissions.

REQUEST FLOW:
  1. Parse and validate the request (decode)
  2. Call the engine; it runs the whole operation in one transaction
  3. Publish domain events after commit (best effort)
  4. Serialize response

ERROR HANDLING:
  Errors map through statusFor (errors.go):
  - 400: Validation errors
  - 403: Missing permission
  - 404: Unknown invoice, customer or product
  - 409: Edit window, insufficient stock, duplicate, replayed request
  - 503: Contention or storage failure (safe to retry)

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Request logging and idempotency
  - server.go: Router setup
*/
package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/billing"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/idempotency"
)

// Request headers understood by the API.
const (
	HeaderActorID        = "X-Actor-ID"
	HeaderActorRole      = "X-Actor-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// DefaultIdempotencyTTL is how long a processed Idempotency-Key is remembered.
const DefaultIdempotencyTTL = 24 * time.Hour

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine         *billing.Engine
	Idempotency    idempotency.Store // nil disables Idempotency-Key handling
	Events         *events.Dispatcher
	Log            *zap.Logger
	IdempotencyTTL time.Duration

	validate *validator.Validate

	// Track loaded scenarios
	mu              sync.Mutex
	currentScenario string
	loaded          map[string]bool
}

// NewHandler creates a handler over engine. idem and dispatcher may be nil.
func NewHandler(engine *billing.Engine, idem idempotency.Store, dispatcher *events.Dispatcher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(nil, log)
	}
	return &Handler{
		Engine:         engine,
		Idempotency:    idem,
		Events:         dispatcher,
		Log:            log,
		IdempotencyTTL: DefaultIdempotencyTTL,
		validate:       newValidator(),
	}
}

// actorFrom reads the caller identity set by the fronting layer.
func actorFrom(r *http.Request) billing.Actor {
	return billing.Actor{
		ID:          strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Permissions: billing.RoleByName(r.Header.Get(HeaderActorRole)),
	}
}

// =============================================================================
// INVOICE ENDPOINTS
// =============================================================================

// CreateInvoice bills a customer.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Engine.Invoices.Create(r.Context(), billing.CreateInvoiceRequest{
		CustomerID:    billing.CustomerID(req.CustomerID),
		Salesman:      actorFrom(r),
		Date:          date,
		Items:         toItemInputs(req.Items),
		TaxRate:       req.TaxRate,
		Discount:      req.Discount,
		PendingAdded:  req.PendingAdded,
		PaidAmount:    req.PaidAmount,
		PaymentMethod: billing.PaymentMethod(req.PaymentMethod),
		Notes:         req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.Events.Emit(r.Context(), events.ForInvoice(res, false)...)
	w.Header().Set("Location", "/api/invoices/"+url.PathEscape(string(res.Invoice.Number)))
	writeJSON(w, http.StatusCreated, toInvoiceResultDTO(res))
}

// ListInvoices returns invoice headers, newest first.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   billing.InvoiceFilter
		err error
	)
	if v := q.Get("customer_id"); v != "" {
		if f.CustomerID, err = parseCustomerID(v); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if f.Limit, err = parseNonNegative("limit", q.Get("limit")); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Offset, err = parseNonNegative("offset", q.Get("offset")); err != nil {
		h.fail(w, r, err)
		return
	}
	f.SalesmanID = q.Get("salesman_id")
	f.PeriodKey = q.Get("period")
	if v := q.Get("status"); v != "" {
		switch s := billing.InvoiceStatus(v); s {
		case billing.StatusPending, billing.StatusPartial, billing.StatusPaid:
			f.Status = s
		default:
			h.fail(w, r, &billing.ValidationError{Field: "status", Message: "must be one of: pending partial paid"})
			return
		}
	}

	invoices, err := h.Engine.Invoices.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]InvoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceDTO(inv))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetInvoice returns the printable view of one invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.Invoices.Get(r.Context(), invoiceNumber(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, InvoiceViewDTO{
		InvoiceDTO:      toInvoiceDTO(view.Invoice),
		CustomerName:    view.CustomerName,
		CustomerAddress: view.CustomerAddress,
		CustomerPhone:   view.CustomerPhone,
		CustomerPending: view.CustomerPending,
	})
}

// EditInvoice replaces the lines and charges of an invoice.
func (h *Handler) EditInvoice(w http.ResponseWriter, r *http.Request) {
	var req EditInvoiceRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Engine.Invoices.Edit(r.Context(), invoiceNumber(r), billing.EditInvoiceRequest{
		Actor:        actorFrom(r),
		Items:        toItemInputs(req.Items),
		Date:         date,
		TaxRate:      req.TaxRate,
		Discount:     req.Discount,
		PendingAdded: req.PendingAdded,
		Notes:        req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.Events.Emit(r.Context(), events.ForInvoice(res, true)...)
	writeJSON(w, http.StatusOK, toInvoiceResultDTO(res))
}

// DeleteInvoice restores stock and reverses the invoice in the ledger.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Invoices.Delete(r.Context(), invoiceNumber(r), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.Events.Emit(r.Context(), events.ForDelete(res)...)
	writeJSON(w, http.StatusOK, DeleteResultDTO{
		Number:         string(res.Number),
		CustomerID:     int64(res.CustomerID),
		Total:          res.Total,
		PendingBalance: res.PendingBalance,
		Restored:       toStockDTOs(res.Restored),
	})
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// RecordInvoicePayment records money received against one invoice.
func (h *Handler) RecordInvoicePayment(w http.ResponseWriter, r *http.Request) {
	h.recordPayment(w, r, billing.PaymentRequest{InvoiceNumber: invoiceNumber(r)})
}

// RecordCustomerPayment records money received on a customer's account.
func (h *Handler) RecordCustomerPayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseCustomerID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordPayment(w, r, billing.PaymentRequest{CustomerID: id})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request, target billing.PaymentRequest) {
	var req PaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	target.Amount = req.Amount
	target.Method = billing.PaymentMethod(req.Method)
	target.Date = date
	target.Reference = req.Reference
	target.Actor = actorFrom(r)

	res, err := h.Engine.Payments.RecordPayment(r.Context(), target)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.Events.Emit(r.Context(), events.ForPayment(res)...)
	writeJSON(w, http.StatusCreated, toPaymentResultDTO(res))
}

// SetReceived moves an invoice's received amount to the requested figure.
func (h *Handler) SetReceived(w http.ResponseWriter, r *http.Request) {
	var req SetReceivedRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Engine.Payments.SetReceived(r.Context(), invoiceNumber(r), req.Received, billing.PaymentRequest{
		Method:    billing.PaymentMethod(req.Method),
		Date:      date,
		Reference: req.Reference,
		Actor:     actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.Events.Emit(r.Context(), events.ForPayment(res)...)
	writeJSON(w, http.StatusOK, toPaymentResultDTO(res))
}

// =============================================================================
// CUSTOMER ENDPOINTS
// =============================================================================

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Engine.Catalog.CreateCustomer(r.Context(), billing.CustomerInput{
		Name:    req.Name,
		Address: req.Address,
		Phone:   req.Phone,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Engine.Catalog.ListCustomers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]CustomerDTO, 0, len(customers))
	for _, c := range customers {
		out = append(out, toCustomerDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := parseCustomerID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Engine.Catalog.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// GetCustomerPending returns the cached pending balance.
func (h *Handler) GetCustomerPending(w http.ResponseWriter, r *http.Request) {
	id, err := parseCustomerID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pending, err := h.Engine.Payments.Pending(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PendingDTO{CustomerID: int64(id), PendingBalance: pending})
}

// CustomerStatement returns the ledger with running balances.
func (h *Handler) CustomerStatement(w http.ResponseWriter, r *http.Request) {
	id, err := parseCustomerID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.Engine.Catalog.CustomerStatement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]StatementLineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, StatementLineDTO{
			ID:             int64(l.ID),
			Date:           l.Date.Format(dateLayout),
			InvoiceNumber:  string(l.InvoiceNumber),
			Type:           string(l.Type),
			Debit:          l.Debit,
			Credit:         l.Credit,
			Description:    l.Description,
			CreatedBy:      l.CreatedBy,
			RunningRaw:     l.RunningRaw,
			RunningPending: l.RunningPending,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

// UpsertProduct creates a product (201) or updates its prices (200).
func (h *Handler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, created, err := h.Engine.Catalog.UpsertProduct(r.Context(), actorFrom(r), billing.ProductInput{
		Name:              req.Name,
		Unit:              req.Unit,
		SellingPrice:      req.SellingPrice,
		CostPrice:         req.CostPrice,
		MinStockThreshold: req.MinStockThreshold,
		InitialStock:      req.InitialStock,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toProductDTO(p))
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	lowOnly, _ := strconv.ParseBool(r.URL.Query().Get("low_stock"))
	products, err := h.Engine.Catalog.ListProducts(r.Context(), lowOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		out = append(out, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	name, err := productName(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Engine.Catalog.GetProduct(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// StockMovements lists every stock delta applied to a product.
func (h *Handler) StockMovements(w http.ResponseWriter, r *http.Request) {
	name, err := productName(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	moves, err := h.Engine.Catalog.StockMovements(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]StockMovementDTO, 0, len(moves))
	for _, m := range moves {
		out = append(out, StockMovementDTO{
			ID:        m.ID,
			Type:      string(m.Type),
			Qty:       m.Qty,
			Resulting: m.Resulting,
			Reference: m.Reference,
			CreatedBy: m.CreatedBy,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	name, err := productName(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req RestockRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Engine.Catalog.Restock(r.Context(), actorFrom(r), name, req.Qty, req.Reference)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Events.Emit(r.Context(), events.ForStock(res)...)
	writeJSON(w, http.StatusOK, toStockDTO(res))
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	name, err := productName(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req AdjustStockRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Engine.Catalog.AdjustStock(r.Context(), actorFrom(r), name, req.Delta, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Events.Emit(r.Context(), events.ForStock(res)...)
	writeJSON(w, http.StatusOK, toStockDTO(res))
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

// SalesReport aggregates one period; the current period when none is given.
func (h *Handler) SalesReport(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = h.Engine.Policy.PeriodKey(time.Now())
	}
	s, err := h.Engine.Reports.SalesSummary(r.Context(), period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := SalesSummaryDTO{
		PeriodKey:   s.PeriodKey,
		Invoices:    s.Invoices,
		Subtotal:    s.Subtotal,
		Tax:         s.Tax,
		Discount:    s.Discount,
		Revenue:     s.Revenue,
		Cost:        s.Cost,
		GrossProfit: s.GrossProfit,
		Paid:        s.Paid,
		BySalesman:  []SalesmanTotalsDTO{},
	}
	for _, t := range s.BySalesman {
		dto.BySalesman = append(dto.BySalesman, SalesmanTotalsDTO{SalesmanID: t.SalesmanID, Invoices: t.Invoices, Revenue: t.Revenue})
	}
	writeJSON(w, http.StatusOK, dto)
}

// Audit replays ledgers and reports drift. With ?customer_id only that
// customer is checked.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("customer_id"); v != "" {
		id, err := parseCustomerID(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		check, err := h.Engine.Auditor.Verify(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBalanceCheckDTO(check))
		return
	}

	report, err := h.Engine.Auditor.VerifyAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PARAMETER HELPERS
// =============================================================================

func invoiceNumber(r *http.Request) billing.InvoiceNumber {
	return billing.InvoiceNumber(strings.TrimSpace(chi.URLParam(r, "number")))
}

// productName unescapes the {name} segment; product names may contain spaces.
func productName(r *http.Request) (string, error) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		return "", &billing.ValidationError{Field: "name", Message: "malformed product name"}
	}
	return name, nil
}

func parseCustomerID(s string) (billing.CustomerID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, &billing.ValidationError{Field: "customer_id", Message: "must be a positive integer"}
	}
	return billing.CustomerID(id), nil
}

func parseNonNegative(field, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &billing.ValidationError{Field: field, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// parseDate accepts YYYY-MM-DD; empty means "today" to the engine.
func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &billing.ValidationError{Field: field, Message: "must be a date formatted 2006-01-02"}
	}
	return t, nil
}
