/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts and quantities are decimal.Decimal. They serialize as JSON strings
  ("1320.00") and accept either strings or numbers on input, so no float64
  ever touches a monetary value.

VALIDATION:
  Structural checks (required fields, enums, date formats) are validator/v10
  struct tags checked in decode(). Business rules such as positive
  quantities or stock availability stay in the billing package.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/billing"
)

// =============================================================================
// INVOICE REQUESTS
// =============================================================================

// ItemRequest is one invoice line. UnitPrice defaults to the catalog price.
type ItemRequest struct {
	Product   string           `json:"product" validate:"required,max=200"`
	Qty       decimal.Decimal  `json:"qty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// CreateInvoiceRequest is the body of POST /api/invoices.
type CreateInvoiceRequest struct {
	CustomerID    int64            `json:"customer_id" validate:"required,gt=0"`
	Date          string           `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Items         []ItemRequest    `json:"items" validate:"required,min=1,dive"`
	TaxRate       *decimal.Decimal `json:"tax_rate,omitempty"`
	Discount      decimal.Decimal  `json:"discount"`
	PendingAdded  decimal.Decimal  `json:"pending_added"`
	PaidAmount    decimal.Decimal  `json:"paid_amount"`
	PaymentMethod string           `json:"payment_method,omitempty" validate:"omitempty,oneof=cash bank cheque card online other"`
	Notes         string           `json:"notes,omitempty" validate:"max=2000"`
}

// EditInvoiceRequest is the body of PUT /api/invoices/{number}.
type EditInvoiceRequest struct {
	Date         string           `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Items        []ItemRequest    `json:"items" validate:"required,min=1,dive"`
	TaxRate      *decimal.Decimal `json:"tax_rate,omitempty"`
	Discount     decimal.Decimal  `json:"discount"`
	PendingAdded decimal.Decimal  `json:"pending_added"`
	Notes        *string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// =============================================================================
// PAYMENT REQUESTS
// =============================================================================

// PaymentRequest is the body of the payment endpoints.
type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method,omitempty" validate:"omitempty,oneof=cash bank cheque card online other"`
	Date      string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Reference string          `json:"reference,omitempty" validate:"max=200"`
}

// SetReceivedRequest is the body of PUT /api/invoices/{number}/received.
type SetReceivedRequest struct {
	Received  decimal.Decimal `json:"received"`
	Method    string          `json:"method,omitempty" validate:"omitempty,oneof=cash bank cheque card online other"`
	Date      string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Reference string          `json:"reference,omitempty" validate:"max=200"`
}

// =============================================================================
// CATALOG REQUESTS
// =============================================================================

type CreateCustomerRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=500"`
	Phone   string `json:"phone" validate:"max=50"`
}

type ProductRequest struct {
	Name              string          `json:"name" validate:"required,max=200"`
	Unit              string          `json:"unit,omitempty" validate:"max=20"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	MinStockThreshold decimal.Decimal `json:"min_stock_threshold"`
	InitialStock      decimal.Decimal `json:"initial_stock"`
}

type RestockRequest struct {
	Qty       decimal.Decimal `json:"qty"`
	Reference string          `json:"reference,omitempty" validate:"max=200"`
}

type AdjustStockRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason" validate:"required,max=200"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type InvoiceItemDTO struct {
	Line      int             `json:"line"`
	Product   string          `json:"product"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineTotal decimal.Decimal `json:"line_total"`
	Profit    decimal.Decimal `json:"profit"`
}

type InvoiceDTO struct {
	Number        string           `json:"number"`
	Date          string           `json:"date"`
	PeriodKey     string           `json:"period_key"`
	CustomerID    int64            `json:"customer_id"`
	SalesmanID    string           `json:"salesman_id"`
	Items         []InvoiceItemDTO `json:"items,omitempty"`
	TaxRate       decimal.Decimal  `json:"tax_rate"`
	Discount      decimal.Decimal  `json:"discount"`
	PendingAdded  decimal.Decimal  `json:"pending_added"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	TaxAmount     decimal.Decimal  `json:"tax_amount"`
	Total         decimal.Decimal  `json:"total"`
	TotalCost     decimal.Decimal  `json:"total_cost"`
	GrossProfit   decimal.Decimal  `json:"gross_profit"`
	PaidAmount    decimal.Decimal  `json:"paid_amount"`
	Balance       decimal.Decimal  `json:"balance"`
	Status        string           `json:"status"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	EditableUntil time.Time        `json:"editable_until"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// InvoiceViewDTO is the printable projection of an invoice.
type InvoiceViewDTO struct {
	InvoiceDTO
	CustomerName    string          `json:"customer_name"`
	CustomerAddress string          `json:"customer_address"`
	CustomerPhone   string          `json:"customer_phone"`
	CustomerPending decimal.Decimal `json:"customer_pending"`
}

type StockDTO struct {
	Product  string          `json:"product"`
	Previous decimal.Decimal `json:"previous"`
	NewStock decimal.Decimal `json:"new_stock"`
	LowStock bool            `json:"low_stock"`
}

type InvoiceResultDTO struct {
	Invoice        InvoiceDTO      `json:"invoice"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	Delta          decimal.Decimal `json:"delta"`
	LowStock       []StockDTO      `json:"low_stock,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
}

type DeleteResultDTO struct {
	Number         string          `json:"number"`
	CustomerID     int64           `json:"customer_id"`
	Total          decimal.Decimal `json:"total"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	Restored       []StockDTO      `json:"restored"`
}

type PaymentResultDTO struct {
	PaymentID      string          `json:"payment_id,omitempty"`
	CustomerID     int64           `json:"customer_id"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	InvoicePaid    decimal.Decimal `json:"invoice_paid"`
	InvoiceStatus  string          `json:"invoice_status,omitempty"`
}

type CustomerDTO struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Address        string          `json:"address"`
	Phone          string          `json:"phone"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	TotalSales     decimal.Decimal `json:"total_sales"`
	CreatedAt      time.Time       `json:"created_at"`
}

type PendingDTO struct {
	CustomerID     int64           `json:"customer_id"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
}

// StatementLineDTO is one ledger entry with the running balance after it.
type StatementLineDTO struct {
	ID             int64           `json:"id"`
	Date           string          `json:"date"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
	Type           string          `json:"type"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	Description    string          `json:"description"`
	CreatedBy      string          `json:"created_by"`
	RunningRaw     decimal.Decimal `json:"running_raw"`
	RunningPending decimal.Decimal `json:"running_pending"`
}

type ProductDTO struct {
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	StockQuantity     decimal.Decimal `json:"stock_quantity"`
	MinStockThreshold decimal.Decimal `json:"min_stock_threshold"`
	LowStock          bool            `json:"low_stock"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type StockMovementDTO struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Qty       decimal.Decimal `json:"qty"`
	Resulting decimal.Decimal `json:"resulting"`
	Reference string          `json:"reference,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type SalesmanTotalsDTO struct {
	SalesmanID string          `json:"salesman_id"`
	Invoices   int             `json:"invoices"`
	Revenue    decimal.Decimal `json:"revenue"`
}

type SalesSummaryDTO struct {
	PeriodKey   string              `json:"period"`
	Invoices    int                 `json:"invoices"`
	Subtotal    decimal.Decimal     `json:"subtotal"`
	Tax         decimal.Decimal     `json:"tax"`
	Discount    decimal.Decimal     `json:"discount"`
	Revenue     decimal.Decimal     `json:"revenue"`
	Cost        decimal.Decimal     `json:"cost"`
	GrossProfit decimal.Decimal     `json:"gross_profit"`
	Paid        decimal.Decimal     `json:"paid"`
	BySalesman  []SalesmanTotalsDTO `json:"by_salesman"`
}

type BalanceCheckDTO struct {
	CustomerID int64           `json:"customer_id"`
	Name       string          `json:"name"`
	Cached     decimal.Decimal `json:"cached"`
	Replayed   decimal.Decimal `json:"replayed"`
	Raw        decimal.Decimal `json:"raw"`
	Entries    int             `json:"entries"`
	Consistent bool            `json:"consistent"`
}

type AuditReportDTO struct {
	CheckedAt      time.Time         `json:"checked_at"`
	OK             bool              `json:"ok"`
	Customers      int               `json:"customers"`
	Drift          []BalanceCheckDTO `json:"drift"`
	MissingEntries []string          `json:"missing_entries"`
	NegativeStock  []string          `json:"negative_stock"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

const dateLayout = "2006-01-02"

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		Number:        string(inv.Number),
		Date:          inv.Date.Format(dateLayout),
		PeriodKey:     inv.PeriodKey,
		CustomerID:    int64(inv.CustomerID),
		SalesmanID:    inv.SalesmanID,
		TaxRate:       inv.TaxRate,
		Discount:      inv.Discount,
		PendingAdded:  inv.PendingAdded,
		Subtotal:      inv.Subtotal,
		TaxAmount:     inv.TaxAmount,
		Total:         inv.Total,
		TotalCost:     inv.TotalCost,
		GrossProfit:   inv.GrossProfit,
		PaidAmount:    inv.PaidAmount,
		Balance:       inv.Balance(),
		Status:        string(inv.Status),
		PaymentMethod: string(inv.PaymentMethod),
		Notes:         inv.Notes,
		EditableUntil: inv.EditableUntil,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
	for _, it := range inv.Items {
		dto.Items = append(dto.Items, InvoiceItemDTO{
			Line:      it.LineIndex,
			Product:   it.Product,
			Qty:       it.Qty,
			UnitPrice: it.UnitPrice,
			UnitCost:  it.UnitCost,
			LineTotal: it.LineTotal,
			Profit:    it.Profit,
		})
	}
	return dto
}

func toStockDTOs(rs []billing.StockResult) []StockDTO {
	out := make([]StockDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toStockDTO(r))
	}
	return out
}

func toStockDTO(r billing.StockResult) StockDTO {
	return StockDTO{Product: r.Product, Previous: r.Previous, NewStock: r.NewStock, LowStock: r.LowStock}
}

func toInvoiceResultDTO(res *billing.InvoiceResult) InvoiceResultDTO {
	dto := InvoiceResultDTO{
		Invoice:        toInvoiceDTO(res.Invoice),
		PendingBalance: res.PendingBalance,
		Delta:          res.Delta,
	}
	if len(res.LowStock) > 0 {
		dto.LowStock = toStockDTOs(res.LowStock)
	}
	for _, w := range res.Warnings {
		dto.Warnings = append(dto.Warnings, w.String())
	}
	return dto
}

func toPaymentResultDTO(res *billing.PaymentResult) PaymentResultDTO {
	return PaymentResultDTO{
		PaymentID:      res.PaymentID,
		CustomerID:     int64(res.CustomerID),
		InvoiceNumber:  string(res.InvoiceNumber),
		Amount:         res.Amount,
		PendingBalance: res.PendingBalance,
		InvoicePaid:    res.InvoicePaid,
		InvoiceStatus:  string(res.InvoiceStatus),
	}
}

func toCustomerDTO(c billing.Customer) CustomerDTO {
	return CustomerDTO{
		ID:             int64(c.ID),
		Name:           c.Name,
		Address:        c.Address,
		Phone:          c.Phone,
		PendingBalance: c.PendingBalance,
		TotalSales:     c.TotalSales,
		CreatedAt:      c.CreatedAt,
	}
}

func toProductDTO(p billing.Product) ProductDTO {
	return ProductDTO{
		Name:              p.Name,
		Unit:              p.Unit,
		SellingPrice:      p.SellingPrice,
		CostPrice:         p.CostPrice,
		StockQuantity:     p.StockQuantity,
		MinStockThreshold: p.MinStockThreshold,
		LowStock:          p.IsLowStock(),
		UpdatedAt:         p.UpdatedAt,
	}
}

func toBalanceCheckDTO(c billing.BalanceCheck) BalanceCheckDTO {
	return BalanceCheckDTO{
		CustomerID: int64(c.CustomerID),
		Name:       c.Name,
		Cached:     c.Cached,
		Replayed:   c.Replay.Pending,
		Raw:        c.Replay.Raw,
		Entries:    c.Replay.Entries,
		Consistent: c.Consistent(),
	}
}

func toAuditReportDTO(r billing.AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		CheckedAt:      r.CheckedAt,
		OK:             r.OK(),
		Customers:      r.Customers,
		Drift:          []BalanceCheckDTO{},
		MissingEntries: []string{},
		NegativeStock:  []string{},
	}
	for _, d := range r.Drift {
		dto.Drift = append(dto.Drift, toBalanceCheckDTO(d))
	}
	for _, n := range r.MissingEntries {
		dto.MissingEntries = append(dto.MissingEntries, string(n))
	}
	dto.NegativeStock = append(dto.NegativeStock, r.NegativeStock...)
	return dto
}

func toItemInputs(items []ItemRequest) []billing.ItemInput {
	out := make([]billing.ItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, billing.ItemInput{Product: it.Product, Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	return out
}
