/*
Package events publishes domain events after a billing transaction commits.

Publishing is best-effort: the ledger is the source of truth, and a failed
publish is logged, never rolled back into the committed operation.

EVENT TYPES:
  invoice.created   invoice.edited   invoice.deleted
  payment.recorded  stock.low

SEE ALSO:
  - events/kafka.go: Kafka publisher
  - api/handlers.go: where events are emitted
*/
package events

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/billing"
)

// ErrClosed is returned by publishers used after Close.
var ErrClosed = errors.New("publisher closed")

type Type string

const (
	InvoiceCreated  Type = "invoice.created"
	InvoiceEdited   Type = "invoice.edited"
	InvoiceDeleted  Type = "invoice.deleted"
	PaymentRecorded Type = "payment.recorded"
	StockLow        Type = "stock.low"
)

// Event is the envelope written to the bus. Key orders events per customer
// (or per product for stock events).
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

func newEvent(t Type, key string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// =============================================================================
// PAYLOADS
// =============================================================================

type InvoicePayload struct {
	Number         string          `json:"number"`
	CustomerID     int64           `json:"customer_id"`
	SalesmanID     string          `json:"salesman_id,omitempty"`
	Total          decimal.Decimal `json:"total"`
	Delta          decimal.Decimal `json:"delta"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
}

type PaymentPayload struct {
	PaymentID      string          `json:"payment_id"`
	CustomerID     int64           `json:"customer_id"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	InvoiceStatus  string          `json:"invoice_status,omitempty"`
}

type StockPayload struct {
	Product  string          `json:"product"`
	Quantity decimal.Decimal `json:"quantity"`
}

func customerKey(id billing.CustomerID) string {
	return "customer:" + strconv.FormatInt(int64(id), 10)
}

func stockEvents(results []billing.StockResult) []Event {
	var out []Event
	for _, r := range results {
		if r.LowStock {
			out = append(out, newEvent(StockLow, "product:"+r.Product, StockPayload{Product: r.Product, Quantity: r.NewStock}))
		}
	}
	return out
}

// ForInvoice builds the events for a create (edited=false) or edit result,
// followed by one stock.low per product at or below its threshold.
func ForInvoice(res *billing.InvoiceResult, edited bool) []Event {
	t := InvoiceCreated
	if edited {
		t = InvoiceEdited
	}
	inv := res.Invoice
	out := []Event{newEvent(t, customerKey(inv.CustomerID), InvoicePayload{
		Number:         string(inv.Number),
		CustomerID:     int64(inv.CustomerID),
		SalesmanID:     inv.SalesmanID,
		Total:          inv.Total,
		Delta:          res.Delta,
		PendingBalance: res.PendingBalance,
	})}
	return append(out, stockEvents(res.LowStock)...)
}

func ForDelete(res *billing.DeleteResult) []Event {
	return []Event{newEvent(InvoiceDeleted, customerKey(res.CustomerID), InvoicePayload{
		Number:         string(res.Number),
		CustomerID:     int64(res.CustomerID),
		Total:          res.Total,
		Delta:          res.Total.Neg(),
		PendingBalance: res.PendingBalance,
	})}
}

func ForPayment(res *billing.PaymentResult) []Event {
	if res.PaymentID == "" {
		return nil
	}
	return []Event{newEvent(PaymentRecorded, customerKey(res.CustomerID), PaymentPayload{
		PaymentID:      res.PaymentID,
		CustomerID:     int64(res.CustomerID),
		InvoiceNumber:  string(res.InvoiceNumber),
		Amount:         res.Amount,
		PendingBalance: res.PendingBalance,
		InvoiceStatus:  string(res.InvoiceStatus),
	})}
}

func ForStock(res billing.StockResult) []Event {
	return stockEvents([]billing.StockResult{res})
}

// =============================================================================
// LOG PUBLISHER
// =============================================================================

// LogPublisher writes events to a zap logger. It is the default when no
// broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, e := range events {
		p.log.Info("event",
			zap.String("id", e.ID),
			zap.String("type", string(e.Type)),
			zap.String("key", e.Key),
			zap.Any("payload", e.Payload),
		)
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// =============================================================================
// BEST-EFFORT DISPATCH
// =============================================================================

// Dispatcher publishes after commit and swallows failures into the log.
type Dispatcher struct {
	pub     Publisher
	log     *zap.Logger
	timeout time.Duration
}

func NewDispatcher(pub Publisher, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if pub == nil {
		pub = NewLogPublisher(log)
	}
	return &Dispatcher{pub: pub, log: log, timeout: 5 * time.Second}
}

// Emit publishes events on a context detached from the request, so a client
// disconnect after commit does not drop them.
func (d *Dispatcher) Emit(ctx context.Context, events ...Event) {
	if len(events) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := d.pub.Publish(pubCtx, events...); err != nil {
		d.log.Warn("event publish failed",
			zap.String("type", string(events[0].Type)),
			zap.Int("count", len(events)),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) Close() error {
	return d.pub.Close()
}
