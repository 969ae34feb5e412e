package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/ledger-engine/billing"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func invoiceResult() *billing.InvoiceResult {
	return &billing.InvoiceResult{
		Invoice: billing.Invoice{
			Number:     "INV-202610-0100",
			CustomerID: 7,
			SalesmanID: "alice",
			Total:      decimal.RequireFromString("1320"),
		},
		Delta:          decimal.RequireFromString("1320"),
		PendingBalance: decimal.RequireFromString("1320"),
		LowStock: []billing.StockResult{
			{Product: "ProductB", NewStock: decimal.RequireFromString("1"), LowStock: true},
		},
	}
}

func TestForInvoice(t *testing.T) {
	evs := ForInvoice(invoiceResult(), false)

	require.Len(t, evs, 2)
	assert.Equal(t, InvoiceCreated, evs[0].Type)
	assert.Equal(t, "customer:7", evs[0].Key)
	assert.NotEmpty(t, evs[0].ID)
	assert.Equal(t, StockLow, evs[1].Type)
	assert.Equal(t, "product:ProductB", evs[1].Key)

	assert.Equal(t, InvoiceEdited, ForInvoice(invoiceResult(), true)[0].Type)
}

func TestForPayment_NoopHasNoEvent(t *testing.T) {
	assert.Empty(t, ForPayment(&billing.PaymentResult{CustomerID: 7}))
	assert.Len(t, ForPayment(&billing.PaymentResult{PaymentID: "p1", CustomerID: 7}), 1)
}

func TestKafkaPublisher_WritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)

	require.NoError(t, p.Publish(context.Background(), ForInvoice(invoiceResult(), false)...))

	require.Len(t, w.msgs, 2)
	msg := w.msgs[0]
	assert.Equal(t, "customer:7", string(msg.Key))
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, string(InvoiceCreated), string(msg.Headers[0].Value))

	var body struct {
		Type    string `json:"type"`
		Payload struct {
			Number string `json:"number"`
			Total  string `json:"total"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "invoice.created", body.Type)
	assert.Equal(t, "INV-202610-0100", body.Payload.Number)
	assert.Equal(t, "1320", body.Payload.Total)
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Type: StockLow}), ErrClosed)
}

func TestDispatcher_LogsFailuresInsteadOfReturning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	w := &fakeWriter{err: errors.New("broker down")}
	d := NewDispatcher(NewKafkaPublisherWithWriter(w), zap.New(core))

	d.Emit(context.Background(), ForDelete(&billing.DeleteResult{Number: "INV-1", CustomerID: 3})...)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "event publish failed", entry.Message)
	assert.Equal(t, string(InvoiceDeleted), entry.ContextMap()["type"])
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), ForStock(billing.StockResult{Product: "A", LowStock: true})...))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "stock.low", logs.All()[0].ContextMap()["type"])
}
