package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/ledger-engine/billing"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &billing.ValidationError{Field: "qty", Message: "bad"}, http.StatusBadRequest, CodeValidation},
		{"permission", &billing.PermissionError{ActorID: "x", Missing: billing.PermDeleteInvoice}, http.StatusForbidden, CodePermission},
		{"not found", &billing.NotFoundError{Kind: "invoice", Ref: "INV-1"}, http.StatusNotFound, CodeNotFound},
		{"edit window", &billing.EditWindowError{InvoiceNumber: "INV-1", EditableUntil: time.Now()}, http.StatusConflict, CodeEditWindow},
		{"stock", &billing.InsufficientStockError{Product: "A"}, http.StatusConflict, CodeInsufficientStock},
		{"duplicate", fmt.Errorf("insert customer: %w", billing.ErrDuplicate), http.StatusConflict, CodeDuplicate},
		{"replayed", errDuplicateRequest, http.StatusConflict, CodeDuplicateRequest},
		{"contention", billing.NewContentionError("lock", context.DeadlineExceeded), http.StatusServiceUnavailable, CodeUnavailable},
		{"storage", billing.NewStorageError("commit", errors.New("disk full")), http.StatusServiceUnavailable, CodeUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := statusFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestFail_HidesStorageDetails(t *testing.T) {
	// GIVEN: A storage failure carrying driver text
	core, logs := observer.New(zapcore.ErrorLevel)
	h := &Handler{Log: zap.New(core)}
	err := billing.NewStorageError("commit", errors.New("pq: connection reset by peer"))

	// WHEN: Reporting it
	rec := httptest.NewRecorder()
	h.fail(rec, httptest.NewRequest(http.MethodPost, "/api/invoices", nil), err)

	// THEN: The client sees a retryable 503 without internals; the log has them
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "connection reset")
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].ContextMap()["error"], "connection reset")
}

func TestDecode_ReportsJSONFieldPath(t *testing.T) {
	h := &Handler{validate: newValidator()}
	body := `{"customer_id": 1, "items": [{"product": "A", "qty": "1"}, {"qty": "2"}]}`

	var req CreateInvoiceRequest
	err := h.decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), &req)

	var ve *billing.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "items[1].product", ve.Field)
	assert.Equal(t, "is required", ve.Message)
}

func TestDecode_BodyTooLarge(t *testing.T) {
	h := &Handler{validate: newValidator()}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name": "`+strings.Repeat("x", 100)+`"}`))
	r.Body = http.MaxBytesReader(rec, r.Body, 16)

	var req CreateCustomerRequest
	err := h.decode(r, &req)

	assert.ErrorIs(t, err, billing.ErrValidation)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")
}
