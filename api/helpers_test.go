package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/ledger-engine/billing/billingtest"
	"github.com/warp/ledger-engine/billing/store"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/idempotency"
)

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testServer struct {
	t       *testing.T
	f       *billingtest.Fixture
	h       *Handler
	router  http.Handler
	events  *recordingPublisher
	idemKey *idempotency.Memory
}

// newTestServer serves a seeded fixture (ProductA, ProductB, one customer)
// over the in-memory store.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	f := billingtest.NewFixture(t, store.NewMemory())
	log := zaptest.NewLogger(t)

	pub := &recordingPublisher{}
	idem := idempotency.NewMemory(time.Minute)
	t.Cleanup(func() { idem.Close() })

	h := NewHandler(f.Engine, idem, events.NewDispatcher(pub, log), log)
	return &testServer{
		t:       t,
		f:       f,
		h:       h,
		router:  NewRouter(h, DefaultRouterOptions()),
		events:  pub,
		idemKey: idem,
	}
}

type reqOpt func(*http.Request)

func as(id, role string) reqOpt {
	return func(r *http.Request) {
		r.Header.Set(HeaderActorID, id)
		r.Header.Set(HeaderActorRole, role)
	}
}

func asSalesman() reqOpt { return as(billingtest.Salesman.ID, "salesman") }
func asAdmin() reqOpt    { return as(billingtest.Admin.ID, "admin") }

func withKey(key string) reqOpt {
	return func(r *http.Request) { r.Header.Set(HeaderIdempotencyKey, key) }
}

func (s *testServer) do(method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equalf(t, want, rec.Code, "body: %s", rec.Body.String())
}

// scenarioInvoice is 2 x ProductA + 1 x ProductB at 10% tax: total 1320.
func (s *testServer) scenarioInvoice() map[string]any {
	return map[string]any{
		"customer_id": int64(s.f.Customer.ID),
		"items": []map[string]any{
			{"product": "ProductA", "qty": "2", "unit_price": "500"},
			{"product": "ProductB", "qty": "1", "unit_price": "200"},
		},
		"tax_rate": "10",
	}
}

func (s *testServer) createScenarioInvoice() InvoiceResultDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/invoices", s.scenarioInvoice(), asSalesman())
	requireStatus(s.t, rec, http.StatusCreated)
	return decodeBody[InvoiceResultDTO](s.t, rec)
}
