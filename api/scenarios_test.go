package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_LoadEach(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			// GIVEN: A fresh server
			s := newTestServer(t)

			// WHEN: Loading the scenario
			rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": sc.ID})

			// THEN: It loads and the ledger stays consistent
			requireStatus(t, rec, http.StatusOK)
			rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
			requireStatus(t, rec, http.StatusOK)
			assert.Equal(t, sc.ID, decodeBody[ScenarioDTO](t, rec).ID)

			audit := decodeBody[AuditReportDTO](t, s.do(http.MethodGet, "/api/audit", nil))
			assert.True(t, audit.OK)
			s.f.CheckInvariants()
		})
	}
}

func TestScenario_RetailDay(t *testing.T) {
	s := newTestServer(t)
	requireStatus(t, s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "retail-day"}), http.StatusOK)

	customers := decodeBody[[]CustomerDTO](t, s.do(http.MethodGet, "/api/customers", nil))
	var hassan *CustomerDTO
	for i := range customers {
		if customers[i].Name == "Hassan General Store" {
			hassan = &customers[i]
		}
	}
	require.NotNil(t, hassan)
	// 17640 billed, 5000 at the counter, 3000 by transfer.
	requireDec(t, "9640", hassan.PendingBalance)
	requireDec(t, "30", s.f.Stock("Rice 25kg"))
	requireDec(t, "180", s.f.Stock("Sugar 1kg"))
}

func TestScenario_AccountCredit(t *testing.T) {
	s := newTestServer(t)
	requireStatus(t, s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "account-credit"}), http.StatusOK)

	customers := decodeBody[[]CustomerDTO](t, s.do(http.MethodGet, "/api/customers", nil))
	for _, c := range customers {
		if c.Name == "Bilal Traders" {
			requireDec(t, "700", c.PendingBalance)
			return
		}
	}
	t.Fatal("Bilal Traders not created")
}

func TestScenario_LowStock(t *testing.T) {
	s := newTestServer(t)
	requireStatus(t, s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "low-stock"}), http.StatusOK)

	low := decodeBody[[]ProductDTO](t, s.do(http.MethodGet, "/api/products?low_stock=true", nil))
	require.Len(t, low, 1)
	assert.Equal(t, "Tea 500g", low[0].Name)
	requireDec(t, "4", low[0].StockQuantity)
}

func TestScenario_EditAndDeleteRestoresStock(t *testing.T) {
	s := newTestServer(t)
	requireStatus(t, s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "edit-and-delete"}), http.StatusOK)

	// 200 - 8 kept; the deleted invoice's 2 came back.
	requireDec(t, "192", s.f.Stock("Sugar 1kg"))
	invoices := decodeBody[[]InvoiceDTO](t, s.do(http.MethodGet, "/api/invoices", nil))
	require.Len(t, invoices, 1)
	requireDec(t, "720", invoices[0].Total)
}

func TestScenarios_RejectsUnknownAndReload(t *testing.T) {
	s := newTestServer(t)

	requireStatus(t, s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"}), http.StatusBadRequest)
	requireStatus(t, s.do(http.MethodPost, "/api/scenarios/load", map[string]string{}), http.StatusBadRequest)

	requireStatus(t, s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "low-stock"}), http.StatusOK)
	requireStatus(t, s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "low-stock"}), http.StatusConflict)

	list := decodeBody[[]ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios", nil))
	assert.Len(t, list, len(scenarios))
}
