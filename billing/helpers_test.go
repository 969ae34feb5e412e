package billing_test

import (
	"testing"

	"github.com/warp/ledger-engine/billing"
	"github.com/warp/ledger-engine/billing/billingtest"
	"github.com/warp/ledger-engine/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	d             = billingtest.D
	p             = billingtest.P
	requireDec    = billingtest.RequireDecimal
	admin         = billingtest.Admin
	salesman      = billingtest.Salesman
	scenarioItems = billingtest.ScenarioItems
)

func newFixture(t *testing.T, opts ...func(*billing.Policy)) *billingtest.Fixture {
	t.Helper()
	return billingtest.NewFixture(t, store.NewMemory(), opts...)
}
