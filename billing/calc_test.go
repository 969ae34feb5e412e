package billing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/billing"
)

func TestComputeTotals_Scenario(t *testing.T) {
	policy := billing.DefaultPolicy()
	lines := policy.PriceLines([]billing.InvoiceItem{
		{Product: "ProductA", Qty: d("2"), UnitPrice: d("500"), UnitCost: d("300")},
		{Product: "ProductB", Qty: d("1"), UnitPrice: d("200"), UnitCost: d("120")},
	})

	totals, err := policy.ComputeTotals(lines, d("10"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	requireDec(t, "1200", totals.Subtotal)
	requireDec(t, "120", totals.TaxAmount)
	requireDec(t, "1320", totals.Total)
	requireDec(t, "720", totals.TotalCost)
	requireDec(t, "480", totals.GrossProfit)
	assert.Equal(t, 1, lines[1].LineIndex)
	requireDec(t, "400", lines[0].Profit)
}

func TestComputeTotals_DiscountAndPendingAdded(t *testing.T) {
	policy := billing.DefaultPolicy()
	lines := policy.PriceLines([]billing.InvoiceItem{
		{Product: "X", Qty: d("3"), UnitPrice: d("33.33"), UnitCost: d("20")},
	})

	totals, err := policy.ComputeTotals(lines, d("7.5"), d("10"), d("250"))
	require.NoError(t, err)

	// 99.99 * 7.5% = 7.49925 -> 7.50
	requireDec(t, "99.99", totals.Subtotal)
	requireDec(t, "7.5", totals.TaxAmount)
	requireDec(t, "347.49", totals.Total)
}

func TestComputeTotals_RoundsHalfUp(t *testing.T) {
	policy := billing.DefaultPolicy()
	lines := policy.PriceLines([]billing.InvoiceItem{
		{Product: "X", Qty: d("1"), UnitPrice: d("0.5")},
	})

	totals, err := policy.ComputeTotals(lines, d("5"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	// 0.025 -> 0.03
	requireDec(t, "0.03", totals.TaxAmount)
}

func TestComputeTotals_Rejects(t *testing.T) {
	policy := billing.DefaultPolicy()
	lines := policy.PriceLines([]billing.InvoiceItem{{Product: "X", Qty: d("1"), UnitPrice: d("100")}})

	cases := []struct {
		name                   string
		tax, discount, pending string
		field                  string
	}{
		{"negative tax", "-1", "0", "0", "tax_rate"},
		{"tax above 100", "101", "0", "0", "tax_rate"},
		{"negative discount", "0", "-5", "0", "discount"},
		{"negative pending added", "0", "0", "-1", "pending_added"},
		{"discount larger than bill", "0", "150", "0", "discount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := policy.ComputeTotals(lines, d(tc.tax), d(tc.discount), d(tc.pending))
			var ve *billing.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, billing.StatusPending, billing.DeriveStatus(d("0"), d("100")))
	assert.Equal(t, billing.StatusPartial, billing.DeriveStatus(d("40"), d("100")))
	assert.Equal(t, billing.StatusPaid, billing.DeriveStatus(d("100"), d("100")))
	assert.Equal(t, billing.StatusPaid, billing.DeriveStatus(d("120"), d("100")))
	assert.Equal(t, billing.StatusPaid, billing.DeriveStatus(d("0"), d("0")))
}

func TestPolicy_InvoiceNumberFormat(t *testing.T) {
	policy := billing.DefaultPolicy()
	assert.Equal(t, billing.InvoiceNumber("INV-202610-0100"), policy.FormatNumber("202610", 100))
	assert.Equal(t, billing.InvoiceNumber("INV-202610-12345"), policy.FormatNumber("202610", 12345))
}

func TestPolicy_Validate(t *testing.T) {
	p := billing.DefaultPolicy()
	require.NoError(t, p.Validate())

	p.PeriodLayout = ""
	assert.Error(t, p.Validate())

	p = billing.DefaultPolicy()
	p.DefaultTaxRate = d("120")
	assert.Error(t, p.Validate())
}
