package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the tunable business rules of the engine.
type Policy struct {
	InvoicePrefix     string
	SequenceBase      int64
	PeriodLayout      string // time layout for the sequence period key
	EditWindow        time.Duration
	EnforceEditWindow bool
	StrictPricing     bool // block below-cost prices instead of warning
	CurrencyScale     int32
	DefaultTaxRate    decimal.Decimal

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultPolicy mirrors the behaviour of the desktop app this engine serves.
func DefaultPolicy() Policy {
	return Policy{
		InvoicePrefix:     "INV-",
		SequenceBase:      100,
		PeriodLayout:      "200601",
		EditWindow:        24 * time.Hour,
		EnforceEditWindow: true,
		CurrencyScale:     2,
		DefaultTaxRate:    decimal.Zero,
	}
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// PeriodKey is the sequence scope for an invoice dated d.
func (p Policy) PeriodKey(d time.Time) string {
	return d.Format(p.PeriodLayout)
}

// FormatNumber renders e.g. INV-202610-0100.
func (p Policy) FormatNumber(periodKey string, n int64) InvoiceNumber {
	return InvoiceNumber(fmt.Sprintf("%s%s-%04d", p.InvoicePrefix, periodKey, n))
}

// Round applies the currency scale (half away from zero).
func (p Policy) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(p.CurrencyScale)
}

// Validate checks the policy itself; called once by New.
func (p Policy) Validate() error {
	if p.PeriodLayout == "" {
		return fmt.Errorf("policy: period layout is required")
	}
	if p.SequenceBase < 0 {
		return fmt.Errorf("policy: sequence base must be >= 0")
	}
	if p.CurrencyScale < 0 {
		return fmt.Errorf("policy: currency scale must be >= 0")
	}
	if p.EditWindow < 0 {
		return fmt.Errorf("policy: edit window must be >= 0")
	}
	if p.DefaultTaxRate.IsNegative() || p.DefaultTaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("policy: default tax rate must be within [0, 100]")
	}
	return nil
}
