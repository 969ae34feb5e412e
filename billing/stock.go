package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockResult is the outcome of one Apply.
type StockResult struct {
	Product  string
	Previous decimal.Decimal
	NewStock decimal.Decimal
	LowStock bool
}

// StockLedger is the only writer of Product.StockQuantity.
type StockLedger struct {
	policy Policy
}

func NewStockLedger(policy Policy) *StockLedger {
	return &StockLedger{policy: policy}
}

// StockChange describes one signed delta.
type StockChange struct {
	Product   string
	Delta     decimal.Decimal // negative for a sale
	Type      MovementType
	Reference string
	Actor     string
}

// Apply moves the stock of one product and records the movement. It fails
// with *InsufficientStockError if the result would be negative; nothing is
// written in that case.
func (l *StockLedger) Apply(ctx context.Context, tx Tx, c StockChange) (StockResult, error) {
	if c.Product == "" {
		return StockResult{}, invalid("product", "product is required")
	}
	p, err := tx.GetProduct(ctx, c.Product)
	if err != nil {
		return StockResult{}, err
	}

	next := p.StockQuantity.Add(c.Delta)
	if next.IsNegative() {
		requested := c.Delta.Neg()
		return StockResult{}, &InsufficientStockError{
			Product:   p.Name,
			Available: p.StockQuantity,
			Requested: requested,
			Shortfall: requested.Sub(p.StockQuantity),
		}
	}

	if err := tx.SetProductStock(ctx, p.Name, next); err != nil {
		return StockResult{}, err
	}
	err = tx.InsertStockMovement(ctx, StockMovement{
		ID:        uuid.NewString(),
		Product:   p.Name,
		Type:      c.Type,
		Qty:       c.Delta,
		Resulting: next,
		Reference: c.Reference,
		CreatedBy: c.Actor,
		CreatedAt: l.policy.now(),
	})
	if err != nil {
		return StockResult{}, err
	}

	return StockResult{
		Product:  p.Name,
		Previous: p.StockQuantity,
		NewStock: next,
		LowStock: next.LessThanOrEqual(p.MinStockThreshold),
	}, nil
}
