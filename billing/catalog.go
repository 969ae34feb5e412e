package billing

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductInput creates or updates a product. InitialStock is only used when
// the product is new; afterwards stock moves through Restock/AdjustStock.
type ProductInput struct {
	Name              string
	Unit              string
	SellingPrice      decimal.Decimal
	CostPrice         decimal.Decimal
	MinStockThreshold decimal.Decimal
	InitialStock      decimal.Decimal
}

type CustomerInput struct {
	Name    string
	Address string
	Phone   string
}

// Catalog manages products and customers.
type Catalog struct {
	store  Store
	policy Policy
	stock  *StockLedger
	ledger *TransactionLedger
	log    *zap.Logger
}

func NewCatalog(store Store, policy Policy, stock *StockLedger, ledger *TransactionLedger, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{store: store, policy: policy, stock: stock, ledger: ledger, log: log}
}

// UpsertProduct reports whether the product was created.
func (c *Catalog) UpsertProduct(ctx context.Context, actor Actor, in ProductInput) (Product, bool, error) {
	if err := actor.Require(PermManageCatalog); err != nil {
		return Product{}, false, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Product{}, false, invalid("name", "product name is required")
	}
	if in.SellingPrice.IsNegative() || in.CostPrice.IsNegative() {
		return Product{}, false, invalid("price", "prices must not be negative")
	}
	if in.MinStockThreshold.IsNegative() || in.InitialStock.IsNegative() {
		return Product{}, false, invalid("stock", "stock figures must not be negative")
	}
	if in.Unit == "" {
		in.Unit = "pcs"
	}

	var (
		out     Product
		created bool
	)
	err := c.store.WithTx(ctx, func(tx Tx) error {
		locked, err := tx.LockProducts(ctx, []string{in.Name})
		if err != nil {
			return err
		}
		now := c.policy.now()
		existing, ok := locked[in.Name]
		if ok {
			existing.Unit = in.Unit
			existing.SellingPrice = in.SellingPrice
			existing.CostPrice = in.CostPrice
			existing.MinStockThreshold = in.MinStockThreshold
			existing.UpdatedAt = now
			if err := tx.UpdateProductDetails(ctx, existing); err != nil {
				return err
			}
			out = existing
			return nil
		}

		created = true
		p := Product{
			Name:              in.Name,
			Unit:              in.Unit,
			SellingPrice:      in.SellingPrice,
			CostPrice:         in.CostPrice,
			StockQuantity:     decimal.Zero,
			MinStockThreshold: in.MinStockThreshold,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.InsertProduct(ctx, p); err != nil {
			return err
		}
		if in.InitialStock.IsPositive() {
			r, err := c.stock.Apply(ctx, tx, StockChange{
				Product: p.Name, Delta: in.InitialStock, Type: MovementRestock,
				Reference: "initial stock", Actor: actor.ID,
			})
			if err != nil {
				return err
			}
			p.StockQuantity = r.NewStock
		}
		out = p
		return nil
	})
	if err != nil {
		return Product{}, false, err
	}
	c.log.Info("product saved", zap.String("product", out.Name), zap.Bool("created", created))
	return out, created, nil
}

// Restock adds a positive quantity.
func (c *Catalog) Restock(ctx context.Context, actor Actor, product string, qty decimal.Decimal, ref string) (StockResult, error) {
	if !qty.IsPositive() {
		return StockResult{}, invalid("qty", "must be greater than zero")
	}
	return c.moveStock(ctx, actor, StockChange{Product: product, Delta: qty, Type: MovementRestock, Reference: ref, Actor: actor.ID})
}

// AdjustStock applies a signed correction, e.g. after a stock count.
func (c *Catalog) AdjustStock(ctx context.Context, actor Actor, product string, delta decimal.Decimal, reason string) (StockResult, error) {
	if delta.IsZero() {
		return StockResult{}, invalid("delta", "must not be zero")
	}
	if strings.TrimSpace(reason) == "" {
		return StockResult{}, invalid("reason", "a reason is required")
	}
	return c.moveStock(ctx, actor, StockChange{Product: product, Delta: delta, Type: MovementAdjustment, Reference: reason, Actor: actor.ID})
}

func (c *Catalog) moveStock(ctx context.Context, actor Actor, ch StockChange) (StockResult, error) {
	if err := actor.Require(PermManageCatalog); err != nil {
		return StockResult{}, err
	}
	var r StockResult
	err := c.store.WithTx(ctx, func(tx Tx) error {
		locked, err := tx.LockProducts(ctx, []string{ch.Product})
		if err != nil {
			return err
		}
		if _, ok := locked[ch.Product]; !ok {
			return &NotFoundError{Kind: "product", Ref: ch.Product}
		}
		r, err = c.stock.Apply(ctx, tx, ch)
		return err
	})
	if err != nil {
		return StockResult{}, err
	}
	c.log.Info("stock moved",
		zap.String("product", r.Product),
		zap.String("type", string(ch.Type)),
		zap.String("delta", ch.Delta.String()),
		zap.String("stock", r.NewStock.String()),
		zap.Bool("low_stock", r.LowStock))
	return r, nil
}

func (c *Catalog) GetProduct(ctx context.Context, name string) (Product, error) {
	var p Product
	err := c.store.View(ctx, func(tx Tx) error {
		var err error
		p, err = tx.GetProduct(ctx, name)
		return err
	})
	return p, err
}

func (c *Catalog) ListProducts(ctx context.Context, lowStockOnly bool) ([]Product, error) {
	var out []Product
	err := c.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListProducts(ctx, lowStockOnly)
		return err
	})
	return out, err
}

func (c *Catalog) StockMovements(ctx context.Context, product string) ([]StockMovement, error) {
	var out []StockMovement
	err := c.store.View(ctx, func(tx Tx) error {
		if _, err := tx.GetProduct(ctx, product); err != nil {
			return err
		}
		var err error
		out, err = tx.StockMovements(ctx, product)
		return err
	})
	return out, err
}

// CreateCustomer fails with ErrDuplicate if (name, address) exists.
func (c *Catalog) CreateCustomer(ctx context.Context, in CustomerInput) (Customer, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	if in.Name == "" {
		return Customer{}, invalid("name", "customer name is required")
	}
	cust := Customer{
		Name:           in.Name,
		Address:        in.Address,
		Phone:          strings.TrimSpace(in.Phone),
		PendingBalance: decimal.Zero,
		TotalSales:     decimal.Zero,
		CreatedAt:      c.policy.now(),
	}
	err := c.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertCustomer(ctx, &cust)
	})
	if err != nil {
		return Customer{}, err
	}
	c.log.Info("customer created", zap.Int64("customer_id", int64(cust.ID)), zap.String("name", cust.Name))
	return cust, nil
}

func (c *Catalog) GetCustomer(ctx context.Context, id CustomerID) (Customer, error) {
	var cust Customer
	err := c.store.View(ctx, func(tx Tx) error {
		var err error
		cust, err = tx.GetCustomer(ctx, id)
		return err
	})
	return cust, err
}

func (c *Catalog) ListCustomers(ctx context.Context) ([]Customer, error) {
	var out []Customer
	err := c.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListCustomers(ctx)
		return err
	})
	return out, err
}

// CustomerStatement lists a customer's ledger with running balances.
func (c *Catalog) CustomerStatement(ctx context.Context, id CustomerID) ([]StatementLine, error) {
	var lines []StatementLine
	err := c.store.View(ctx, func(tx Tx) error {
		if _, err := tx.GetCustomer(ctx, id); err != nil {
			return err
		}
		entries, err := c.ledger.Entries(ctx, tx, id)
		if err != nil {
			return err
		}
		lines = Statement(entries)
		return nil
	})
	return lines, err
}
