package billing

import (
	"go.uber.org/zap"
)

// Engine wires the components over one Store.
type Engine struct {
	Store    Store
	Policy   Policy
	Sequence *SequenceGenerator
	Stock    *StockLedger
	Ledger   *TransactionLedger
	Balances *BalanceTracker
	Invoices *InvoiceService
	Payments *PaymentService
	Catalog  *Catalog
	Auditor  *Auditor
	Reports  *Reports
}

// New validates the policy and builds an engine. log may be nil.
func New(store Store, policy Policy, log *zap.Logger) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing")

	seq := NewSequenceGenerator(policy)
	stock := NewStockLedger(policy)
	ledger := NewTransactionLedger(policy)
	balances := NewBalanceTracker(ledger)

	return &Engine{
		Store:    store,
		Policy:   policy,
		Sequence: seq,
		Stock:    stock,
		Ledger:   ledger,
		Balances: balances,
		Invoices: NewInvoiceService(store, policy, seq, stock, balances, log.Named("invoice")),
		Payments: NewPaymentService(store, policy, balances, log.Named("payment")),
		Catalog:  NewCatalog(store, policy, stock, ledger, log.Named("catalog")),
		Auditor:  NewAuditor(store, policy, balances, log.Named("audit")),
		Reports:  NewReports(store),
	}, nil
}
