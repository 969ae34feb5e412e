package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentRequest targets an invoice or, with no invoice, a customer account.
type PaymentRequest struct {
	InvoiceNumber InvoiceNumber
	CustomerID    CustomerID
	Amount        decimal.Decimal
	Method        PaymentMethod
	Date          time.Time
	Reference     string
	Actor         Actor
}

type PaymentResult struct {
	PaymentID      string
	CustomerID     CustomerID
	InvoiceNumber  InvoiceNumber
	Amount         decimal.Decimal
	PendingBalance decimal.Decimal
	InvoicePaid    decimal.Decimal
	InvoiceStatus  InvoiceStatus // empty for account payments
}

// PaymentService records money received and re-derives balances.
type PaymentService struct {
	store    Store
	policy   Policy
	balances *BalanceTracker
	log      *zap.Logger
}

func NewPaymentService(store Store, policy Policy, balances *BalanceTracker, log *zap.Logger) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{store: store, policy: policy, balances: balances, log: log}
}

// RecordPayment adds a positive amount against an invoice or a customer.
func (s *PaymentService) RecordPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, invalid("amount", "must be greater than zero")
	}
	if req.InvoiceNumber == "" && req.CustomerID <= 0 {
		return nil, invalid("invoice_number", "an invoice or a customer is required")
	}
	if err := s.checkCommon(&req); err != nil {
		return nil, err
	}

	var res *PaymentResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		res, err = s.record(ctx, tx, req, req.Amount, "Payment")
		return err
	})
	s.logResult("payment recorded", res, err)
	return res, err
}

// SetReceived moves an invoice's received amount to desired. The difference
// is booked as a payment, negative when it corrects an earlier overstatement.
func (s *PaymentService) SetReceived(ctx context.Context, number InvoiceNumber, desired decimal.Decimal, req PaymentRequest) (*PaymentResult, error) {
	if desired.IsNegative() {
		return nil, invalid("received", "must not be negative")
	}
	req.InvoiceNumber = number
	if err := s.checkCommon(&req); err != nil {
		return nil, err
	}

	var res *PaymentResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.LockInvoice(ctx, number)
		if err != nil {
			return err
		}
		delta := desired.Sub(inv.PaidAmount)
		if delta.IsZero() {
			c, err := tx.GetCustomer(ctx, inv.CustomerID)
			if err != nil {
				return err
			}
			res = &PaymentResult{
				CustomerID:     inv.CustomerID,
				InvoiceNumber:  number,
				Amount:         decimal.Zero,
				PendingBalance: c.PendingBalance,
				InvoicePaid:    inv.PaidAmount,
				InvoiceStatus:  inv.Status,
			}
			return nil
		}
		desc := "Payment"
		if delta.IsNegative() {
			desc = "Payment correction"
		}
		res, err = s.record(ctx, tx, req, delta, desc)
		return err
	})
	s.logResult("received amount set", res, err)
	return res, err
}

// Pending returns the cached pending balance of a customer.
func (s *PaymentService) Pending(ctx context.Context, id CustomerID) (decimal.Decimal, error) {
	var pending decimal.Decimal
	err := s.store.View(ctx, func(tx Tx) error {
		c, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		pending = c.PendingBalance
		return nil
	})
	return pending, err
}

func (s *PaymentService) checkCommon(req *PaymentRequest) error {
	if err := req.Actor.Require(PermRecordPayment); err != nil {
		return err
	}
	if req.Method == "" {
		req.Method = MethodCash
	}
	if !req.Method.Valid() {
		return invalid("method", "unknown payment method %q", req.Method)
	}
	req.Reference = strings.TrimSpace(req.Reference)
	return nil
}

// record locks invoice then customer, writes the payment and updates the
// invoice's paid amount.
func (s *PaymentService) record(ctx context.Context, tx Tx, req PaymentRequest, amount decimal.Decimal, desc string) (*PaymentResult, error) {
	res := &PaymentResult{CustomerID: req.CustomerID, InvoiceNumber: req.InvoiceNumber, Amount: amount}

	var inv *Invoice
	if req.InvoiceNumber != "" {
		locked, err := tx.LockInvoice(ctx, req.InvoiceNumber)
		if err != nil {
			return nil, err
		}
		if req.CustomerID != 0 && req.CustomerID != locked.CustomerID {
			return nil, invalid("customer_id", "invoice %s belongs to another customer", locked.Number)
		}
		inv = &locked
		res.CustomerID = locked.CustomerID
	}
	if _, err := tx.LockCustomer(ctx, res.CustomerID); err != nil {
		return nil, err
	}

	date := req.Date
	if date.IsZero() {
		date = s.policy.now()
	}
	if inv != nil {
		desc = fmt.Sprintf("%s on invoice %s", desc, inv.Number)
	}
	p := Payment{
		Date:          dateOnly(date),
		CustomerID:    res.CustomerID,
		InvoiceNumber: req.InvoiceNumber,
		Amount:        amount,
		Method:        req.Method,
		Reference:     req.Reference,
		ReceivedBy:    req.Actor.ID,
	}
	entry, err := recordPaymentTx(ctx, tx, s.balances, s.policy, p, desc)
	if err != nil {
		return nil, err
	}
	res.PaymentID = entry.paymentID
	res.PendingBalance = entry.ResultingBalance

	if inv != nil {
		paid := inv.PaidAmount.Add(amount)
		status := DeriveStatus(paid, inv.Total)
		if err := tx.UpdateInvoicePayment(ctx, inv.Number, paid, status); err != nil {
			return nil, err
		}
		res.InvoicePaid = paid
		res.InvoiceStatus = status
	}
	return res, nil
}

func (s *PaymentService) logResult(msg string, res *PaymentResult, err error) {
	if err != nil {
		if IsClientError(err) || IsNotFound(err) {
			s.log.Info("payment refused", zap.Error(err))
		} else {
			s.log.Error("payment failed", zap.Error(err))
		}
		return
	}
	s.log.Info(msg,
		zap.String("payment_id", res.PaymentID),
		zap.Int64("customer_id", int64(res.CustomerID)),
		zap.String("invoice", string(res.InvoiceNumber)),
		zap.String("amount", res.Amount.String()),
		zap.String("pending", res.PendingBalance.String()))
}

type paymentEntry struct {
	LedgerEntry
	paymentID string
}

// recordPaymentTx inserts p and its matching payment ledger entry.
func recordPaymentTx(ctx context.Context, tx Tx, balances *BalanceTracker, policy Policy, p Payment, desc string) (paymentEntry, error) {
	p.ID = uuid.NewString()
	p.CreatedAt = policy.now()
	if err := tx.InsertPayment(ctx, p); err != nil {
		return paymentEntry{}, err
	}
	entry, err := balances.ApplyDelta(ctx, tx, LedgerEntry{
		Date:          p.Date,
		CustomerID:    p.CustomerID,
		InvoiceNumber: p.InvoiceNumber,
		Type:          EntryPayment,
		Debit:         decimal.Zero,
		Credit:        p.Amount,
		Description:   desc,
		CreatedBy:     p.ReceivedBy,
	}, decimal.Zero)
	if err != nil {
		return paymentEntry{}, err
	}
	return paymentEntry{LedgerEntry: entry, paymentID: p.ID}, nil
}
