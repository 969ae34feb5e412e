/*
scheduler.go - Periodic ledger verification

PURPOSE:
  Periodically replays every customer ledger and compares it with the cached
  pending balances, invoice bookings and stock levels. Drift is logged at
  error level; nothing is repaired automatically.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Read-only: uses Auditor.VerifyAll, which only opens View transactions
  - Keeps the most recent report for GET-style inspection (LastReport)

USAGE:
  scheduler := NewAuditScheduler(engine.Auditor, logger)
  scheduler.CheckInterval = cfg.Audit.Interval
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Audit endpoint (manual verification)
  - billing/audit.go: Auditor
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/ledger-engine/billing"
)

// Verifier is the part of billing.Auditor the scheduler needs.
type Verifier interface {
	VerifyAll(ctx context.Context) (billing.AuditReport, error)
}

// AuditScheduler runs ledger verification on a ticker.
type AuditScheduler struct {
	Auditor       Verifier
	CheckInterval time.Duration
	Timeout       time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *billing.AuditReport
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(auditor Verifier, log *zap.Logger) *AuditScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditScheduler{
		Auditor:       auditor,
		CheckInterval: 1 * time.Hour,
		Timeout:       5 * time.Minute,
		Enabled:       true,
		log:           log.Named("audit-scheduler"),
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.log.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight check.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("stopped")
	}
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.check(stop)

	for {
		select {
		case <-ticker.C:
			s.check(stop)
		case <-stop:
			return
		}
	}
}

func (s *AuditScheduler) check(stop <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	s.RunNow(ctx)
}

// RunNow performs one verification and records the report.
func (s *AuditScheduler) RunNow(ctx context.Context) (billing.AuditReport, error) {
	start := time.Now()
	report, err := s.Auditor.VerifyAll(ctx)
	if err != nil {
		s.log.Error("verification failed", zap.Error(err))
		return report, err
	}

	s.lastMu.Lock()
	s.last = &report
	s.lastMu.Unlock()

	if report.OK() {
		s.log.Info("ledger consistent",
			zap.Int("customers", report.Customers),
			zap.Duration("duration", time.Since(start)),
		)
		return report, nil
	}

	for _, d := range report.Drift {
		s.log.Error("pending balance drift",
			zap.Int64("customer_id", int64(d.CustomerID)),
			zap.String("customer", d.Name),
			zap.String("cached", d.Cached.String()),
			zap.String("replayed", d.Replay.Pending.String()),
		)
	}
	for _, n := range report.MissingEntries {
		s.log.Error("invoice without ledger entry", zap.String("invoice", string(n)))
	}
	for _, p := range report.NegativeStock {
		s.log.Error("negative stock", zap.String("product", p))
	}
	return report, nil
}

// LastReport returns the most recent report, if any.
func (s *AuditScheduler) LastReport() (billing.AuditReport, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return billing.AuditReport{}, false
	}
	return *s.last, true
}
