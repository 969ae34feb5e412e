package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/billing"
	"github.com/warp/ledger-engine/billing/billingtest"
	"github.com/warp/ledger-engine/billing/store"
)

func TestMemory_Suite(t *testing.T) {
	billingtest.RunStoreSuite(t, func(t *testing.T) billing.Store {
		return store.NewMemory()
	})
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx billing.Tx) error {
		require.NoError(t, tx.InsertProduct(ctx, billing.Product{Name: "Widget", StockQuantity: billingtest.D("3")}))
		c := billing.Customer{Name: "Acme"}
		require.NoError(t, tx.InsertCustomer(ctx, &c))
		_, err := tx.NextSequence(ctx, "INV-", "202610", 100)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, m.View(ctx, func(tx billing.Tx) error {
		_, err := tx.GetProduct(ctx, "Widget")
		assert.ErrorIs(t, err, billing.ErrNotFound)
		customers, err := tx.ListCustomers(ctx)
		require.NoError(t, err)
		assert.Empty(t, customers)
		return nil
	}))

	// The counter was rolled back too.
	require.NoError(t, m.WithTx(ctx, func(tx billing.Tx) error {
		n, err := tx.NextSequence(ctx, "INV-", "202610", 100)
		assert.Equal(t, int64(100), n)
		return err
	}))
}

func TestMemory_WithTx_TimesOutAsContention(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryWithTimeout(20 * time.Millisecond)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = m.WithTx(ctx, func(billing.Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := m.WithTx(ctx, func(billing.Tx) error { return nil })
	close(done)

	assert.ErrorIs(t, err, billing.ErrContention)
	assert.True(t, billing.IsRetryable(err))
}

func TestMemory_View_RejectsWrites(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	err := m.View(ctx, func(tx billing.Tx) error {
		return tx.InsertProduct(ctx, billing.Product{Name: "Widget"})
	})
	assert.ErrorIs(t, err, billing.ErrStorage)
}

func TestMemory_ReturnedInvoicesAreCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	inv := billing.Invoice{Number: "INV-1", Items: []billing.InvoiceItem{{Product: "A", Qty: billingtest.D("1")}}}
	require.NoError(t, m.WithTx(ctx, func(tx billing.Tx) error { return tx.InsertInvoice(ctx, &inv) }))

	require.NoError(t, m.View(ctx, func(tx billing.Tx) error {
		got, err := tx.GetInvoice(ctx, "INV-1")
		require.NoError(t, err)
		got.Items[0].Product = "mutated"
		again, err := tx.GetInvoice(ctx, "INV-1")
		require.NoError(t, err)
		assert.Equal(t, "A", again.Items[0].Product)
		return nil
	}))
}
