package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/database"
	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/settlement"
)

func seedTable(t *testing.T, m *Memory, table int, prices ...string) *entity.Order {
	t.Helper()
	items := make([]entity.OrderItem, 0, len(prices))
	for i, p := range prices {
		items = append(items, entity.OrderItem{ProductID: int64(i + 1), Quantity: 1, UnitPrice: decimal.RequireFromString(p)})
	}
	order := &entity.Order{TableNumber: &table}
	require.NoError(t, m.CreateOrder(context.Background(), order, items))
	return order
}

func TestMemoryCreateOrderDerivesTotals(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	table := 3
	order := &entity.Order{TableNumber: &table}
	items := []entity.OrderItem{
		{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("4.25")},
		{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("3.00")},
	}
	require.NoError(t, m.CreateOrder(ctx, order, items))

	assert.Equal(t, "11.50", order.Total.StringFixed(2))
	assert.Equal(t, entity.OrderStatusPending, order.Status)

	got, err := m.ListItemsForOrders(ctx, []int64{order.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "8.50", got[0].Subtotal.StringFixed(2))
}

func TestMemoryListOpenOrdersSkipsClosed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	open := seedTable(t, m, 5, "10.00")
	closed := seedTable(t, m, 5, "5.00")
	seedTable(t, m, 6, "1.00")

	paid := entity.OrderStatusPaid
	require.NoError(t, m.UpdateOrder(ctx, closed.ID, OrderPatch{Status: &paid}))

	orders, err := m.ListOpenOrdersForTable(ctx, 5)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, open.ID, orders[0].ID)
}

func TestMemoryMarkItemPaidIsConditional(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	order := seedTable(t, m, 5, "20.00")
	items, err := m.ListItemsForOrders(ctx, []int64{order.ID})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, m.MarkItemPaid(ctx, items[0].ID, now, entity.PaymentMethodCard))
	err = m.MarkItemPaid(ctx, items[0].ID, now, entity.PaymentMethodCash)
	assert.ErrorIs(t, err, settlement.ErrItemAlreadySettled)

	got, err := m.GetItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentMethodCard, got.PaymentMethod)

	assert.ErrorIs(t, m.MarkItemPaid(ctx, 999, now, entity.PaymentMethodCash), ErrNotFound)
}

func TestMemoryGuardedUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	order := seedTable(t, m, 5, "20.00")

	stale := decimal.RequireFromString("5.00")
	next := decimal.RequireFromString("10.00")
	err := m.UpdateOrder(ctx, order.ID, OrderPatch{PaidAmount: &next, ExpectPaidAmount: &stale})
	assert.ErrorIs(t, err, ErrStaleOrder)

	zero := decimal.Zero
	require.NoError(t, m.UpdateOrder(ctx, order.ID, OrderPatch{PaidAmount: &next, ExpectPaidAmount: &zero}))

	cancelled := entity.OrderStatusCancelled
	require.NoError(t, m.UpdateOrder(ctx, order.ID, OrderPatch{Status: &cancelled}))
	paid := entity.OrderStatusPaid
	assert.ErrorIs(t, m.UpdateOrder(ctx, order.ID, OrderPatch{Status: &paid, ExpectOpen: true}), ErrStaleOrder)
}

func TestMemoryRunInTxRollsBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	order := seedTable(t, m, 5, "20.00", "15.00")
	items, err := m.ListItemsForOrders(ctx, []int64{order.ID})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		require.NoError(t, tx.InsertPayment(ctx, &entity.Payment{TableNumber: 5, OrderID: order.ID, Amount: decimal.RequireFromString("20.00")}))
		require.NoError(t, tx.MarkItemPaid(ctx, items[0].ID, time.Now(), entity.PaymentMethodCash))
		require.NoError(t, tx.DeleteUnpaidItem(ctx, items[1].ID))
		paid := decimal.RequireFromString("1.00")
		require.NoError(t, tx.UpdateOrder(ctx, order.ID, OrderPatch{PaidAmount: &paid}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Empty(t, m.Payments())
	after, err := m.ListItemsForOrders(ctx, []int64{order.ID})
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.False(t, after[0].IsPaid)
	got, err := m.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.IsZero())
}

func TestMemoryRunInTxSerialisesWriters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	order := seedTable(t, m, 5, "20.00", "15.00")

	boom := errors.New("boom")
	outside := make(chan error, 1)
	err := m.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		paid := decimal.RequireFromString("5.00")
		require.NoError(t, tx.UpdateOrder(ctx, order.ID, OrderPatch{PaidAmount: &paid}))

		go func() {
			next := decimal.RequireFromString("10.00")
			outside <- m.UpdateOrder(context.Background(), order.ID, OrderPatch{PaidAmount: &next})
		}()
		select {
		case err := <-outside:
			return fmt.Errorf("write landed inside a running transaction: %v", err)
		case <-time.After(20 * time.Millisecond):
		}

		waiting, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := m.GetOrder(waiting, order.ID)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, <-outside)

	got, err := m.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.PaidAmount.StringFixed(2))
}

func TestMemoryFailNext(t *testing.T) {
	m := NewMemory()
	outage := errors.New("connection refused")
	m.FailNext(outage)

	_, err := m.ListOpenOrdersForTable(context.Background(), 1)
	assert.ErrorIs(t, err, outage)

	_, err = m.ListOpenOrdersForTable(context.Background(), 1)
	assert.NoError(t, err)
}

func TestMemoryHonoursContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ListOpenOrdersForTable(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStoreFallsBackToMemory(t *testing.T) {
	store := NewStore(&database.Connections{Driver: "memory"}, zap.NewNop())

	_, ok := store.(*Memory)
	assert.True(t, ok)
}
