package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Additional-Code/tally/internal/database"
	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/migration"
	"github.com/Additional-Code/tally/internal/settlement"
)

func newSQLiteRepository(t *testing.T) *Repository {
	t.Helper()
	sqldb, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close() })

	mig, err := migration.NewForDB(sqldb, "sqlite3", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, mig.Up(context.Background()))

	db := bun.NewDB(sqldb, sqlitedialect.New())
	return NewRepository(&database.Connections{Writer: db, Reader: db, Driver: "sqlite"})
}

func createSQLTable(t *testing.T, repo *Repository, table int, prices ...string) *entity.Order {
	t.Helper()
	items := make([]entity.OrderItem, 0, len(prices))
	for i, p := range prices {
		items = append(items, entity.OrderItem{ProductID: int64(i + 1), Quantity: 1, UnitPrice: decimal.RequireFromString(p)})
	}
	order := &entity.Order{TableNumber: &table}
	require.NoError(t, repo.CreateOrder(context.Background(), order, items))
	return order
}

func TestRepositoryCreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	first := createSQLTable(t, repo, 4, "12.50", "7.50")
	second := createSQLTable(t, repo, 4, "10.00")
	createSQLTable(t, repo, 5, "3.00")

	orders, err := repo.ListOpenOrdersForTable(ctx, 4)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, first.ID, orders[0].ID)
	assert.Equal(t, second.ID, orders[1].ID)
	assert.True(t, orders[0].Total.Equal(decimal.NewFromInt(20)), orders[0].Total.String())
	assert.Equal(t, entity.OrderStatusPending, orders[0].Status)

	items, err := repo.ListItemsForOrders(ctx, []int64{first.ID, second.ID})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	for _, it := range items {
		assert.False(t, it.IsPaid)
	}
}

func TestRepositoryMarkItemPaidIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	order := createSQLTable(t, repo, 1, "9.99")

	items, err := repo.ListItemsForOrders(ctx, []int64{order.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	id := items[0].ID

	require.NoError(t, repo.MarkItemPaid(ctx, id, time.Now().UTC(), entity.PaymentMethodCard))
	assert.ErrorIs(t, repo.MarkItemPaid(ctx, id, time.Now().UTC(), entity.PaymentMethodCash), settlement.ErrItemAlreadySettled)
	assert.ErrorIs(t, repo.MarkItemPaid(ctx, id+100, time.Now().UTC(), entity.PaymentMethodCash), ErrNotFound)

	item, err := repo.GetItem(ctx, id)
	require.NoError(t, err)
	assert.True(t, item.IsPaid)
	assert.Equal(t, entity.PaymentMethodCard, item.PaymentMethod)

	assert.ErrorIs(t, repo.DeleteUnpaidItem(ctx, id), settlement.ErrItemAlreadySettled)
}

func TestRepositoryGuardedUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	order := createSQLTable(t, repo, 2, "30.00")

	paid := decimal.RequireFromString("12.50")
	stale := decimal.NewFromInt(5)
	err := repo.UpdateOrder(ctx, order.ID, OrderPatch{PaidAmount: &paid, ExpectPaidAmount: &stale, ExpectOpen: true})
	assert.ErrorIs(t, err, ErrStaleOrder)

	zero := decimal.Zero
	require.NoError(t, repo.UpdateOrder(ctx, order.ID, OrderPatch{PaidAmount: &paid, ExpectPaidAmount: &zero, ExpectOpen: true}))

	got, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.Equal(paid), got.PaidAmount.String())

	status := entity.OrderStatusPaid
	require.NoError(t, repo.UpdateOrder(ctx, order.ID, OrderPatch{Status: &status}))
	err = repo.UpdateOrder(ctx, order.ID, OrderPatch{PaidAmount: &paid, ExpectOpen: true})
	assert.ErrorIs(t, err, ErrStaleOrder)

	open, err := repo.ListOpenOrdersForTable(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRepositoryRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	order := createSQLTable(t, repo, 3, "8.00")
	boom := errors.New("boom")

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.InsertPayment(ctx, &entity.Payment{
			TableNumber: 3,
			OrderID:     order.ID,
			Amount:      decimal.NewFromInt(8),
			Method:      entity.PaymentMethodCash,
			Mode:        entity.ModeFull,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	payments, err := repo.ListPaymentsForOrders(ctx, []int64{order.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRepositoryGetOrderNotFound(t *testing.T) {
	_, err := newSQLiteRepository(t).GetOrder(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

type unknownRowsResult struct{ err error }

func (unknownRowsResult) LastInsertId() (int64, error)   { return 0, nil }
func (r unknownRowsResult) RowsAffected() (int64, error) { return 0, r.err }

func TestRepositoryGuardFailsWhenRowsAffectedUnknown(t *testing.T) {
	ctx := context.Background()
	span := trace.SpanFromContext(ctx)
	driverErr := errors.New("driver does not support RowsAffected")

	_, err := affected(span, unknownRowsResult{err: driverErr})
	assert.ErrorIs(t, err, driverErr)

	repo := &Repository{}
	err = repo.checkItemAffected(ctx, span, unknownRowsResult{err: driverErr}, 7)
	assert.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, settlement.ErrItemAlreadySettled)

	n, err := affected(span, unknownRowsResult{})
	require.NoError(t, err)
	assert.Zero(t, n)
}
