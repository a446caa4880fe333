package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/tally/internal/database"
	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/settlement"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/tally/repository/ledger")

// Repository is the bun-backed Store.
type Repository struct {
	root   *bun.DB
	writer bun.IDB
	reader bun.IDB
	inTx   bool
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		root:   conns.Writer,
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// RunInTx runs fn inside a database transaction on the writer.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return r.root.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Repository{root: r.root, writer: tx, reader: tx, inTx: true})
	})
}

// ListOpenOrdersForTable returns the pending and ready orders of a table by id.
func (r *Repository) ListOpenOrdersForTable(ctx context.Context, table int) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.ListOpenOrdersForTable", trace.WithAttributes(attribute.Int("table.number", table)))
	defer span.End()

	orders := make([]entity.Order, 0)
	err := r.reader.NewSelect().Model(&orders).
		Where("table_number = ?", table).
		Where("status IN (?)", bun.In(entity.OpenOrderStatuses)).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return orders, nil
}

// ListItemsForOrders returns the items of the given orders in creation order.
func (r *Repository) ListItemsForOrders(ctx context.Context, orderIDs []int64) ([]entity.OrderItem, error) {
	items := make([]entity.OrderItem, 0)
	if len(orderIDs) == 0 {
		return items, nil
	}
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.ListItemsForOrders", trace.WithAttributes(attribute.Int64Slice("order.ids", orderIDs)))
	defer span.End()

	err := r.reader.NewSelect().Model(&items).
		Where("order_id IN (?)", bun.In(orderIDs)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return items, nil
}

// ListPaymentsForOrders returns payments keyed to the given orders, oldest first.
func (r *Repository) ListPaymentsForOrders(ctx context.Context, orderIDs []int64) ([]entity.Payment, error) {
	payments := make([]entity.Payment, 0)
	if len(orderIDs) == 0 {
		return payments, nil
	}
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.ListPaymentsForOrders", trace.WithAttributes(attribute.Int64Slice("order.ids", orderIDs)))
	defer span.End()

	err := r.reader.NewSelect().Model(&payments).
		Where("order_id IN (?)", bun.In(orderIDs)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return payments, nil
}

// GetOrder fetches an order by primary key.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.GetOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return order, nil
}

// GetItem fetches an order item by primary key.
func (r *Repository) GetItem(ctx context.Context, id int64) (*entity.OrderItem, error) {
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.GetItem", trace.WithAttributes(attribute.Int64("item.id", id)))
	defer span.End()

	item := new(entity.OrderItem)
	err := r.reader.NewSelect().Model(item).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return item, nil
}

// CreateOrder inserts the order and its items atomically.
func (r *Repository) CreateOrder(ctx context.Context, order *entity.Order, items []entity.OrderItem) error {
	if order == nil {
		return errors.New("nil order")
	}
	if len(items) == 0 {
		return errors.New("order needs at least one item")
	}
	return r.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		repo := tx.(*Repository)
		ctx, span := repoTracer.Start(ctx, "LedgerRepository.CreateOrder")
		defer span.End()

		prepareOrder(order, items, time.Now().UTC())
		if _, err := repo.writer.NewInsert().Model(order).Exec(ctx); err != nil {
			fail(span, err, "insert order failed")
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if _, err := repo.writer.NewInsert().Model(&items).Exec(ctx); err != nil {
			fail(span, err, "insert items failed")
			return err
		}
		span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.Int("items.count", len(items)))
		return nil
	})
}

// UpdateOrder applies patch to the order, honouring its guards.
func (r *Repository) UpdateOrder(ctx context.Context, id int64, patch OrderPatch) error {
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.UpdateOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	q := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if patch.PaidAmount != nil {
		q = q.Set("paid_amount = ?", *patch.PaidAmount)
	}
	if patch.Total != nil {
		q = q.Set("total = ?", *patch.Total)
	}
	if patch.Status != nil {
		q = q.Set("status = ?", *patch.Status)
	}
	if patch.ExpectPaidAmount != nil {
		q = q.Where("paid_amount = ?", *patch.ExpectPaidAmount)
	}
	if patch.ExpectOpen {
		q = q.Where("status IN (?)", bun.In(entity.OpenOrderStatuses))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		fail(span, err, "update failed")
		return err
	}
	n, err := affected(span, res)
	if err != nil {
		return err
	}
	if n == 0 {
		span.SetStatus(codes.Error, "stale")
		return ErrStaleOrder
	}
	return nil
}

// MarkItemPaid flags the item as paid only while it is still unpaid.
func (r *Repository) MarkItemPaid(ctx context.Context, id int64, paidAt time.Time, method entity.PaymentMethod) error {
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.MarkItemPaid", trace.WithAttributes(attribute.Int64("item.id", id)))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.OrderItem)(nil)).
		Set("is_paid = ?", true).
		Set("paid_at = ?", paidAt).
		Set("payment_method = ?", method).
		Where("id = ?", id).
		Where("is_paid = ?", false).
		Exec(ctx)
	if err != nil {
		fail(span, err, "update failed")
		return err
	}
	return r.checkItemAffected(ctx, span, res, id)
}

// DeleteUnpaidItem removes the item only while it is still unpaid.
func (r *Repository) DeleteUnpaidItem(ctx context.Context, id int64) error {
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.DeleteUnpaidItem", trace.WithAttributes(attribute.Int64("item.id", id)))
	defer span.End()

	res, err := r.writer.NewDelete().Model((*entity.OrderItem)(nil)).
		Where("id = ?", id).
		Where("is_paid = ?", false).
		Exec(ctx)
	if err != nil {
		fail(span, err, "delete failed")
		return err
	}
	return r.checkItemAffected(ctx, span, res, id)
}

// InsertPayment appends an audit record.
func (r *Repository) InsertPayment(ctx context.Context, payment *entity.Payment) error {
	if payment == nil {
		return errors.New("nil payment")
	}
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.InsertPayment", trace.WithAttributes(
		attribute.Int("table.number", payment.TableNumber),
		attribute.String("payment.mode", string(payment.Mode)),
	))
	defer span.End()

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	if _, err := r.writer.NewInsert().Model(payment).Exec(ctx); err != nil {
		fail(span, err, "insert failed")
		return err
	}
	return nil
}

func (r *Repository) checkItemAffected(ctx context.Context, span trace.Span, res sql.Result, id int64) error {
	n, err := affected(span, res)
	if err != nil || n > 0 {
		return err
	}
	exists, err := r.writer.NewSelect().Model((*entity.OrderItem)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		fail(span, err, "exists failed")
		return err
	}
	if !exists {
		span.SetStatus(codes.Error, "not found")
		return ErrNotFound
	}
	span.SetStatus(codes.Error, "already settled")
	return fmt.Errorf("item %d: %w", id, settlement.ErrItemAlreadySettled)
}

// affected reports the rows a guarded write touched. A driver that cannot
// tell fails the write rather than passing its guard.
func affected(span trace.Span, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("rows affected: %w", err)
		fail(span, err, "rows affected failed")
		return 0, err
	}
	return n, nil
}

func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
