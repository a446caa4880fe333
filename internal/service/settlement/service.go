package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/cache"
	"github.com/Additional-Code/tally/internal/config"
	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/messaging"
	"github.com/Additional-Code/tally/internal/repository/ledger"
	core "github.com/Additional-Code/tally/internal/settlement"
	"github.com/Additional-Code/tally/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/tally/service/settlement")

// Service runs settlement actions against the ledger. Every action reloads
// the table from source records inside one transaction.
type Service struct {
	store     ledger.Store
	cache     cache.Store
	publisher messaging.Client
	logger    *zap.Logger
	metrics   *instruments
	timeout   time.Duration
	splitTTL  time.Duration
	events    bool
	now       func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store     ledger.Store
	Cache     cache.Store
	Config    config.Config
	Logger    *zap.Logger
	Publisher messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := p.Config.Settlement.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		store:     p.Store,
		cache:     p.Cache,
		publisher: p.Publisher,
		logger:    logger,
		metrics:   newInstruments(logger),
		timeout:   timeout,
		splitTTL:  p.Config.Settlement.SplitSessionTTL,
		events:    p.Config.Settlement.EventsEnabled,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Tab is the current state of a table.
type Tab struct {
	TableNumber int
	Balance     core.Balance
	Split       *SplitProgress
	Payments    []entity.Payment
}

// SplitProgress describes an active by-people session.
type SplitProgress struct {
	People     int
	Share      decimal.Decimal
	PaidPeople int
}

// Receipt is the outcome of one committed settlement action.
type Receipt struct {
	Payment        entity.Payment
	Before         core.Balance
	After          core.Balance
	Closed         bool
	ClosedOrderIDs []int64
	Split          *SplitProgress
}

// Reconciliation compares the payment audit trail with the ledger balance.
type Reconciliation struct {
	TableNumber   int
	PaymentsCount int
	PaymentsTotal decimal.Decimal
	TotalPaid     decimal.Decimal
	Difference    decimal.Decimal
	Balanced      bool
}

// Tab returns a freshly aggregated view of the table.
func (s *Service) Tab(ctx context.Context, table int) (*Tab, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	ctx, span := serviceTracer.Start(ctx, "SettlementService.Tab", trace.WithAttributes(attribute.Int("table.number", table)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	balance, err := loadBalance(ctx, s.store, table)
	if err != nil {
		return nil, s.reject(ctx, span, table, err)
	}
	payments, err := s.store.ListPaymentsForOrders(ctx, balance.OrderIDs())
	if err != nil {
		return nil, s.reject(ctx, span, table, err)
	}

	tab := &Tab{TableNumber: table, Balance: balance, Payments: payments}
	if split := s.loadSplit(ctx, table); split != nil && !balance.Settled() {
		tab.Split = progress(*split, balance)
	}
	return tab, nil
}

// Payments returns the payments recorded against the table's open orders.
func (s *Service) Payments(ctx context.Context, table int) ([]entity.Payment, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	ctx, span := serviceTracer.Start(ctx, "SettlementService.Payments", trace.WithAttributes(attribute.Int("table.number", table)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	orders, err := s.store.ListOpenOrdersForTable(ctx, table)
	if err != nil {
		return nil, s.reject(ctx, span, table, err)
	}
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	payments, err := s.store.ListPaymentsForOrders(ctx, ids)
	if err != nil {
		return nil, s.reject(ctx, span, table, err)
	}
	return payments, nil
}

// Settle resolves req against the table, records the payment and closes the
// tab when nothing is left. Either every write of the action commits or none
// does.
func (s *Service) Settle(ctx context.Context, table int, req core.Request, method entity.PaymentMethod) (*Receipt, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errorbank.BadRequest("settlement mode is required", errorbank.WithCode(CodeInvalidSelection))
	}
	if !method.Valid() {
		return nil, errorbank.BadRequest(fmt.Sprintf("unknown payment method %q", method), errorbank.WithCode(CodeInvalidSelection))
	}

	ctx, span := serviceTracer.Start(ctx, "SettlementService.Settle", trace.WithAttributes(
		attribute.Int("table.number", table),
		attribute.String("settlement.mode", string(req.Mode())),
		attribute.String("payment.method", string(method)),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var session *core.Split
	if req.Mode() == entity.ModeByPeople {
		session = s.loadSplit(ctx, table)
	}

	var receipt *Receipt
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Store) error {
		before, err := loadBalance(ctx, tx, table)
		if err != nil {
			return err
		}
		res, err := core.Resolve(before, req, session)
		if err != nil {
			return err
		}
		payment, err := s.apply(ctx, tx, table, before, res, method)
		if err != nil {
			return err
		}

		after, err := loadBalance(ctx, tx, table)
		if err != nil {
			return err
		}
		if err := after.Verify(); err != nil {
			return err
		}
		if !after.TotalPaid.Sub(before.TotalPaid).Equal(res.Amount) {
			return fmt.Errorf("%w: collected %s but paid moved by %s", ledger.ErrStaleOrder,
				core.Format(res.Amount), core.Format(after.TotalPaid.Sub(before.TotalPaid)))
		}
		closed, err := closeSettled(ctx, tx, after)
		if err != nil {
			return err
		}

		receipt = &Receipt{
			Payment:        payment,
			Before:         before,
			After:          after,
			Closed:         after.Settled(),
			ClosedOrderIDs: closed,
		}
		if res.Split != nil {
			receipt.Split = progress(*res.Split, after)
		}
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, span, table, err)
	}

	s.afterCommit(ctx, table, req, receipt)
	return receipt, nil
}

// RemoveItem deletes an unpaid item and decrements its order's total in the
// same transaction, closing the tab if the removal settles it.
func (s *Service) RemoveItem(ctx context.Context, itemID int64) (*Tab, error) {
	if itemID <= 0 {
		return nil, errorbank.BadRequest("item id must be positive", errorbank.WithCode(CodeInvalidSelection))
	}
	ctx, span := serviceTracer.Start(ctx, "SettlementService.RemoveItem", trace.WithAttributes(attribute.Int64("item.id", itemID)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		tab    *Tab
		closed []int64
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Store) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.IsPaid {
			return fmt.Errorf("item %d: %w", itemID, core.ErrItemAlreadySettled)
		}
		order, err := tx.GetOrder(ctx, item.OrderID)
		if err != nil {
			return err
		}
		if !order.Status.Open() {
			return fmt.Errorf("%w: order %d is %s", core.ErrInvalidSelection, order.ID, order.Status)
		}
		total := order.Total.Sub(item.Subtotal)
		if total.LessThan(order.PaidAmount) {
			return fmt.Errorf("%w: removing item %d leaves order %d total %s below paid %s",
				core.ErrInvalidSelection, itemID, order.ID, core.Format(total), core.Format(order.PaidAmount))
		}

		if err := tx.DeleteUnpaidItem(ctx, itemID); err != nil {
			return err
		}
		paid := order.PaidAmount
		if err := tx.UpdateOrder(ctx, order.ID, ledger.OrderPatch{
			Total:            &total,
			ExpectPaidAmount: &paid,
			ExpectOpen:       true,
		}); err != nil {
			return err
		}

		var after core.Balance
		if order.TableNumber != nil {
			after, err = loadBalance(ctx, tx, *order.TableNumber)
		} else {
			updated := *order
			updated.Total = total
			after, err = loadOrders(ctx, tx, []entity.Order{updated})
		}
		if err != nil {
			return err
		}
		if err := after.Verify(); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidSelection, err)
		}
		if closed, err = closeSettled(ctx, tx, after); err != nil {
			return err
		}

		tab = &Tab{Balance: after}
		if order.TableNumber != nil {
			tab.TableNumber = *order.TableNumber
		}
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, span, 0, err)
	}

	s.logger.Info("order item removed",
		zap.Int64("item_id", itemID),
		zap.Int("table", tab.TableNumber),
		zap.String("remaining", core.Format(tab.Balance.TotalRemaining)),
	)
	if len(closed) > 0 && tab.TableNumber > 0 {
		s.tabClosed(ctx, tab.TableNumber, tab.Balance, closed)
	}
	return tab, nil
}

// Reconcile compares the payments recorded against the table's open orders
// with the paid total derived from orders and items. It never mutates.
func (s *Service) Reconcile(ctx context.Context, table int) (*Reconciliation, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	ctx, span := serviceTracer.Start(ctx, "SettlementService.Reconcile", trace.WithAttributes(attribute.Int("table.number", table)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	balance, err := loadBalance(ctx, s.store, table)
	if err != nil {
		return nil, s.reject(ctx, span, table, err)
	}
	payments, err := s.store.ListPaymentsForOrders(ctx, balance.OrderIDs())
	if err != nil {
		return nil, s.reject(ctx, span, table, err)
	}

	report := &Reconciliation{
		TableNumber:   table,
		PaymentsCount: len(payments),
		PaymentsTotal: decimal.Zero,
		TotalPaid:     balance.TotalPaid,
	}
	for _, p := range payments {
		report.PaymentsTotal = report.PaymentsTotal.Add(p.Amount)
	}
	report.Difference = report.PaymentsTotal.Sub(balance.TotalPaid)
	report.Balanced = report.Difference.Abs().LessThan(core.Tolerance)

	if !report.Balanced {
		s.logger.Warn("tab does not reconcile",
			zap.Int("table", table),
			zap.String("payments_total", core.Format(report.PaymentsTotal)),
			zap.String("total_paid", core.Format(report.TotalPaid)),
			zap.String("difference", core.Format(report.Difference)),
		)
	}
	return report, nil
}

// apply writes the payment record first, then the item flags or order
// increments.
func (s *Service) apply(ctx context.Context, tx ledger.Store, table int, before core.Balance, res core.Resolution, method entity.PaymentMethod) (entity.Payment, error) {
	now := s.now()
	payment := entity.Payment{
		TableNumber: table,
		OrderID:     representativeOrder(before, res),
		Amount:      res.Amount,
		Method:      method,
		Mode:        res.Mode,
		ItemsCount:  res.ItemsCount(),
		CreatedAt:   now,
	}
	if err := tx.InsertPayment(ctx, &payment); err != nil {
		return entity.Payment{}, err
	}

	if res.Mode == entity.ModeByItems {
		for _, id := range res.ItemIDs {
			if err := tx.MarkItemPaid(ctx, id, now, method); err != nil {
				return entity.Payment{}, err
			}
		}
		return payment, nil
	}

	allocations, err := core.Distribute(res.Amount, before.Orders)
	if err != nil {
		return entity.Payment{}, err
	}
	for _, a := range allocations {
		paid, expect := a.PaidAfter(), a.PaidBefore
		if err := tx.UpdateOrder(ctx, a.OrderID, ledger.OrderPatch{
			PaidAmount:       &paid,
			ExpectPaidAmount: &expect,
			ExpectOpen:       true,
		}); err != nil {
			return entity.Payment{}, err
		}
	}
	return payment, nil
}

func (s *Service) afterCommit(ctx context.Context, table int, req core.Request, r *Receipt) {
	fields := []zap.Field{
		zap.Int("table", table),
		zap.Int64("payment_id", r.Payment.ID),
		zap.String("mode", string(r.Payment.Mode)),
		zap.String("method", string(r.Payment.Method)),
		zap.String("amount", core.Format(r.Payment.Amount)),
		zap.String("remaining", core.Format(r.After.TotalRemaining)),
	}
	s.logger.Info("payment applied", fields...)
	s.metrics.recordPayment(ctx, r.Payment)

	if r.Split != nil && !r.Closed {
		s.storeSplit(ctx, table, core.Split{People: r.Split.People, Share: r.Split.Share})
	}

	s.publish(ctx, EventPaymentRecorded, table, PaymentRecordedEvent{
		EventID:     newEventID(),
		PaymentID:   r.Payment.ID,
		TableNumber: table,
		OrderID:     r.Payment.OrderID,
		Amount:      core.Format(r.Payment.Amount),
		Method:      string(r.Payment.Method),
		Mode:        string(req.Mode()),
		ItemsCount:  r.Payment.ItemsCount,
		Remaining:   core.Format(r.After.TotalRemaining),
		CreatedAt:   r.Payment.CreatedAt,
	})

	switch {
	case len(r.ClosedOrderIDs) > 0:
		s.tabClosed(ctx, table, r.After, r.ClosedOrderIDs)
	case r.Closed:
		// Another actor closed the orders and announces the closure.
		s.clearSplit(ctx, table)
	}
}

func (s *Service) tabClosed(ctx context.Context, table int, b core.Balance, orderIDs []int64) {
	s.clearSplit(ctx, table)
	s.metrics.recordClosure(ctx)
	s.logger.Info("tab closed",
		zap.Int("table", table),
		zap.Int64s("order_ids", orderIDs),
		zap.String("total", core.Format(b.TotalOriginal)),
	)
	s.publish(ctx, EventTabClosed, table, TabClosedEvent{
		EventID:       newEventID(),
		TableNumber:   table,
		OrderIDs:      orderIDs,
		TotalOriginal: core.Format(b.TotalOriginal),
		ClosedAt:      s.now(),
	})
}

// reject converts err into an AppError, records it on the span and logs it.
func (s *Service) reject(ctx context.Context, span trace.Span, table int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = fmt.Errorf("ledger store timed out: %w", err)
	}
	appErr := toAppError(err)

	switch appErr.Kind() {
	case errorbank.KindConflict:
		s.metrics.recordConflict(ctx, appErr.Code())
		s.logger.Warn("settlement conflict", zap.Int("table", table), zap.String("code", appErr.Code()), zap.Error(err))
	case errorbank.KindInternal:
		span.RecordError(err)
		span.SetStatus(codes.Error, appErr.Code())
		s.logger.Error("settlement state inconsistent; table must be reloaded", zap.Int("table", table), zap.Error(err))
		if table > 0 {
			s.clearSplit(ctx, table)
		}
	case errorbank.KindUnavailable:
		span.RecordError(err)
		span.SetStatus(codes.Error, appErr.Code())
		s.logger.Error("ledger store unavailable", zap.Int("table", table), zap.Error(err))
	}
	return appErr
}

func loadBalance(ctx context.Context, r ledger.Reader, table int) (core.Balance, error) {
	orders, err := r.ListOpenOrdersForTable(ctx, table)
	if err != nil {
		return core.Balance{}, err
	}
	return loadOrders(ctx, r, orders)
}

func loadOrders(ctx context.Context, r ledger.Reader, orders []entity.Order) (core.Balance, error) {
	if len(orders) == 0 {
		return core.Aggregate(nil, nil), nil
	}
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := r.ListItemsForOrders(ctx, ids)
	if err != nil {
		return core.Balance{}, err
	}
	return core.Aggregate(orders, items), nil
}

// closeSettled marks every open order paid once the balance is settled. An
// order another actor already closed is skipped.
func closeSettled(ctx context.Context, tx ledger.Writer, b core.Balance) ([]int64, error) {
	ids := core.OrdersToClose(b)
	if len(ids) == 0 {
		return nil, nil
	}
	status := entity.OrderStatusPaid
	closed := make([]int64, 0, len(ids))
	for _, id := range ids {
		err := tx.UpdateOrder(ctx, id, ledger.OrderPatch{Status: &status, ExpectOpen: true})
		if errors.Is(err, ledger.ErrStaleOrder) {
			continue
		}
		if err != nil {
			return nil, err
		}
		closed = append(closed, id)
	}
	return closed, nil
}

// representativeOrder picks the order a payment is keyed to: the owner of
// the first selected item, otherwise the first open order.
func representativeOrder(b core.Balance, res core.Resolution) int64 {
	if res.Mode == entity.ModeByItems && len(res.ItemIDs) > 0 {
		for _, it := range b.UnpaidItems {
			if it.ItemID == res.ItemIDs[0] {
				return it.OrderID
			}
		}
	}
	if len(b.Orders) > 0 {
		return b.Orders[0].OrderID
	}
	return 0
}

func progress(split core.Split, b core.Balance) *SplitProgress {
	return &SplitProgress{
		People:     split.People,
		Share:      split.Share,
		PaidPeople: split.PaidPeople(b.TotalPaid),
	}
}

func validateTable(table int) error {
	if table <= 0 {
		return errorbank.BadRequest("table number must be positive", errorbank.WithCode(CodeInvalidSelection))
	}
	return nil
}
