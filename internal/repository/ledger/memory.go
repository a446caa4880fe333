package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/settlement"
)

// Memory is an in-process Store for tests and demos. Each operation is
// atomic. Transactions are serialised: a transaction holds the ledger until
// it commits or replays its undo log, and operations outside a transaction
// wait for it.
type Memory struct {
	state *memoryState
	tx    *memoryTx
}

type memoryState struct {
	// txSem is held by a running transaction or a single top-level operation.
	txSem    chan struct{}
	mu       sync.Mutex
	seq      int64
	orders   map[int64]entity.Order
	items    map[int64]entity.OrderItem
	payments []entity.Payment
	failures []error
	now      func() time.Time
}

type memoryTx struct {
	undo []func(*memoryState)
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{state: &memoryState{
		txSem:  make(chan struct{}, 1),
		orders: make(map[int64]entity.Order),
		items:  make(map[int64]entity.OrderItem),
		now:    func() time.Time { return time.Now().UTC() },
	}}
}

// FailNext makes the next operation return err, simulating a backend outage.
func (m *Memory) FailNext(err error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.failures = append(m.state.failures, err)
}

// SetClock overrides the clock used for timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.now = now
}

// Payments returns every stored payment in insertion order.
func (m *Memory) Payments() []entity.Payment {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	out := make([]entity.Payment, len(m.state.payments))
	copy(out, m.state.payments)
	return out
}

// RunInTx runs fn with an undo log; an error reverts every write made through tx.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if m.tx != nil {
		return fn(ctx, m)
	}
	if err := m.state.acquire(ctx); err != nil {
		return err
	}
	defer m.state.release()

	tx := &Memory{state: m.state, tx: &memoryTx{}}
	if err := fn(ctx, tx); err != nil {
		m.state.mu.Lock()
		for i := len(tx.tx.undo) - 1; i >= 0; i-- {
			tx.tx.undo[i](m.state)
		}
		m.state.mu.Unlock()
		return err
	}
	return nil
}

func (s *memoryState) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.txSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memoryState) release() {
	<-s.txSem
}

// lock acquires the state and reports a pending failure or cancelled context.
// Inside a transaction the ledger is already held, so only the mutex is taken.
func (m *Memory) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.tx == nil {
		if err := m.state.acquire(ctx); err != nil {
			return err
		}
	}
	m.state.mu.Lock()
	if len(m.state.failures) > 0 {
		err := m.state.failures[0]
		m.state.failures = m.state.failures[1:]
		m.unlock()
		return err
	}
	return nil
}

func (m *Memory) unlock() {
	m.state.mu.Unlock()
	if m.tx == nil {
		m.state.release()
	}
}

func (m *Memory) record(undo func(*memoryState)) {
	if m.tx != nil {
		m.tx.undo = append(m.tx.undo, undo)
	}
}

// ListOpenOrdersForTable returns the pending and ready orders of a table by id.
func (m *Memory) ListOpenOrdersForTable(ctx context.Context, table int) ([]entity.Order, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	orders := make([]entity.Order, 0)
	for _, o := range m.state.orders {
		if o.TableNumber != nil && *o.TableNumber == table && o.Status.Open() {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

// ListItemsForOrders returns the items of the given orders in creation order.
func (m *Memory) ListItemsForOrders(ctx context.Context, orderIDs []int64) ([]entity.OrderItem, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	wanted := idSet(orderIDs)
	items := make([]entity.OrderItem, 0)
	for _, it := range m.state.items {
		if _, ok := wanted[it.OrderID]; ok {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// ListPaymentsForOrders returns payments keyed to the given orders, oldest first.
func (m *Memory) ListPaymentsForOrders(ctx context.Context, orderIDs []int64) ([]entity.Payment, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	wanted := idSet(orderIDs)
	payments := make([]entity.Payment, 0)
	for _, p := range m.state.payments {
		if _, ok := wanted[p.OrderID]; ok {
			payments = append(payments, p)
		}
	}
	return payments, nil
}

// GetOrder fetches an order by id.
func (m *Memory) GetOrder(ctx context.Context, id int64) (*entity.Order, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	o, ok := m.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

// GetItem fetches an item by id.
func (m *Memory) GetItem(ctx context.Context, id int64) (*entity.OrderItem, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	it, ok := m.state.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

// CreateOrder stores the order and its items, assigning ids.
func (m *Memory) CreateOrder(ctx context.Context, order *entity.Order, items []entity.OrderItem) error {
	if order == nil {
		return errors.New("nil order")
	}
	if len(items) == 0 {
		return errors.New("order needs at least one item")
	}
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	prepareOrder(order, items, m.state.now())
	m.state.seq++
	order.ID = m.state.seq
	m.state.orders[order.ID] = *order
	ids := []int64{order.ID}
	for i := range items {
		m.state.seq++
		items[i].ID = m.state.seq
		items[i].OrderID = order.ID
		m.state.items[items[i].ID] = items[i]
		ids = append(ids, items[i].ID)
	}
	m.record(func(s *memoryState) {
		delete(s.orders, ids[0])
		for _, id := range ids[1:] {
			delete(s.items, id)
		}
	})
	return nil
}

// UpdateOrder applies patch to the order, honouring its guards.
func (m *Memory) UpdateOrder(ctx context.Context, id int64, patch OrderPatch) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	o, ok := m.state.orders[id]
	if !ok {
		return ErrStaleOrder
	}
	if patch.ExpectPaidAmount != nil && !o.PaidAmount.Equal(*patch.ExpectPaidAmount) {
		return ErrStaleOrder
	}
	if patch.ExpectOpen && !o.Status.Open() {
		return ErrStaleOrder
	}

	before := o
	if patch.PaidAmount != nil {
		o.PaidAmount = *patch.PaidAmount
	}
	if patch.Total != nil {
		o.Total = *patch.Total
	}
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	o.UpdatedAt = m.state.now()
	m.state.orders[id] = o
	m.record(func(s *memoryState) { s.orders[id] = before })
	return nil
}

// MarkItemPaid flags the item as paid only while it is still unpaid.
func (m *Memory) MarkItemPaid(ctx context.Context, id int64, paidAt time.Time, method entity.PaymentMethod) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	it, ok := m.state.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.IsPaid {
		return fmt.Errorf("item %d: %w", id, settlement.ErrItemAlreadySettled)
	}
	before := it
	at := paidAt
	it.IsPaid = true
	it.PaidAt = &at
	it.PaymentMethod = method
	m.state.items[id] = it
	m.record(func(s *memoryState) { s.items[id] = before })
	return nil
}

// DeleteUnpaidItem removes the item only while it is still unpaid.
func (m *Memory) DeleteUnpaidItem(ctx context.Context, id int64) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	it, ok := m.state.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.IsPaid {
		return fmt.Errorf("item %d: %w", id, settlement.ErrItemAlreadySettled)
	}
	delete(m.state.items, id)
	m.record(func(s *memoryState) { s.items[id] = it })
	return nil
}

// InsertPayment appends an audit record and assigns its id.
func (m *Memory) InsertPayment(ctx context.Context, payment *entity.Payment) error {
	if payment == nil {
		return errors.New("nil payment")
	}
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	m.state.seq++
	payment.ID = m.state.seq
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = m.state.now()
	}
	m.state.payments = append(m.state.payments, *payment)
	id := payment.ID
	m.record(func(s *memoryState) {
		for i, p := range s.payments {
			if p.ID == id {
				s.payments = append(s.payments[:i], s.payments[i+1:]...)
				return
			}
		}
	})
	return nil
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
