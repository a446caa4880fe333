package seeder

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/repository/ledger"
)

// Module provides the Seeder to Fx.
var Module = fx.Provide(New)

// Seeder opens demo tabs for local/dev setups.
type Seeder struct {
	store  ledger.Store
	logger *zap.Logger
}

// New constructs a Seeder writing through the ledger store.
func New(store ledger.Store, logger *zap.Logger) *Seeder {
	return &Seeder{store: store, logger: logger}
}

type sampleItem struct {
	product  int64
	quantity int
	price    string
}

type sampleOrder struct {
	table int
	items []sampleItem
}

// Table 1 has two checks so full and by-people settlement span orders;
// table 3 has three items for by-items splits.
var samples = []sampleOrder{
	{table: 1, items: []sampleItem{{101, 2, "12.50"}, {205, 1, "5.00"}}},
	{table: 1, items: []sampleItem{{310, 1, "20.00"}}},
	{table: 2, items: []sampleItem{{101, 1, "100.00"}}},
	{table: 3, items: []sampleItem{{120, 1, "18.90"}, {121, 1, "22.40"}, {402, 3, "3.20"}}},
}

// Tables seeds demo orders for every sample table that has no open order.
// It returns the number of orders created.
func (s *Seeder) Tables(ctx context.Context) (int, error) {
	busy := make(map[int]bool)
	for _, sample := range samples {
		if _, seen := busy[sample.table]; seen {
			continue
		}
		open, err := s.store.ListOpenOrdersForTable(ctx, sample.table)
		if err != nil {
			return 0, fmt.Errorf("list table %d: %w", sample.table, err)
		}
		busy[sample.table] = len(open) > 0
		if busy[sample.table] {
			s.logger.Info("table already open; skipping", zap.Int("table", sample.table))
		}
	}

	created := 0
	for _, sample := range samples {
		if busy[sample.table] {
			continue
		}

		table := sample.table
		order := &entity.Order{TableNumber: &table, Status: entity.OrderStatusPending}
		items := make([]entity.OrderItem, 0, len(sample.items))
		for _, it := range sample.items {
			items = append(items, entity.OrderItem{
				ProductID: it.product,
				Quantity:  it.quantity,
				UnitPrice: decimal.RequireFromString(it.price),
			})
		}

		if err := s.store.CreateOrder(ctx, order, items); err != nil {
			return created, fmt.Errorf("seed table %d: %w", table, err)
		}
		created++
	}

	s.logger.Info("seeded tables", zap.Int("orders", created))
	return created, nil
}
