package settlement

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/entity"
)

var meter = otel.Meter("github.com/Additional-Code/tally/service/settlement")

type instruments struct {
	payments  metric.Int64Counter
	closures  metric.Int64Counter
	conflicts metric.Int64Counter
	amount    metric.Float64Histogram
}

func newInstruments(logger *zap.Logger) *instruments {
	in := &instruments{
		payments:  noop.Int64Counter{},
		closures:  noop.Int64Counter{},
		conflicts: noop.Int64Counter{},
		amount:    noop.Float64Histogram{},
	}
	var err error
	if in.payments, err = meter.Int64Counter("tally.settlement.payments", metric.WithDescription("Payments applied to tabs")); err != nil {
		logger.Warn("create payments counter", zap.Error(err))
		in.payments = noop.Int64Counter{}
	}
	if in.closures, err = meter.Int64Counter("tally.settlement.closures", metric.WithDescription("Tabs fully settled")); err != nil {
		logger.Warn("create closures counter", zap.Error(err))
		in.closures = noop.Int64Counter{}
	}
	if in.conflicts, err = meter.Int64Counter("tally.settlement.conflicts", metric.WithDescription("Settlement actions lost to a concurrent actor")); err != nil {
		logger.Warn("create conflicts counter", zap.Error(err))
		in.conflicts = noop.Int64Counter{}
	}
	if in.amount, err = meter.Float64Histogram("tally.settlement.amount", metric.WithDescription("Collected amount per payment")); err != nil {
		logger.Warn("create amount histogram", zap.Error(err))
		in.amount = noop.Float64Histogram{}
	}
	return in
}

func (in *instruments) recordPayment(ctx context.Context, p entity.Payment) {
	attrs := metric.WithAttributes(
		attribute.String("mode", string(p.Mode)),
		attribute.String("method", string(p.Method)),
	)
	in.payments.Add(ctx, 1, attrs)
	in.amount.Record(ctx, p.Amount.InexactFloat64(), attrs)
}

func (in *instruments) recordClosure(ctx context.Context) {
	in.closures.Add(ctx, 1)
}

func (in *instruments) recordConflict(ctx context.Context, code string) {
	in.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}
