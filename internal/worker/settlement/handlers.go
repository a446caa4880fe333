// Package settlement reacts to events published by the settlement engine.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/cache"
	"github.com/Additional-Code/tally/internal/messaging"
	service "github.com/Additional-Code/tally/internal/service/settlement"
	"github.com/Additional-Code/tally/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/tally/worker/settlement")

// Module registers settlement worker handlers.
var Module = fx.Module("worker_settlement",
	fx.Provide(
		fx.Annotate(
			NewPaymentRecordedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
		fx.Annotate(
			NewTabClosedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
	fx.Provide(func(svc *service.Service) Reconciler { return svc }),
)

// Reconciler checks a table's payments against its balance.
type Reconciler interface {
	Reconcile(ctx context.Context, table int) (*service.Reconciliation, error)
}

// NewPaymentRecordedHandler logs each payment and reconciles the table it
// was taken on.
func NewPaymentRecordedHandler(logger *zap.Logger, reconciler Reconciler) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.settlement.payment_recorded", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event service.PaymentRecordedEvent
		if err := decode(msg, &event, span); err != nil {
			logger.Error("failed to decode payment recorded", zap.Error(err))
			return err
		}
		logger.Info("payment recorded event processed",
			zap.String("event_id", event.EventID),
			zap.Int64("payment_id", event.PaymentID),
			zap.Int("table", event.TableNumber),
			zap.String("mode", event.Mode),
			zap.String("amount", event.Amount),
			zap.String("remaining", event.Remaining),
		)

		report, err := reconciler.Reconcile(ctx, event.TableNumber)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reconcile failed")
			return fmt.Errorf("reconcile table %d: %w", event.TableNumber, err)
		}
		if !report.Balanced {
			logger.Warn("payment left table unreconciled",
				zap.Int("table", event.TableNumber),
				zap.String("difference", report.Difference.StringFixed(2)),
			)
		}
		return nil
	}

	return worker.HandlerRegistration{
		Name:      "reconcile_table",
		EventType: service.EventPaymentRecorded,
		Handler:   handler,
	}
}

// NewTabClosedHandler drops the split session of a closed table.
func NewTabClosedHandler(logger *zap.Logger, store cache.Store) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.settlement.tab_closed", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event service.TabClosedEvent
		if err := decode(msg, &event, span); err != nil {
			logger.Error("failed to decode tab closed", zap.Error(err))
			return err
		}
		if err := store.Delete(ctx, service.SplitSessionKey(event.TableNumber)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache delete failed")
			return fmt.Errorf("clear split session for table %d: %w", event.TableNumber, err)
		}
		logger.Info("tab closed event processed",
			zap.String("event_id", event.EventID),
			zap.Int("table", event.TableNumber),
			zap.Int64s("order_ids", event.OrderIDs),
			zap.String("total", event.TotalOriginal),
		)
		return nil
	}

	return worker.HandlerRegistration{
		Name:      "clear_split_session",
		EventType: service.EventTabClosed,
		Handler:   handler,
	}
}

func decode(msg messaging.Message, v any, span trace.Span) error {
	if err := json.Unmarshal(msg.Value, v); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode error")
		return err
	}
	return nil
}
