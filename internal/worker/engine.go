package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/config"
	"github.com/Additional-Code/tally/internal/messaging"
)

const maxConsumeBackoff = 30 * time.Second

var (
	engineTracer = otel.Tracer("github.com/Additional-Code/tally/worker")
	engineMeter  = otel.Meter("github.com/Additional-Code/tally/worker")
)

// HandlerRegistration binds an event type to one of its handlers. Several
// registrations may share an event type; each runs in registration order.
type HandlerRegistration struct {
	Name      string
	EventType string
	Handler   messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine consumes settlement events and fans them out to handlers.
type Engine struct {
	client        messaging.Client
	logger        *zap.Logger
	cfg           config.Config
	registrations map[string][]HandlerRegistration
	processed     metric.Int64Counter
	cancel        context.CancelFunc
	wg            *sync.WaitGroup
}

// NewEngine constructs the worker Engine.
func NewEngine(p Params) *Engine {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := make(map[string][]HandlerRegistration, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.EventType == "" || r.Handler == nil {
			logger.Warn("ignoring incomplete worker registration", zap.String("handler", r.Name))
			continue
		}
		reg[r.EventType] = append(reg[r.EventType], r)
	}

	processed, err := engineMeter.Int64Counter("tally.worker.events", metric.WithDescription("Settlement events handled by the worker"))
	if err != nil {
		logger.Warn("worker counter unavailable", zap.Error(err))
	}

	return &Engine{
		client:        p.Client,
		logger:        logger,
		cfg:           p.Config,
		registrations: reg,
		processed:     processed,
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
	}),
)

// EventTypes lists the event types with at least one handler.
func (e *Engine) EventTypes() []string {
	out := make([]string, 0, len(e.registrations))
	for t := range e.registrations {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) start(ctx context.Context) error {
	if !e.cfg.Messaging.Enabled || !e.cfg.Messaging.Workers.Enabled {
		e.logger.Info("worker engine disabled")
		return nil
	}
	if len(e.registrations) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")
		return nil
	}

	concurrency := e.cfg.Messaging.Workers.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg = &sync.WaitGroup{}

	for i := 0; i < concurrency; i++ {
		workerID := i
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeLoop(runCtx, workerID)
		}()
	}

	e.logger.Info("worker engine started",
		zap.Int("workers", concurrency),
		zap.String("topic", e.client.Topic()),
		zap.Strings("event_types", e.EventTypes()))
	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.logger.Info("worker engine stopped")
		return nil
	}
}

// dispatch runs every handler registered for the message's event type and
// stops at the first failure so the driver redelivers the message. Handlers
// must therefore be idempotent. Unknown event types are acknowledged.
func (e *Engine) dispatch(ctx context.Context, msg messaging.Message, workerID int) error {
	eventType := msg.EventType()
	handlers, ok := e.registrations[eventType]
	if !ok {
		e.logger.Warn("no handler for event type", zap.String("event_type", eventType), zap.String("topic", msg.Topic))
		e.count(ctx, eventType, "ignored")
		return nil
	}

	ctx, span := engineTracer.Start(ctx, "Worker.dispatch", trace.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.Int("worker.id", workerID),
	))
	defer span.End()

	for _, h := range handlers {
		e.logger.Debug("processing settlement event",
			zap.String("event_type", eventType),
			zap.String("handler", h.Name),
			zap.Int64("offset", msg.Offset),
			zap.Int("worker", workerID))

		if err := h.Handler(ctx, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.count(ctx, eventType, "failed")
			return err
		}
	}

	e.count(ctx, eventType, "handled")
	return nil
}

func (e *Engine) count(ctx context.Context, eventType, outcome string) {
	if e.processed == nil {
		return
	}
	e.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}

func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			return e.dispatch(msgCtx, msg, workerID)
		})

		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		e.logger.Error("consume loop error", zap.Error(err), zap.Int("worker", workerID), zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		if backoff < maxConsumeBackoff {
			backoff *= 2
		}
	}
}
