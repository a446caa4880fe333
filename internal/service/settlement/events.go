package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/messaging"
)

// Event types published after a settlement action commits.
const (
	EventPaymentRecorded = "payment.recorded"
	EventTabClosed       = "tab.closed"
)

// PaymentRecordedEvent is emitted for every committed payment.
type PaymentRecordedEvent struct {
	EventID     string    `json:"event_id"`
	PaymentID   int64     `json:"payment_id"`
	TableNumber int       `json:"table_number"`
	OrderID     int64     `json:"order_id"`
	Amount      string    `json:"amount"`
	Method      string    `json:"method"`
	Mode        string    `json:"mode"`
	ItemsCount  int       `json:"items_count"`
	Remaining   string    `json:"remaining"`
	CreatedAt   time.Time `json:"created_at"`
}

// TabClosedEvent is emitted when every open order of a table turns paid.
type TabClosedEvent struct {
	EventID       string    `json:"event_id"`
	TableNumber   int       `json:"table_number"`
	OrderIDs      []int64   `json:"order_ids"`
	TotalOriginal string    `json:"total_original"`
	ClosedAt      time.Time `json:"closed_at"`
}

func (s *Service) publish(ctx context.Context, eventType string, table int, event any) {
	if !s.events || s.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal settlement event", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	// The payment is already committed; the caller's deadline must not drop the event.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	headers := map[string]string{messaging.EventTypeHeader: eventType}
	if err := s.publisher.Publish(pubCtx, []byte(fmt.Sprintf("table-%d", table)), payload, headers); err != nil {
		s.logger.Error("publish settlement event", zap.String("event_type", eventType), zap.Int("table", table), zap.Error(err))
	}
}

func newEventID() string {
	return uuid.NewString()
}
