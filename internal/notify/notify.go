// Package notify fans settlement lifecycle events out to interested
// parties.
//
// Services emit events through the Emitter after their transaction has
// committed; delivery is fire-and-forget and never influences the
// outcome of the operation that produced the event.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/jkimani/pesalock/internal/idgen"
	"github.com/jkimani/pesalock/internal/metrics"
)

// EventType identifies what happened.
type EventType string

const (
	EventOrderCreated    EventType = "order.created"
	EventOrderClaimed    EventType = "order.claimed"
	EventOrderReady      EventType = "order.ready_for_release"
	EventOrderCompleted  EventType = "order.completed"
	EventOrderCancelled  EventType = "order.cancelled"
	EventOrderDisputed   EventType = "order.disputed"
	EventWalletUpdated   EventType = "wallet.updated"
	EventFundingReviewed EventType = "funding.request_reviewed"
)

// Event is one notification addressed to one user.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	UserID    string         `json:"userId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Sink delivers events to one transport (webhooks, websocket stream).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event *Event) error
}

// Emitter fans events out to every configured sink. All methods are
// fire-and-forget: errors are counted and logged but never returned, and
// a nil *Emitter is a no-op so wiring stays optional in tests.
type Emitter struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewEmitter creates an emitter over the given sinks.
func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks, logger: logger}
}

func (e *Emitter) emit(userID string, eventType EventType, data map[string]any) {
	if e == nil || len(e.sinks) == 0 || userID == "" {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, sink := range e.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			metrics.NotifyDeliveriesTotal.WithLabelValues(sink.Name(), "error").Inc()
			e.logger.Warn("event delivery failed",
				"sink", sink.Name(), "event", eventType, "user", userID, "error", err)
			continue
		}
		metrics.NotifyDeliveriesTotal.WithLabelValues(sink.Name(), "ok").Inc()
	}
}

// EmitOrderEvent notifies both parties of an order lifecycle transition.
// settlerID may be empty while the order is unclaimed.
func (e *Emitter) EmitOrderEvent(eventType EventType, orderID, buyerID, settlerID, amount, status string) {
	data := map[string]any{
		"orderId": orderID,
		"buyerId": buyerID,
		"amount":  amount,
		"status":  status,
	}
	if settlerID != "" {
		data["settlerId"] = settlerID
	}
	e.emit(buyerID, eventType, data)
	e.emit(settlerID, eventType, data)
}

// EmitWalletUpdated notifies a user that wallet balances changed.
func (e *Emitter) EmitWalletUpdated(userID, available, locked string) {
	e.emit(userID, EventWalletUpdated, map[string]any{
		"userId":           userID,
		"availableBalance": available,
		"lockedBalance":    locked,
	})
}

// EmitFundingReviewed notifies a user that their deposit or withdrawal
// request was reviewed.
func (e *Emitter) EmitFundingReviewed(userID, requestID, requestType, action, amount string) {
	e.emit(userID, EventFundingReviewed, map[string]any{
		"requestId": requestID,
		"type":      requestType,
		"action":    action,
		"amount":    amount,
	})
}

// LogSink writes every event to the structured log. It backs development
// mode, where no webhook subscriptions exist yet.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs events.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, event *Event) error {
	s.logger.Info("event", "type", event.Type, "user", event.UserID, "data", event.Data)
	return nil
}
