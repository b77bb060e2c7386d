package services

import (
	"context"
	"maps"
	"time"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status_changed"
	paymentEventStatusChanged = "payment.status_changed"
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	PaymentID      string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

type eventLogger func(ctx context.Context, event string, fields map[string]any)

// publishOrderEvent never fails the caller; publish errors are logged.
func publishOrderEvent(ctx context.Context, publisher OrderEventPublisher, logger eventLogger, event OrderEvent) {
	if publisher == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"status":  event.CurrentStatus,
			"error":   err.Error(),
		})
	}
}
