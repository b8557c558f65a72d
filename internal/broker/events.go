package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qasimkdr/viraloft/internal/models"
)

// EventPublisher publishes order lifecycle events. A nil publisher (or one
// without a producer) is a no-op, so event publishing stays optional and
// never blocks the order workflow.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func (ep *EventPublisher) enabled() bool {
	return ep != nil && ep.producer != nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// PublishOrderPlaced publishes an event for a committed order.
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, order *models.Order) error {
	if !ep.enabled() {
		return nil
	}
	event := &models.OrderPlacedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderPlaced),
		OrderID:       order.ID,
		UserID:        order.UserID,
		ServiceID:     order.ServiceID,
		Quantity:      order.Quantity,
		Price:         order.Price,
		VendorOrderID: order.VendorOrderID,
	}
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%d", order.ID), event)
}

// PublishOrderStatusChanged publishes an event when a refresh observed a
// status change.
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, oldStatus, newStatus string) error {
	if !ep.enabled() {
		return nil
	}
	event := &models.OrderStatusChangedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:       order.ID,
		UserID:        order.UserID,
		VendorOrderID: order.VendorOrderID,
		OldStatus:     oldStatus,
		NewStatus:     newStatus,
	}
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%d", order.ID), event)
}

// PublishReconciliationRequired publishes an alert for a vendor-accepted
// order whose local commit failed. Ops tooling picks these up; the vendor
// side cannot be rolled back.
func (ep *EventPublisher) PublishReconciliationRequired(ctx context.Context, event *models.ReconciliationEvent) error {
	if !ep.enabled() {
		return nil
	}
	event.BaseEvent = newBaseEvent(models.EventTypeReconciliationRequired)
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("user-%d", event.UserID), event)
}
