package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced            = "ORDER_PLACED"
	EventTypeOrderStatusChanged     = "ORDER_STATUS_CHANGED"
	EventTypeReconciliationRequired = "ORDER_RECONCILIATION_REQUIRED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published after the vendor accepted and the debit committed
type OrderPlacedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	ServiceID     int64           `json:"service_id"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	VendorOrderID string          `json:"vendor_order_id"`
}

// OrderStatusChangedEvent published when a status refresh observes a change
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	VendorOrderID string `json:"vendor_order_id"`
	OldStatus     string `json:"old_status"`
	NewStatus     string `json:"new_status"`
}

// ReconciliationEvent published when the vendor accepted an order but the
// local debit/insert could not be committed. Consumed by ops tooling; the
// vendor order cannot be rolled back automatically.
type ReconciliationEvent struct {
	BaseEvent
	UserID        int64           `json:"user_id"`
	ServiceID     int64           `json:"service_id"`
	Quantity      int             `json:"quantity"`
	Link          string          `json:"link"`
	Price         decimal.Decimal `json:"price"`
	VendorOrderID string          `json:"vendor_order_id"`
	Reason        string          `json:"reason"`
}
