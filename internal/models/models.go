package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Service is a vendor service descriptor. It is fetched from the panel API
// per request (or from a short-lived cache) and never persisted beyond the
// snapshot fields copied onto an Order.
type Service struct {
	ID       int64               `json:"service"`
	Name     string              `json:"name"`
	Type     string              `json:"type"`
	Category string              `json:"category"`
	Rate     decimal.NullDecimal `json:"rate"`
	Min      int                 `json:"min"`
	Max      int                 `json:"max"`
}

// Rate types for a quote.
const (
	RateTypePerItem = "per_item"
	RateTypePer1000 = "per_1000"
)

// Quote is the fully computed price for a (service, quantity) pair.
// Monetary fields are rounded to 6 decimal places; the amount actually
// charged on commit is the total rounded to 3 (see pricing.ChargedPrice).
type Quote struct {
	ServiceID  int64           `json:"serviceId"`
	Quantity   int             `json:"quantity"`
	RateType   string          `json:"rateType"`
	BaseRate   decimal.Decimal `json:"baseRateUSD"`
	BasePrice  decimal.Decimal `json:"basePriceUSD"`
	Commission decimal.Decimal `json:"commissionUSD"`
	Total      decimal.Decimal `json:"totalUSD"`
	PerUnit    decimal.Decimal `json:"perUnitUSD"`
	Min        int             `json:"min"`
	Max        int             `json:"max"`
}

// Order is a purchase brokered to the vendor on behalf of a user. Price is
// the amount actually debited, commission included; VendorOrderID is the
// join key for status polling.
type Order struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	ServiceID      int64           `db:"service_id" json:"service_id"`
	ServiceName    string          `db:"service_name" json:"service_name"`
	Quantity       int             `db:"quantity" json:"quantity"`
	Link           string          `db:"link" json:"link"`
	Price          decimal.Decimal `db:"price" json:"price"`
	Status         string          `db:"status" json:"status"`
	VendorOrderID  string          `db:"vendor_order_id" json:"vendor_order_id"`
	IdempotencyKey string          `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// User carries the single balance field the order workflow reads and debits.
type User struct {
	ID        int64           `db:"id" json:"id"`
	Username  string          `db:"username" json:"username"`
	Email     string          `db:"email" json:"email"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// OrderStatusPending is the status written at creation. Later values come
// from the vendor verbatim and are free-form.
const OrderStatusPending = "Pending"

// TerminalStatuses are vendor statuses the poller stops refreshing.
var TerminalStatuses = []string{
	"completed", "success", "canceled", "cancelled", "failed", "refunded", "partial",
}

// IsTerminalStatus reports whether a vendor status needs no further polling.
func IsTerminalStatus(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}
