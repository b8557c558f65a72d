package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qasimkdr/viraloft/internal/broker"
	"github.com/qasimkdr/viraloft/internal/models"
	"github.com/qasimkdr/viraloft/internal/pricing"
	"github.com/qasimkdr/viraloft/internal/store"
	"github.com/qasimkdr/viraloft/internal/util"
	"github.com/qasimkdr/viraloft/internal/vendor"
)

// OrderService orchestrates the order workflow: validate, quote, funds
// check, vendor call, transactional commit. The funds-check-to-debit span
// is serialized per user; the conditional debit in the store is the
// cross-process backstop.
type OrderService struct {
	store   OrderStore
	catalog *CatalogService
	vendor  vendorAPI
	events  *broker.EventPublisher
	logger  *zap.Logger

	locksMu   sync.Mutex
	userLocks map[int64]*userLock
}

// userLock is a refcounted mutex entry. The table entry is dropped when the
// last holder releases, so the table is bounded by in-flight requests, not
// by lifetime user cardinality.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// OrderStore is the persistence surface the workflow needs.
type OrderStore interface {
	GetUserBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	CreateOrderWithDebit(ctx context.Context, order *models.Order) error
	GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error)
	OrdersByVendorIDs(ctx context.Context, userID int64, ids []string) ([]models.Order, error)
	UpdateOrderStatusByVendorID(ctx context.Context, userID int64, vendorOrderID, status string) error
}

// NewOrderService creates a new order service.
func NewOrderService(st OrderStore, catalog *CatalogService, v vendorAPI, events *broker.EventPublisher) *OrderService {
	return &OrderService{
		store:     st,
		catalog:   catalog,
		vendor:    v,
		events:    events,
		logger:    util.GetLogger(),
		userLocks: make(map[int64]*userLock),
	}
}

// PlaceOrderRequest is the input to order placement.
type PlaceOrderRequest struct {
	ServiceID      int64  `json:"serviceId"`
	Quantity       int    `json:"quantity"`
	Link           string `json:"link"`
	Comments       string `json:"comments,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PlaceOrderResponse carries the stored order plus the quote it was priced
// from. Quote is nil when an existing order was returned for a duplicate
// idempotency key.
type PlaceOrderResponse struct {
	Message string        `json:"message"`
	Order   *models.Order `json:"order"`
	Quote   *models.Quote `json:"quote,omitempty"`
}

func (s *OrderService) lockUser(userID int64) func() {
	s.locksMu.Lock()
	l := s.userLocks[userID]
	if l == nil {
		l = &userLock{}
		s.userLocks[userID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.userLocks, userID)
		}
		s.locksMu.Unlock()
	}
}

func validLink(link string) bool {
	u, err := url.Parse(link)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// PlaceOrder runs the full placement workflow. The user is debited only
// after the vendor returned an order id, and the debit and order insert
// commit together or not at all.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, req PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if req.ServiceID <= 0 || req.Quantity == 0 || req.Link == "" {
		return nil, invalidInput("serviceId, quantity, and link are required")
	}
	if req.Quantity < 0 {
		return nil, invalidInput("invalid quantity")
	}
	if !validLink(req.Link) {
		return nil, invalidInput("invalid link URL")
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return &PlaceOrderResponse{Message: "Order already exists", Order: existing}, nil
		}
	}

	svc, err := s.catalog.FindService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			util.OrdersFailedTotal.WithLabelValues("service_not_found").Inc()
		}
		return nil, err
	}

	// The bare quote endpoint clamps; placement rejects so the user
	// reconfirms an adjusted quantity instead of being silently charged
	// for it.
	min, max := pricing.Bounds(svc)
	if req.Quantity < min || req.Quantity > max {
		util.OrdersFailedTotal.WithLabelValues("quantity_out_of_range").Inc()
		return nil, &QuantityRangeError{Min: min, Max: max}
	}

	quote, err := pricing.ComputeQuote(svc, req.Quantity)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_rate").Inc()
		return nil, err
	}
	cost := pricing.ChargedPrice(quote)

	unlock := s.lockUser(userID)
	defer unlock()

	balance, err := s.store.GetUserBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	if balance.LessThan(cost) {
		util.OrdersFailedTotal.WithLabelValues("insufficient_balance").Inc()
		return nil, ErrInsufficientBalance
	}

	// Point of no return: once dispatched, the vendor call runs to
	// completion or the client timeout even if the caller disconnects, and
	// the commit rides the same detached context, so an accepted order is
	// always recorded or alerted on. Never retried here.
	ctx = context.WithoutCancel(ctx)

	vendorOrderID, err := s.vendor.AddOrder(ctx, req.ServiceID, req.Quantity, req.Link, req.Comments)
	if err != nil {
		var rejected *vendor.RejectedError
		if errors.As(err, &rejected) {
			util.OrdersFailedTotal.WithLabelValues("vendor_rejected").Inc()
		} else {
			util.OrdersFailedTotal.WithLabelValues("vendor_error").Inc()
		}
		s.logger.Warn("Vendor refused order",
			zap.Int64("user_id", userID),
			zap.Int64("service_id", req.ServiceID),
			zap.String("vendor_message", vendor.Message(err)))
		return nil, err
	}

	order := &models.Order{
		UserID:         userID,
		ServiceID:      req.ServiceID,
		ServiceName:    svc.Name,
		Quantity:       quote.Quantity,
		Link:           req.Link,
		Price:          cost,
		Status:         models.OrderStatusPending,
		VendorOrderID:  vendorOrderID,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := s.store.CreateOrderWithDebit(ctx, order); err != nil {
		// The vendor already accepted; this order now exists upstream with
		// no local record. Raise the reconciliation alarm before failing.
		s.alertUnreconciled(ctx, order, err)
		if errors.Is(err, store.ErrInsufficientFunds) {
			util.OrdersFailedTotal.WithLabelValues("insufficient_balance").Inc()
			return nil, ErrInsufficientBalance
		}
		util.OrdersFailedTotal.WithLabelValues("storage").Inc()
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("vendor_order_id", vendorOrderID),
		zap.String("price", cost.String()))

	if err := s.events.PublishOrderPlaced(ctx, order); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}

	return &PlaceOrderResponse{Message: "Order created", Order: order, Quote: &quote}, nil
}

// alertUnreconciled records a vendor-accepted order that failed to commit
// locally. There is no automatic rollback of the vendor side; this path
// must be loud.
func (s *OrderService) alertUnreconciled(ctx context.Context, order *models.Order, cause error) {
	util.ReconciliationAlertsTotal.Inc()
	s.logger.Error("Vendor accepted order but local commit failed - manual reconciliation required",
		zap.Int64("user_id", order.UserID),
		zap.Int64("service_id", order.ServiceID),
		zap.String("vendor_order_id", order.VendorOrderID),
		zap.String("price", order.Price.String()),
		zap.Error(cause))

	event := &models.ReconciliationEvent{
		UserID:        order.UserID,
		ServiceID:     order.ServiceID,
		Quantity:      order.Quantity,
		Link:          order.Link,
		Price:         order.Price,
		VendorOrderID: order.VendorOrderID,
		Reason:        cause.Error(),
	}
	if err := s.events.PublishReconciliationRequired(ctx, event); err != nil {
		s.logger.Error("Failed to publish reconciliation event", zap.Error(err))
	}
}

// QuotePreview prices a (service, quantity) pair without committing
// anything. Out-of-range quantities are clamped here; the returned
// quantity is authoritative and a mismatch means "adjusted, reconfirm".
// Shares the exact pricing code with PlaceOrder.
func (s *OrderService) QuotePreview(ctx context.Context, serviceID int64, quantity int) (models.Quote, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.QuotePreview")
	defer span.End()

	if serviceID <= 0 || quantity <= 0 {
		return models.Quote{}, invalidInput("serviceId and quantity are required")
	}

	svc, err := s.catalog.FindService(ctx, serviceID)
	if err != nil {
		return models.Quote{}, err
	}

	quote, err := pricing.ComputeQuote(svc, quantity)
	if err != nil {
		return models.Quote{}, err
	}

	util.QuotesComputedTotal.Inc()
	return quote, nil
}

// ListOrders returns a page of the user's orders, newest first, with a
// limit+1 fetch to detect whether more pages exist.
func (s *OrderService) ListOrders(ctx context.Context, userID int64, page, limit int) ([]models.Order, bool, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.store.ListOrdersByUser(ctx, userID, limit+1, (page-1)*limit)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list orders: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return rows, hasMore, nil
}

// StatusResult is the per-id outcome of a batch refresh.
type StatusResult struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RefreshStatuses polls the vendor for the given vendor order ids and
// updates matching orders. Only ids owned by the user are consulted;
// foreign ids are silently excluded. Balances are never touched. Failures
// are reported per id, never as a batch failure.
func (s *OrderService) RefreshStatuses(ctx context.Context, userID int64, ids []string) (map[string]StatusResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RefreshStatuses")
	defer span.End()

	clean := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return nil, invalidInput("ids array required")
	}

	own, err := s.store.OrdersByVendorIDs(ctx, userID, clean)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	ownByVendorID := make(map[string]*models.Order, len(own))
	for i := range own {
		ownByVendorID[own[i].VendorOrderID] = &own[i]
	}

	results := make(map[string]StatusResult)
	for _, id := range clean {
		order, ok := ownByVendorID[id]
		if !ok {
			continue
		}

		status, err := s.vendor.GetOrderStatus(ctx, id)
		if err != nil {
			util.StatusRefreshTotal.WithLabelValues("error").Inc()
			results[id] = StatusResult{OK: false, Error: vendor.Message(err)}
			continue
		}

		results[id] = StatusResult{OK: true, Status: status.Status}
		if status.Status == order.Status {
			util.StatusRefreshTotal.WithLabelValues("unchanged").Inc()
			continue
		}

		if err := s.store.UpdateOrderStatusByVendorID(ctx, userID, id, status.Status); err != nil {
			s.logger.Error("Failed to persist refreshed status",
				zap.String("vendor_order_id", id),
				zap.Error(err))
			util.StatusRefreshTotal.WithLabelValues("error").Inc()
			results[id] = StatusResult{OK: false, Error: "failed to persist status"}
			continue
		}
		util.StatusRefreshTotal.WithLabelValues("updated").Inc()

		if err := s.events.PublishOrderStatusChanged(ctx, order, order.Status, status.Status); err != nil {
			s.logger.Error("Failed to publish status change event", zap.Error(err))
		}
	}

	return results, nil
}
