package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qasimkdr/viraloft/internal/broker"
	"github.com/qasimkdr/viraloft/internal/models"
	"github.com/qasimkdr/viraloft/internal/util"
	"github.com/qasimkdr/viraloft/internal/vendor"
)

// pollerStore is the slice of the database store the poller consumes.
type pollerStore interface {
	ListRefreshableOrders(ctx context.Context, limit int) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
}

type statusAPI interface {
	GetOrderStatus(ctx context.Context, vendorOrderID string) (vendor.OrderStatus, error)
}

// StatusPoller periodically refreshes non-terminal orders from the vendor
// so statuses converge even for users who never poll. It never touches
// balances.
type StatusPoller struct {
	store    pollerStore
	vendor   statusAPI
	events   *broker.EventPublisher
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewStatusPoller creates a status poller.
func NewStatusPoller(st pollerStore, v statusAPI, events *broker.EventPublisher, interval time.Duration, batch int) *StatusPoller {
	if batch <= 0 {
		batch = 100
	}
	return &StatusPoller{
		store:    st,
		vendor:   v,
		events:   events,
		interval: interval,
		batch:    batch,
		logger:   util.GetLogger(),
	}
}

// Start runs the poll loop until the context is cancelled.
func (p *StatusPoller) Start(ctx context.Context) error {
	p.logger.Info("Starting status poller",
		zap.Duration("interval", p.interval),
		zap.Int("batch", p.batch))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Status poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *StatusPoller) runOnce(ctx context.Context) {
	orders, err := p.store.ListRefreshableOrders(ctx, p.batch)
	if err != nil {
		p.logger.Error("Failed to load refreshable orders", zap.Error(err))
		return
	}

	for i := range orders {
		order := &orders[i]
		status, err := p.vendor.GetOrderStatus(ctx, order.VendorOrderID)
		if err != nil {
			util.StatusRefreshTotal.WithLabelValues("error").Inc()
			p.logger.Warn("Status poll failed",
				zap.Int64("order_id", order.ID),
				zap.String("vendor_order_id", order.VendorOrderID),
				zap.String("vendor_message", vendor.Message(err)))
			continue
		}

		if status.Status == order.Status {
			util.StatusRefreshTotal.WithLabelValues("unchanged").Inc()
			continue
		}

		if err := p.store.UpdateOrderStatus(ctx, order.ID, status.Status); err != nil {
			util.StatusRefreshTotal.WithLabelValues("error").Inc()
			p.logger.Error("Failed to persist polled status",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			continue
		}
		util.StatusRefreshTotal.WithLabelValues("updated").Inc()

		if err := p.events.PublishOrderStatusChanged(ctx, order, order.Status, status.Status); err != nil {
			p.logger.Error("Failed to publish status change event", zap.Error(err))
		}
	}
}
