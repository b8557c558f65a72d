package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qasimkdr/viraloft/internal/models"
	"github.com/qasimkdr/viraloft/internal/store"
	"github.com/qasimkdr/viraloft/internal/vendor"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullRate(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

// fakeStore mimics the conditional-debit semantics of the real store: the
// debit and the order insert succeed together or not at all.
type fakeStore struct {
	mu        sync.Mutex
	balances  map[int64]decimal.Decimal
	orders    []models.Order
	nextID    int64
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{balances: make(map[int64]decimal.Decimal)}
}

func (f *fakeStore) GetUserBalance(_ context.Context, userID int64) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[userID]
	if !ok {
		return decimal.Zero, store.ErrUserNotFound
	}
	return balance, nil
}

func (f *fakeStore) CreateOrderWithDebit(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	balance := f.balances[order.UserID]
	if balance.LessThan(order.Price) {
		return store.ErrInsufficientFunds
	}
	f.balances[order.UserID] = balance.Sub(order.Price)
	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	f.orders = append(f.orders, *order)
	return nil
}

func (f *fakeStore) GetOrderByIdempotencyKey(_ context.Context, userID int64, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.orders {
		if f.orders[i].UserID == userID && f.orders[i].IdempotencyKey == key {
			order := f.orders[i]
			return &order, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListOrdersByUser(_ context.Context, userID int64, limit, offset int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var mine []models.Order
	for i := len(f.orders) - 1; i >= 0; i-- {
		if f.orders[i].UserID == userID {
			mine = append(mine, f.orders[i])
		}
	}
	if offset >= len(mine) {
		return nil, nil
	}
	mine = mine[offset:]
	if len(mine) > limit {
		mine = mine[:limit]
	}
	return mine, nil
}

func (f *fakeStore) OrdersByVendorIDs(_ context.Context, userID int64, ids []string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Order
	for i := range f.orders {
		if f.orders[i].UserID == userID && want[f.orders[i].VendorOrderID] {
			out = append(out, f.orders[i])
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateOrderStatusByVendorID(_ context.Context, userID int64, vendorOrderID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.orders {
		if f.orders[i].UserID == userID && f.orders[i].VendorOrderID == vendorOrderID {
			f.orders[i].Status = status
		}
	}
	return nil
}

func (f *fakeStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeStore) balance(userID int64) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

// fakeVendor scripts the panel API.
type fakeVendor struct {
	mu        sync.Mutex
	services  []models.Service
	addErr    error
	addCalls  int
	nextOrder int
	statuses  map[string]vendor.OrderStatus
	statusErr map[string]error
}

func (f *fakeVendor) Services(context.Context) ([]models.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Service(nil), f.services...), nil
}

func (f *fakeVendor) AddOrder(context.Context, int64, int, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.addErr != nil {
		return "", f.addErr
	}
	f.nextOrder++
	return strconv.Itoa(f.nextOrder), nil
}

func (f *fakeVendor) GetOrderStatus(_ context.Context, vendorOrderID string) (vendor.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[vendorOrderID]; err != nil {
		return vendor.OrderStatus{}, err
	}
	if status, ok := f.statuses[vendorOrderID]; ok {
		return status, nil
	}
	return vendor.OrderStatus{}, &vendor.ProtocolError{Message: "vendor status error"}
}

func (f *fakeVendor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addCalls
}

func bulkService() models.Service {
	return models.Service{ID: 200, Name: "Instagram Followers", Category: "Instagram", Rate: nullRate("5"), Min: 50, Max: 10000}
}

func newTestOrderService(st *fakeStore, v *fakeVendor) *OrderService {
	return NewOrderService(st, NewCatalogService(v, nil), v, nil)
}

func TestPlaceOrderSuccess(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	resp, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Order)
	assert.True(t, resp.Order.Price.Equal(dec("12")), "price %s", resp.Order.Price)
	assert.Equal(t, models.OrderStatusPending, resp.Order.Status)
	assert.Equal(t, "Instagram Followers", resp.Order.ServiceName)
	assert.Equal(t, "1", resp.Order.VendorOrderID)
	assert.Equal(t, 2000, resp.Order.Quantity)

	require.NotNil(t, resp.Quote)
	assert.True(t, resp.Quote.Total.Equal(dec("12")))

	// balanceAfter == balanceBefore - order.price
	assert.True(t, st.balance(1).Equal(dec("88")), "balance %s", st.balance(1))
}

func TestPlaceOrderVendorRejected(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	v := &fakeVendor{
		services: []models.Service{bulkService()},
		addErr:   &vendor.RejectedError{Message: "Link already queued"},
	}
	svc := newTestOrderService(st, v)

	_, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
	})

	var rejected *vendor.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Link already queued", rejected.Message)

	assert.True(t, st.balance(1).Equal(dec("100")))
	assert.Zero(t, st.orderCount())
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("5")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	_, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
	})

	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Zero(t, v.calls(), "vendor must not be called when funds are short")
	assert.True(t, st.balance(1).Equal(dec("5")))
	assert.Zero(t, st.orderCount())
}

func TestPlaceOrderQuantityOutOfRange(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	_, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
		ServiceID: 200, Quantity: 10, Link: "https://example.com/p/1",
	})

	var qtyErr *QuantityRangeError
	require.ErrorAs(t, err, &qtyErr)
	assert.Equal(t, 50, qtyErr.Min)
	assert.Equal(t, 10000, qtyErr.Max)
	assert.Zero(t, v.calls())
}

func TestPlaceOrderValidation(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	cases := []PlaceOrderRequest{
		{Quantity: 100, Link: "https://example.com"},          // no service
		{ServiceID: 200, Link: "https://example.com"},         // no quantity
		{ServiceID: 200, Quantity: 100},                       // no link
		{ServiceID: 200, Quantity: -5, Link: "https://e.com"}, // negative quantity
		{ServiceID: 200, Quantity: 100, Link: "not a url"},    // malformed link
	}

	for _, req := range cases {
		_, err := svc.PlaceOrder(context.Background(), 1, req)
		var validation *ValidationError
		assert.ErrorAs(t, err, &validation, "request %+v", req)
	}

	assert.Zero(t, v.calls())
	assert.Zero(t, st.orderCount())
}

func TestPlaceOrderServiceNotFound(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	_, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
		ServiceID: 999, Quantity: 100, Link: "https://example.com/p/1",
	})

	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestPlaceOrderIdempotency(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	req := PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
		IdempotencyKey: "key-123",
	}

	first, err := svc.PlaceOrder(context.Background(), 1, req)
	require.NoError(t, err)

	second, err := svc.PlaceOrder(context.Background(), 1, req)
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, v.calls(), "duplicate submit must not reach the vendor")
	assert.True(t, st.balance(1).Equal(dec("88")), "duplicate submit must not double-charge")
}

func TestPlaceOrderCommitFailureSurfaces(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	st.createErr = errors.New("connection reset")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	_, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, st.balance(1).Equal(dec("100")))
}

// disconnectingVendor drops the caller mid-flight, the way a closed HTTP
// request context would, and fails if the dispatch context noticed.
type disconnectingVendor struct {
	fakeVendor
	disconnect context.CancelFunc
}

func (v *disconnectingVendor) AddOrder(ctx context.Context, serviceID int64, quantity int, link, comments string) (string, error) {
	v.disconnect()
	if err := ctx.Err(); err != nil {
		return "", &vendor.ProtocolError{Message: "request aborted", Err: err}
	}
	return v.fakeVendor.AddOrder(ctx, serviceID, quantity, link, comments)
}

func TestPlaceOrderSurvivesCallerDisconnect(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v := &disconnectingVendor{
		fakeVendor: fakeVendor{services: []models.Service{bulkService()}},
		disconnect: cancel,
	}
	svc := NewOrderService(st, NewCatalogService(v, nil), v, nil)

	resp, err := svc.PlaceOrder(ctx, 1, PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
	})
	require.NoError(t, err, "a caller disconnect must not abandon a dispatched vendor call")

	// the vendor accepted, so the debit and the order row must both exist
	require.NotNil(t, resp.Order)
	assert.Equal(t, "1", resp.Order.VendorOrderID)
	assert.True(t, st.balance(1).Equal(dec("88")), "balance %s", st.balance(1))
	assert.Equal(t, 1, st.orderCount())
}

func TestUserLockTableBoundedByInFlight(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("1000")
	st.balances[2] = dec("1000")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	for _, userID := range []int64{1, 2, 1} {
		_, err := svc.PlaceOrder(context.Background(), userID, PlaceOrderRequest{
			ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
		})
		require.NoError(t, err)
	}

	svc.locksMu.Lock()
	defer svc.locksMu.Unlock()
	assert.Empty(t, svc.userLocks, "lock entries must be evicted once released")
}

func TestQuotePreviewMatchesPlacement(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	preview, err := svc.QuotePreview(context.Background(), 200, 2000)
	require.NoError(t, err)

	resp, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
	})
	require.NoError(t, err)

	assert.Equal(t, preview, *resp.Quote)
}

func TestQuotePreviewClampsQuantity(t *testing.T) {
	st := newFakeStore()
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	quote, err := svc.QuotePreview(context.Background(), 200, 10)
	require.NoError(t, err)
	assert.Equal(t, 50, quote.Quantity)
}

func TestConcurrentPlacementsNeverOverdraw(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	// Each order costs 60 (10000 units at rate 5 per 1000, +20%).
	req := PlaceOrderRequest{ServiceID: 200, Quantity: 10000, Link: "https://example.com/p/1"}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(context.Background(), 1, req)
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.True(t, st.balance(1).Equal(dec("40")), "balance %s", st.balance(1))
	assert.Equal(t, 1, st.orderCount())
}

func TestListOrdersPaging(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("1000")
	v := &fakeVendor{services: []models.Service{bulkService()}}
	svc := newTestOrderService(st, v)

	for i := 0; i < 5; i++ {
		_, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
			ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
		})
		require.NoError(t, err)
	}

	items, hasMore, err := svc.ListOrders(context.Background(), 1, 1, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.True(t, hasMore)
	// newest first
	assert.Greater(t, items[0].ID, items[1].ID)

	items, hasMore, err = svc.ListOrders(context.Background(), 1, 3, 2)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.False(t, hasMore)
}

func TestRefreshStatusesScopedToOwner(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	st.balances[2] = dec("100")
	v := &fakeVendor{
		services: []models.Service{bulkService()},
		statuses: map[string]vendor.OrderStatus{
			"1": {Status: "Completed"},
			"2": {Status: "Completed"},
		},
	}
	svc := newTestOrderService(st, v)

	// vendor order "1" belongs to user 1, "2" to user 2
	_, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
	})
	require.NoError(t, err)
	_, err = svc.PlaceOrder(context.Background(), 2, PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/2",
	})
	require.NoError(t, err)

	balanceBefore := st.balance(1)

	results, err := svc.RefreshStatuses(context.Background(), 1, []string{"1", "2", "", "1"})
	require.NoError(t, err)

	// The foreign id is silently excluded, not an error.
	require.Len(t, results, 1)
	assert.True(t, results["1"].OK)
	assert.Equal(t, "Completed", results["1"].Status)

	own, err := st.OrdersByVendorIDs(context.Background(), 1, []string{"1"})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "Completed", own[0].Status)

	foreign, err := st.OrdersByVendorIDs(context.Background(), 2, []string{"2"})
	require.NoError(t, err)
	require.Len(t, foreign, 1)
	assert.Equal(t, models.OrderStatusPending, foreign[0].Status)

	assert.True(t, st.balance(1).Equal(balanceBefore), "status refresh must not touch balances")
}

func TestRefreshStatusesPerIDFailures(t *testing.T) {
	st := newFakeStore()
	st.balances[1] = dec("100")
	v := &fakeVendor{
		services:  []models.Service{bulkService()},
		statusErr: map[string]error{"1": &vendor.ProtocolError{Message: "timeout"}},
	}
	svc := newTestOrderService(st, v)

	_, err := svc.PlaceOrder(context.Background(), 1, PlaceOrderRequest{
		ServiceID: 200, Quantity: 2000, Link: "https://example.com/p/1",
	})
	require.NoError(t, err)

	results, err := svc.RefreshStatuses(context.Background(), 1, []string{"1"})
	require.NoError(t, err)

	require.Contains(t, results, "1")
	assert.False(t, results["1"].OK)
	assert.Equal(t, "timeout", results["1"].Error)
}

func TestRefreshStatusesEmptyIDs(t *testing.T) {
	st := newFakeStore()
	v := &fakeVendor{}
	svc := newTestOrderService(st, v)

	_, err := svc.RefreshStatuses(context.Background(), 1, nil)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = svc.RefreshStatuses(context.Background(), 1, []string{"", ""})
	assert.ErrorAs(t, err, &validation)
}
