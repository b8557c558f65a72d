package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qasimkdr/viraloft/internal/pricing"
	"github.com/qasimkdr/viraloft/internal/service"
	"github.com/qasimkdr/viraloft/internal/util"
	"github.com/qasimkdr/viraloft/internal/vendor"
)

// Handler contains HTTP handlers
type Handler struct {
	orders  *service.OrderService
	catalog *service.CatalogService
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, catalog *service.CatalogService) *Handler {
	return &Handler{
		orders:  orders,
		catalog: catalog,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/api/v1/services/public", h.listPublicServices)

	v1 := router.Group("/api/v1", requireUser())
	{
		v1.GET("/services", h.listServices)
		v1.POST("/orders/quote", h.quote)
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.POST("/orders/status/batch", h.refreshStatuses)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// requireUser extracts the user id injected by the upstream auth layer.
// Session issuance and verification live outside this service.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}

func (h *Handler) listServices(c *gin.Context) {
	h.writeServices(c, false)
}

// listPublicServices serves the catalog without auth, raw vendor rates
// stripped.
func (h *Handler) listPublicServices(c *gin.Context) {
	h.writeServices(c, true)
}

func (h *Handler) writeServices(c *gin.Context, publicOnly bool) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	services, err := h.catalog.ListServices(c.Request.Context(), service.ListServicesParams{
		Query:    c.Query("q"),
		Category: c.Query("category"),
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"message": "Failed to fetch services", "vendor": vendor.Message(err)})
		return
	}

	if !publicOnly {
		c.JSON(http.StatusOK, services)
		return
	}

	public := make([]gin.H, 0, len(services))
	for _, s := range services {
		public = append(public, gin.H{
			"service":    s.ID,
			"name":       s.Name,
			"category":   s.Category,
			"type":       s.Type,
			"min":        s.Min,
			"max":        s.Max,
			"markupRate": s.MarkupRate,
		})
	}
	c.JSON(http.StatusOK, public)
}

func (h *Handler) quote(c *gin.Context) {
	var req struct {
		ServiceID int64 `json:"serviceId"`
		Quantity  int   `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "serviceId and quantity are required"})
		return
	}

	quote, err := h.orders.QuotePreview(c.Request.Context(), req.ServiceID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

func (h *Handler) createOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "serviceId, quantity, and link are required"})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orders.PlaceOrder(c.Request.Context(), currentUser(c), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	items, hasMore, err := h.orders.ListOrders(c.Request.Context(), currentUser(c), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to list orders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "hasMore": hasMore})
}

func (h *Handler) refreshStatuses(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "ids array required"})
		return
	}

	results, err := h.orders.RefreshStatuses(c.Request.Context(), currentUser(c), req.IDs)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// writeError maps workflow failures onto stable HTTP responses. Vendor
// failures carry the vendor's own text in a separate field.
func (h *Handler) writeError(c *gin.Context, err error) {
	var validation *service.ValidationError
	var qtyRange *service.QuantityRangeError
	var rejected *vendor.RejectedError
	var protocol *vendor.ProtocolError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"message": validation.Message})
	case errors.As(err, &qtyRange):
		c.JSON(http.StatusBadRequest, gin.H{"message": qtyRange.Error()})
	case errors.Is(err, pricing.ErrInvalidServiceRate):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid service rate"})
	case errors.Is(err, service.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Insufficient balance"})
	case errors.Is(err, service.ErrServiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Service not found"})
	case errors.As(err, &rejected):
		c.JSON(http.StatusBadGateway, gin.H{"message": "Vendor rejected order", "vendor": rejected.Message})
	case errors.As(err, &protocol):
		c.JSON(http.StatusBadGateway, gin.H{"message": "Vendor request failed", "vendor": protocol.Message})
	default:
		util.GetLogger().Error("request failed: " + err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to process request"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
