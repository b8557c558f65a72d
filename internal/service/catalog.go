package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qasimkdr/viraloft/internal/models"
	"github.com/qasimkdr/viraloft/internal/util"
	"github.com/qasimkdr/viraloft/internal/vendor"
)

var markupFactor = decimal.RequireFromString("1.2")

// vendorAPI is the slice of the vendor gateway the services consume.
type vendorAPI interface {
	Services(ctx context.Context) ([]models.Service, error)
	AddOrder(ctx context.Context, serviceID int64, quantity int, link, comments string) (string, error)
	GetOrderStatus(ctx context.Context, vendorOrderID string) (vendor.OrderStatus, error)
}

// catalogCache is the cache surface the catalog consumes; *redisclient.Client
// satisfies it.
type catalogCache interface {
	GetCatalog(ctx context.Context) ([]byte, bool, error)
	SetCatalog(ctx context.Context, payload []byte) error
}

// CatalogService serves the vendor service list with the storefront markup
// applied, backed by a short-TTL cache.
type CatalogService struct {
	vendor vendorAPI
	cache  catalogCache
	logger *zap.Logger
}

// NewCatalogService creates a catalog service. The cache may be nil.
func NewCatalogService(v vendorAPI, cache catalogCache) *CatalogService {
	return &CatalogService{
		vendor: v,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// PricedService is a catalog entry with the marked-up rate alongside the
// vendor rate. MarkupRate is per 1000 units (or per item), rounded to 3
// decimal places.
type PricedService struct {
	ID         int64           `json:"service"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Category   string          `json:"category"`
	Rate       decimal.Decimal `json:"rate"`
	MarkupRate decimal.Decimal `json:"markupRate"`
	Min        int             `json:"min"`
	Max        int             `json:"max"`
}

// ListServicesParams filters and pages the catalog.
type ListServicesParams struct {
	Query    string
	Category string
	Offset   int
	Limit    int
}

// fetchServices loads the vendor catalog, cache-aside. Cache failures
// degrade to a direct vendor fetch.
func (cs *CatalogService) fetchServices(ctx context.Context) ([]models.Service, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.fetchServices")
	defer span.End()

	if cs.cache != nil {
		payload, hit, err := cs.cache.GetCatalog(ctx)
		if err != nil {
			cs.logger.Warn("Catalog cache read failed", zap.Error(err))
		}
		if hit {
			var services []models.Service
			if err := json.Unmarshal(payload, &services); err != nil {
				cs.logger.Warn("Catalog cache payload unreadable, refetching", zap.Error(err))
			} else {
				util.CatalogCacheHitsTotal.Inc()
				return services, nil
			}
		}
	}
	util.CatalogCacheMissesTotal.Inc()

	services, err := cs.vendor.Services(ctx)
	if err != nil {
		return nil, err
	}

	if cs.cache != nil {
		if payload, err := json.Marshal(services); err == nil {
			if err := cs.cache.SetCatalog(ctx, payload); err != nil {
				cs.logger.Warn("Catalog cache write failed", zap.Error(err))
			}
		}
	}

	return services, nil
}

// FindService resolves a single service descriptor by vendor id.
func (cs *CatalogService) FindService(ctx context.Context, serviceID int64) (models.Service, error) {
	services, err := cs.fetchServices(ctx)
	if err != nil {
		return models.Service{}, err
	}
	for _, svc := range services {
		if svc.ID == serviceID {
			return svc, nil
		}
	}
	return models.Service{}, ErrServiceNotFound
}

// ListServices filters, marks up and pages the catalog.
func (cs *CatalogService) ListServices(ctx context.Context, params ListServicesParams) ([]PricedService, error) {
	services, err := cs.fetchServices(ctx)
	if err != nil {
		return nil, err
	}

	filtered := services
	if params.Category != "" {
		c := strings.ToLower(params.Category)
		filtered = filterServices(filtered, func(s models.Service) bool {
			return strings.ToLower(s.Category) == c
		})
	}
	if params.Query != "" {
		needle := strings.ToLower(params.Query)
		filtered = filterServices(filtered, func(s models.Service) bool {
			return strings.Contains(strings.ToLower(s.Name), needle) ||
				strings.Contains(strconv.FormatInt(s.ID, 10), needle)
		})
	}

	priced := make([]PricedService, 0, len(filtered))
	for _, s := range filtered {
		rate := decimal.Zero
		if s.Rate.Valid {
			rate = s.Rate.Decimal
		}
		priced = append(priced, PricedService{
			ID:         s.ID,
			Name:       s.Name,
			Type:       s.Type,
			Category:   s.Category,
			Rate:       rate,
			MarkupRate: rate.Mul(markupFactor).Round(3),
			Min:        s.Min,
			Max:        s.Max,
		})
	}

	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	limit := params.Limit
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	if offset >= len(priced) {
		return []PricedService{}, nil
	}
	end := offset + limit
	if end > len(priced) {
		end = len(priced)
	}
	return priced[offset:end], nil
}

func filterServices(services []models.Service, keep func(models.Service) bool) []models.Service {
	out := services[:0:0]
	for _, s := range services {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
