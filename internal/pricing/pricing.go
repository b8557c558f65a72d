// Package pricing computes quotes for vendor services with the storefront
// commission applied. All arithmetic is decimal; quote fields are rounded
// to 6 decimal places and the persisted charge to 3.
package pricing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/qasimkdr/viraloft/internal/models"
)

// ErrInvalidServiceRate is returned when the vendor descriptor carries no
// usable rate.
var ErrInvalidServiceRate = errors.New("invalid service rate")

const (
	defaultMinQuantity = 1
	defaultMaxQuantity = 1_000_000

	quoteScale  = 6
	chargeScale = 3
)

var (
	commissionRate = decimal.RequireFromString("0.2")
	perThousand    = decimal.NewFromInt(1000)
)

// Bounds returns the orderable quantity range for a service, substituting
// defaults when the vendor omitted them.
func Bounds(svc models.Service) (min, max int) {
	min, max = svc.Min, svc.Max
	if min <= 0 {
		min = defaultMinQuantity
	}
	if max <= 0 {
		max = defaultMaxQuantity
	}
	return min, max
}

// IsPerItem reports whether a service is priced per unit rather than per
// 1000 units. Vendor catalogs mix bulk engagement services with unit-priced
// packages; the heuristic mirrors how the catalog labels them.
func IsPerItem(svc models.Service) bool {
	min, _ := Bounds(svc)
	if min == 1 && svc.Max == 1 {
		return true
	}
	for _, text := range []string{svc.Type, svc.Name, svc.Category} {
		t := strings.ToLower(text)
		if strings.Contains(t, "package") || strings.Contains(t, "software") || strings.Contains(t, "license") {
			return true
		}
	}
	return false
}

// ComputeQuote prices a requested quantity of a service. The quantity is
// clamped into the service bounds rather than rejected; callers that must
// reject out-of-range requests check Bounds first. Pure and deterministic.
func ComputeQuote(svc models.Service, requestedQty int) (models.Quote, error) {
	if !svc.Rate.Valid {
		return models.Quote{}, ErrInvalidServiceRate
	}
	rate := svc.Rate.Decimal

	min, max := Bounds(svc)
	qty := requestedQty
	if qty < min {
		qty = min
	}
	if qty > max {
		qty = max
	}

	rateType := models.RateTypePer1000
	basePrice := rate.Mul(decimal.NewFromInt(int64(qty))).Div(perThousand)
	if IsPerItem(svc) {
		rateType = models.RateTypePerItem
		basePrice = rate.Mul(decimal.NewFromInt(int64(qty)))
	}

	commission := basePrice.Mul(commissionRate).Round(quoteScale)
	total := basePrice.Add(commission).Round(quoteScale)
	perUnit := total.Div(decimal.NewFromInt(int64(qty))).Round(quoteScale)

	return models.Quote{
		ServiceID:  svc.ID,
		Quantity:   qty,
		RateType:   rateType,
		BaseRate:   rate,
		BasePrice:  basePrice.Round(quoteScale),
		Commission: commission,
		Total:      total,
		PerUnit:    perUnit,
		Min:        min,
		Max:        max,
	}, nil
}

// ChargedPrice is the amount actually debited and stored on the order.
func ChargedPrice(q models.Quote) decimal.Decimal {
	return q.Total.Round(chargeScale)
}
