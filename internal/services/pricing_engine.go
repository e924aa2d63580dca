package services

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/cart/internal/domain"
)

// DefaultTaxRate is the flat tax policy applied to the subtotal.
var DefaultTaxRate = decimal.NewFromFloat(0.10)

// DefaultShippingRates returns the flat shipping table in minor units.
func DefaultShippingRates() map[domain.ShippingMethod]int64 {
	return map[domain.ShippingMethod]int64{
		domain.ShippingMethodStandard: 500,
		domain.ShippingMethodExpress:  1200,
		domain.ShippingMethodNextDay:  2500,
		domain.ShippingMethodPickup:   0,
	}
}

// PricingConfig configures the summary engine. Zero values fall back to the defaults.
type PricingConfig struct {
	ShippingRates map[domain.ShippingMethod]int64
	TaxRate       *decimal.Decimal
}

// PricingEngine derives cart summaries. It holds no mutable state and performs no I/O,
// so identical inputs always produce identical summaries.
type PricingEngine struct {
	shipping map[domain.ShippingMethod]int64
	taxRate  decimal.Decimal
}

// NewPricingEngine validates the configuration and constructs the engine.
func NewPricingEngine(cfg PricingConfig) (*PricingEngine, error) {
	rates := DefaultShippingRates()
	for method, cost := range cfg.ShippingRates {
		if !method.Valid() {
			return nil, fmt.Errorf("pricing engine: unknown shipping method %q", method)
		}
		if cost < 0 {
			return nil, fmt.Errorf("pricing engine: negative shipping cost for %q", method)
		}
		rates[method] = cost
	}

	taxRate := DefaultTaxRate
	if cfg.TaxRate != nil {
		taxRate = *cfg.TaxRate
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.New("pricing engine: tax rate must be between 0 and 1")
	}

	return &PricingEngine{shipping: rates, taxRate: taxRate}, nil
}

// ShippingCost returns the table cost for method. Unknown methods are charged as standard.
func (e *PricingEngine) ShippingCost(method domain.ShippingMethod) int64 {
	if cost, ok := e.shipping[method]; ok {
		return cost
	}
	return e.shipping[domain.ShippingMethodStandard]
}

// TaxRate exposes the configured rate.
func (e *PricingEngine) TaxRate() decimal.Decimal {
	return e.taxRate
}

// ComputeSummary recomputes the full summary from the line items, shipping method and coupon.
func (e *PricingEngine) ComputeSummary(items []domain.CartLineItem, method domain.ShippingMethod, coupon *domain.Coupon) domain.CartSummary {
	summary := domain.CartSummary{TotalItems: len(items)}

	for _, item := range items {
		summary.TotalQuantity += item.Quantity
		summary.Subtotal = addSaturating(summary.Subtotal, mulSaturating(item.UnitPrice, int64(item.Quantity)))
	}

	summary.Tax = e.taxRate.Mul(decimal.NewFromInt(summary.Subtotal)).Round(0).IntPart()

	if len(items) > 0 {
		summary.Shipping = e.ShippingCost(method)
	}

	if coupon != nil {
		switch coupon.DiscountType {
		case domain.DiscountTypePercentage:
			discount := decimal.NewFromInt(summary.Subtotal).
				Mul(decimal.NewFromInt(coupon.DiscountValue)).
				Div(decimal.NewFromInt(100)).
				Round(0).
				IntPart()
			if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
				discount = *coupon.MaxDiscount
			}
			summary.Discount = clampNonNegative(discount)
		case domain.DiscountTypeFixed:
			summary.Discount = clampNonNegative(min(coupon.DiscountValue, summary.Subtotal))
		case domain.DiscountTypeFreeShipping:
			summary.Discount = summary.Shipping
			summary.Shipping = 0
		}
	}

	total := addSaturating(addSaturating(summary.Subtotal, summary.Shipping), summary.Tax) - summary.Discount
	summary.Total = clampNonNegative(total)
	return summary
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func addSaturating(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func mulSaturating(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}
