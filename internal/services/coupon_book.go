package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/cart/internal/domain"
)

// StaticCouponBook serves a fixed set of coupons configured at startup.
type StaticCouponBook struct {
	coupons map[string]Coupon
}

// DefaultCoupons returns the coupon set used when nothing else is configured.
func DefaultCoupons() []Coupon {
	maxTen := int64(1000)
	return []Coupon{
		{Code: "SAVE10", DiscountType: domain.DiscountTypePercentage, DiscountValue: 10, MaxDiscount: &maxTen, MinPurchase: 2000},
		{Code: "FLAT5", DiscountType: domain.DiscountTypeFixed, DiscountValue: 500, MinPurchase: 1500},
		{Code: "FREESHIP", DiscountType: domain.DiscountTypeFreeShipping, MinPurchase: 0},
	}
}

// NewStaticCouponBook validates and indexes coupons by upper-cased code.
func NewStaticCouponBook(coupons []Coupon) (*StaticCouponBook, error) {
	book := &StaticCouponBook{coupons: make(map[string]Coupon, len(coupons))}
	for _, coupon := range coupons {
		code := normaliseCouponCode(coupon.Code)
		if code == "" {
			return nil, fmt.Errorf("coupon book: empty coupon code")
		}
		if !coupon.DiscountType.Valid() {
			return nil, fmt.Errorf("coupon book: %s has unsupported discount type %q", code, coupon.DiscountType)
		}
		if coupon.DiscountValue < 0 || coupon.MinPurchase < 0 {
			return nil, fmt.Errorf("coupon book: %s has negative values", code)
		}
		if coupon.DiscountType == domain.DiscountTypePercentage && coupon.DiscountValue > 100 {
			return nil, fmt.Errorf("coupon book: %s percentage exceeds 100", code)
		}
		if _, dup := book.coupons[code]; dup {
			return nil, fmt.Errorf("coupon book: duplicate code %s", code)
		}
		coupon.Code = code
		book.coupons[code] = coupon
	}
	return book, nil
}

// Lookup returns a copy of the coupon registered under code.
func (b *StaticCouponBook) Lookup(_ context.Context, code string) (Coupon, error) {
	if b == nil {
		return Coupon{}, ErrCouponNotFound
	}
	coupon, ok := b.coupons[normaliseCouponCode(code)]
	if !ok {
		return Coupon{}, ErrCouponNotFound
	}
	if coupon.MaxDiscount != nil {
		v := *coupon.MaxDiscount
		coupon.MaxDiscount = &v
	}
	if coupon.ExpiresAt != nil {
		v := *coupon.ExpiresAt
		coupon.ExpiresAt = &v
	}
	coupon.AppliedAt = time.Time{}
	return coupon, nil
}

func normaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
