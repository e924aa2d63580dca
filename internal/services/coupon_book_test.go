package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/hanko-field/cart/internal/domain"
)

func TestStaticCouponBookLookup(t *testing.T) {
	book, err := NewStaticCouponBook(DefaultCoupons())
	if err != nil {
		t.Fatalf("NewStaticCouponBook: %v", err)
	}

	coupon, err := book.Lookup(context.Background(), "  save10 ")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if coupon.Code != "SAVE10" || coupon.DiscountType != domain.DiscountTypePercentage || coupon.MaxDiscount == nil || *coupon.MaxDiscount != 1000 {
		t.Fatalf("unexpected coupon %+v", coupon)
	}

	*coupon.MaxDiscount = 1
	again, _ := book.Lookup(context.Background(), "SAVE10")
	if *again.MaxDiscount != 1000 {
		t.Fatalf("expected lookup to return a copy, got max %d", *again.MaxDiscount)
	}

	if _, err := book.Lookup(context.Background(), "NOPE"); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}
}

func TestNewStaticCouponBookRejectsInvalidEntries(t *testing.T) {
	cases := map[string][]Coupon{
		"empty code":     {{Code: " ", DiscountType: domain.DiscountTypeFixed}},
		"unknown type":   {{Code: "X", DiscountType: domain.DiscountType("bogo")}},
		"negative value": {{Code: "X", DiscountType: domain.DiscountTypeFixed, DiscountValue: -1}},
		"over 100":       {{Code: "X", DiscountType: domain.DiscountTypePercentage, DiscountValue: 150}},
		"duplicate":      {{Code: "x", DiscountType: domain.DiscountTypeFixed}, {Code: "X", DiscountType: domain.DiscountTypeFixed}},
	}
	for name, coupons := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewStaticCouponBook(coupons); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
