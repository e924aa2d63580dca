package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/cart/internal/services"
)

type cartPayload struct {
	ID                    string            `json:"id"`
	UserID                string            `json:"userId"`
	Status                string            `json:"status"`
	Currency              string            `json:"currency"`
	Items                 []cartItemPayload `json:"items"`
	Summary               summaryPayload    `json:"summary"`
	ShippingAddress       *addressPayload   `json:"shippingAddress,omitempty"`
	BillingAddress        *addressPayload   `json:"billingAddress,omitempty"`
	BillingSameAsShipping bool              `json:"billingSameAsShipping"`
	ShippingMethod        string            `json:"shippingMethod"`
	ShippingProvider      string            `json:"shippingProvider,omitempty"`
	EstimatedDelivery     string            `json:"estimatedDelivery,omitempty"`
	PaymentMethod         string            `json:"paymentMethod,omitempty"`
	PaymentDetails        map[string]string `json:"paymentDetails,omitempty"`
	Coupon                *couponPayload    `json:"coupon,omitempty"`
	LastActivity          string            `json:"lastActivity,omitempty"`
	AbandonedAt           string            `json:"abandonedAt,omitempty"`
	ConvertedAt           string            `json:"convertedAt,omitempty"`
	ExpiresAt             string            `json:"expiresAt,omitempty"`
	Revision              int64             `json:"revision"`
	CreatedAt             string            `json:"createdAt,omitempty"`
	UpdatedAt             string            `json:"updatedAt,omitempty"`
	Warnings              []string          `json:"warnings,omitempty"`
}

type cartItemPayload struct {
	ID                 string             `json:"id"`
	ProductID          string             `json:"productId"`
	SellerID           string             `json:"sellerId,omitempty"`
	ProductName        string             `json:"productName,omitempty"`
	Quantity           int                `json:"quantity"`
	UnitPrice          int64              `json:"unitPrice"`
	LineTotal          int64              `json:"lineTotal"`
	SelectedAttributes []attributePayload `json:"selectedAttributes,omitempty"`
	Notes              string             `json:"notes,omitempty"`
	AddedAt            string             `json:"addedAt,omitempty"`
	UpdatedAt          string             `json:"updatedAt,omitempty"`
}

type attributePayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type summaryPayload struct {
	TotalItems    int   `json:"totalItems"`
	TotalQuantity int   `json:"totalQuantity"`
	Subtotal      int64 `json:"subtotal"`
	Shipping      int64 `json:"shipping"`
	Tax           int64 `json:"tax"`
	Discount      int64 `json:"discount"`
	Total         int64 `json:"total"`
}

type couponPayload struct {
	Code          string `json:"code"`
	DiscountType  string `json:"discountType"`
	DiscountValue int64  `json:"discountValue"`
	MaxDiscount   *int64 `json:"maxDiscount,omitempty"`
	MinPurchase   int64  `json:"minPurchase"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
	AppliedAt     string `json:"appliedAt,omitempty"`
}

type addressPayload struct {
	Recipient  string `json:"recipient,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type summaryResponse struct {
	CartID   string          `json:"cartId"`
	Currency string          `json:"currency"`
	Summary  summaryPayload  `json:"summary"`
	Sellers  []sellerPayload `json:"sellers"`
	Coupon   *couponPayload  `json:"coupon,omitempty"`
}

type sellerPayload struct {
	SellerID  string            `json:"sellerId"`
	Items     []cartItemPayload `json:"items"`
	ItemCount int               `json:"itemCount"`
	Subtotal  int64             `json:"subtotal"`
}

type issuePayload struct {
	Code          string `json:"code"`
	Severity      string `json:"severity"`
	Message       string `json:"message,omitempty"`
	ItemID        string `json:"itemId,omitempty"`
	ProductID     string `json:"productId,omitempty"`
	ProductName   string `json:"productName,omitempty"`
	Requested     int    `json:"requested,omitempty"`
	Available     int    `json:"available,omitempty"`
	CapturedPrice int64  `json:"capturedPrice,omitempty"`
	CurrentPrice  int64  `json:"currentPrice,omitempty"`
}

type validationResponse struct {
	CartID string         `json:"cartId,omitempty"`
	Valid  bool           `json:"valid"`
	Issues []issuePayload `json:"issues"`
}

type checkoutResponse struct {
	HandoffID         string            `json:"handoffId"`
	CartID            string            `json:"cartId"`
	UserID            string            `json:"userId"`
	Currency          string            `json:"currency"`
	Items             []cartItemPayload `json:"items"`
	Summary           summaryPayload    `json:"summary"`
	ShippingAddress   *addressPayload   `json:"shippingAddress,omitempty"`
	BillingAddress    *addressPayload   `json:"billingAddress,omitempty"`
	ShippingMethod    string            `json:"shippingMethod"`
	ShippingProvider  string            `json:"shippingProvider,omitempty"`
	EstimatedDelivery string            `json:"estimatedDelivery,omitempty"`
	PaymentMethod     string            `json:"paymentMethod"`
	PaymentDetails    map[string]string `json:"paymentDetails,omitempty"`
	Coupon            *couponPayload    `json:"coupon,omitempty"`
	ConvertedAt       string            `json:"convertedAt"`
	Published         bool              `json:"published"`
	MessageID         string            `json:"messageId,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
}

func buildCartPayload(cart services.Cart, warnings []string) cartPayload {
	payload := cartPayload{
		ID:                    cart.ID,
		UserID:                cart.UserID,
		Status:                string(cart.Status),
		Currency:              strings.ToUpper(cart.Currency),
		Items:                 buildCartItems(cart.Items),
		Summary:               buildSummaryPayload(cart.Summary),
		ShippingAddress:       buildAddressPayload(cart.ShippingAddress),
		BillingAddress:        buildAddressPayload(cart.BillingAddress),
		BillingSameAsShipping: cart.BillingSameAsShipping,
		ShippingMethod:        string(cart.ShippingMethod),
		ShippingProvider:      cart.ShippingProvider,
		EstimatedDelivery:     formatTimePtr(cart.EstimatedDelivery),
		PaymentMethod:         string(cart.PaymentMethod),
		PaymentDetails:        cloneStringMap(cart.PaymentDetails),
		Coupon:                buildCouponPayload(cart.AppliedCoupon),
		LastActivity:          formatTime(cart.LastActivity),
		AbandonedAt:           formatTimePtr(cart.AbandonedAt),
		ConvertedAt:           formatTimePtr(cart.ConvertedAt),
		ExpiresAt:             formatTimePtr(cart.ExpiresAt),
		Revision:              cart.Revision,
		CreatedAt:             formatTime(cart.CreatedAt),
		UpdatedAt:             formatTime(cart.UpdatedAt),
	}
	if len(warnings) > 0 {
		payload.Warnings = append([]string(nil), warnings...)
	}
	return payload
}

func buildCartItems(items []services.CartLineItem) []cartItemPayload {
	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		entry := cartItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			SellerID:    item.SellerID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.UnitPrice * int64(item.Quantity),
			Notes:       item.Notes,
			AddedAt:     formatTime(item.AddedAt),
			UpdatedAt:   formatTime(item.UpdatedAt),
		}
		for _, attr := range item.SelectedAttributes {
			entry.SelectedAttributes = append(entry.SelectedAttributes, attributePayload{Name: attr.Name, Value: attr.Value})
		}
		payload = append(payload, entry)
	}
	return payload
}

func buildSummaryPayload(summary services.CartSummary) summaryPayload {
	return summaryPayload{
		TotalItems:    summary.TotalItems,
		TotalQuantity: summary.TotalQuantity,
		Subtotal:      summary.Subtotal,
		Shipping:      summary.Shipping,
		Tax:           summary.Tax,
		Discount:      summary.Discount,
		Total:         summary.Total,
	}
}

func buildCouponPayload(coupon *services.Coupon) *couponPayload {
	if coupon == nil {
		return nil
	}
	payload := &couponPayload{
		Code:          coupon.Code,
		DiscountType:  string(coupon.DiscountType),
		DiscountValue: coupon.DiscountValue,
		MinPurchase:   coupon.MinPurchase,
		ExpiresAt:     formatTimePtr(coupon.ExpiresAt),
		AppliedAt:     formatTime(coupon.AppliedAt),
	}
	if coupon.MaxDiscount != nil {
		limit := *coupon.MaxDiscount
		payload.MaxDiscount = &limit
	}
	return payload
}

func buildAddressPayload(addr *services.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	return &addressPayload{
		Recipient:  addr.Recipient,
		Phone:      addr.Phone,
		Address:    addr.Address,
		Address2:   addr.Address2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func buildSummaryResponse(view services.CartSummaryView) summaryResponse {
	resp := summaryResponse{
		CartID:   view.CartID,
		Currency: view.Currency,
		Summary:  buildSummaryPayload(view.Summary),
		Sellers:  make([]sellerPayload, 0, len(view.Sellers)),
		Coupon:   buildCouponPayload(view.Coupon),
	}
	for _, group := range view.Sellers {
		resp.Sellers = append(resp.Sellers, sellerPayload{
			SellerID:  group.SellerID,
			Items:     buildCartItems(group.Items),
			ItemCount: group.ItemCount,
			Subtotal:  group.Subtotal,
		})
	}
	return resp
}

func buildIssues(issues []services.CartIssue) []issuePayload {
	payload := make([]issuePayload, 0, len(issues))
	for _, issue := range issues {
		payload = append(payload, issuePayload{
			Code:          issue.Code,
			Severity:      string(issue.Severity),
			Message:       issue.Message,
			ItemID:        issue.ItemID,
			ProductID:     issue.ProductID,
			ProductName:   issue.ProductName,
			Requested:     issue.Requested,
			Available:     issue.Available,
			CapturedPrice: issue.CapturedPrice,
			CurrentPrice:  issue.CurrentPrice,
		})
	}
	return payload
}

func buildCheckoutResponse(result services.CheckoutResult) checkoutResponse {
	snapshot := result.Snapshot
	return checkoutResponse{
		HandoffID:         snapshot.HandoffID,
		CartID:            snapshot.CartID,
		UserID:            snapshot.UserID,
		Currency:          snapshot.Currency,
		Items:             buildCartItems(snapshot.Items),
		Summary:           buildSummaryPayload(snapshot.Summary),
		ShippingAddress:   buildAddressPayload(snapshot.ShippingAddress),
		BillingAddress:    buildAddressPayload(snapshot.BillingAddress),
		ShippingMethod:    string(snapshot.ShippingMethod),
		ShippingProvider:  snapshot.ShippingProvider,
		EstimatedDelivery: formatTimePtr(snapshot.EstimatedDelivery),
		PaymentMethod:     string(snapshot.PaymentMethod),
		PaymentDetails:    cloneStringMap(snapshot.PaymentDetails),
		Coupon:            buildCouponPayload(snapshot.Coupon),
		ConvertedAt:       formatTime(snapshot.ConvertedAt),
		Published:         result.Published,
		MessageID:         result.MessageID,
		Warnings:          result.Warnings,
	}
}

// buildCartETag derives a weak validator from the cart id and revision.
func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" {
		return ""
	}
	input := fmt.Sprintf("%s:%d", cart.ID, cart.Revision)
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
