// Package jobs publishes converted carts to order creation.
package jobs

import (
	"encoding/json"
	"time"

	domain "github.com/hanko-field/cart/internal/domain"
)

// CheckoutEventType is set as the event type attribute/header on every hand-off.
const CheckoutEventType = "cart.checkout.completed"

// CheckoutMessage is the JSON body handed to order creation.
type CheckoutMessage struct {
	HandoffID         string            `json:"handoffId"`
	CartID            string            `json:"cartId"`
	UserID            string            `json:"userId"`
	Currency          string            `json:"currency"`
	Items             []CheckoutItem    `json:"items"`
	Summary           CheckoutSummary   `json:"summary"`
	ShippingAddress   *CheckoutAddress  `json:"shippingAddress,omitempty"`
	BillingAddress    *CheckoutAddress  `json:"billingAddress,omitempty"`
	ShippingMethod    string            `json:"shippingMethod"`
	ShippingProvider  string            `json:"shippingProvider,omitempty"`
	EstimatedDelivery *time.Time        `json:"estimatedDelivery,omitempty"`
	PaymentMethod     string            `json:"paymentMethod"`
	PaymentDetails    map[string]string `json:"paymentDetails,omitempty"`
	CouponCode        string            `json:"couponCode,omitempty"`
	ConvertedAt       time.Time         `json:"convertedAt"`
}

type CheckoutItem struct {
	ItemID      string            `json:"itemId"`
	ProductID   string            `json:"productId"`
	SellerID    string            `json:"sellerId,omitempty"`
	ProductName string            `json:"productName,omitempty"`
	Quantity    int               `json:"quantity"`
	UnitPrice   int64             `json:"unitPrice"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}

type CheckoutSummary struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type CheckoutAddress struct {
	Recipient  string `json:"recipient,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// NewCheckoutMessage converts a snapshot to its wire form.
func NewCheckoutMessage(snapshot domain.CheckoutSnapshot) CheckoutMessage {
	msg := CheckoutMessage{
		HandoffID:         snapshot.HandoffID,
		CartID:            snapshot.CartID,
		UserID:            snapshot.UserID,
		Currency:          snapshot.Currency,
		Items:             make([]CheckoutItem, 0, len(snapshot.Items)),
		ShippingAddress:   checkoutAddress(snapshot.ShippingAddress),
		BillingAddress:    checkoutAddress(snapshot.BillingAddress),
		ShippingMethod:    string(snapshot.ShippingMethod),
		ShippingProvider:  snapshot.ShippingProvider,
		EstimatedDelivery: snapshot.EstimatedDelivery,
		PaymentMethod:     string(snapshot.PaymentMethod),
		PaymentDetails:    snapshot.PaymentDetails,
		ConvertedAt:       snapshot.ConvertedAt,
		Summary: CheckoutSummary{
			Subtotal: snapshot.Summary.Subtotal,
			Shipping: snapshot.Summary.Shipping,
			Tax:      snapshot.Summary.Tax,
			Discount: snapshot.Summary.Discount,
			Total:    snapshot.Summary.Total,
		},
	}
	if snapshot.Coupon != nil {
		msg.CouponCode = snapshot.Coupon.Code
	}
	for _, item := range snapshot.Items {
		var attrs map[string]string
		if len(item.SelectedAttributes) > 0 {
			attrs = make(map[string]string, len(item.SelectedAttributes))
			for _, attr := range item.SelectedAttributes {
				attrs[attr.Name] = attr.Value
			}
		}
		msg.Items = append(msg.Items, CheckoutItem{
			ItemID:      item.ID,
			ProductID:   item.ProductID,
			SellerID:    item.SellerID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Attributes:  attrs,
			Notes:       item.Notes,
		})
	}
	return msg
}

func checkoutAddress(addr *domain.Address) *CheckoutAddress {
	if addr == nil {
		return nil
	}
	return &CheckoutAddress{
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

func encodeCheckout(snapshot domain.CheckoutSnapshot) ([]byte, error) {
	return json.Marshal(NewCheckoutMessage(snapshot))
}
