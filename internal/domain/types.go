package domain

import "time"

// CartStatus enumerates the lifecycle states of a cart.
type CartStatus string

const (
	// CartStatusActive is the initial state; the owner can freely mutate the cart.
	CartStatusActive CartStatus = "active"
	// CartStatusAbandoned marks an idle cart that can still be restored.
	CartStatusAbandoned CartStatus = "abandoned"
	// CartStatusConverted is terminal: the cart was handed off as an order.
	CartStatusConverted CartStatus = "converted"
	// CartStatusExpired is terminal: the cart outlived its rolling TTL.
	CartStatusExpired CartStatus = "expired"
)

// IsOpen reports whether the status belongs to the user's current cart lineage.
func (s CartStatus) IsOpen() bool {
	return s == CartStatusActive || s == CartStatusAbandoned
}

// ShippingMethod enumerates the supported delivery options.
type ShippingMethod string

const (
	ShippingMethodStandard ShippingMethod = "standard"
	ShippingMethodExpress  ShippingMethod = "express"
	ShippingMethodNextDay  ShippingMethod = "next_day"
	ShippingMethodPickup   ShippingMethod = "pickup"
)

// Valid reports whether the method is one of the known shipping options.
func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingMethodStandard, ShippingMethodExpress, ShippingMethodNextDay, ShippingMethodPickup:
		return true
	default:
		return false
	}
}

// PaymentMethod enumerates the payment options a cart can record.
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodWallet         PaymentMethod = "wallet"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodCrypto         PaymentMethod = "crypto"
)

// Valid reports whether the method is one of the known payment options.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodWallet, PaymentMethodCashOnDelivery, PaymentMethodCrypto:
		return true
	default:
		return false
	}
}

// DiscountType enumerates coupon discount rules.
type DiscountType string

const (
	DiscountTypePercentage   DiscountType = "percentage"
	DiscountTypeFixed        DiscountType = "fixed"
	DiscountTypeFreeShipping DiscountType = "free_shipping"
)

// Valid reports whether the discount type is supported.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountTypePercentage, DiscountTypeFixed, DiscountTypeFreeShipping:
		return true
	default:
		return false
	}
}

// SelectedAttribute is a single variant selector (size, colour, ...) on a line item.
type SelectedAttribute struct {
	Name  string
	Value string
}

// CartLineItem stores one product variant and its quantity within a cart.
type CartLineItem struct {
	ID                 string
	ProductID          string
	SellerID           string
	ProductName        string
	Quantity           int
	UnitPrice          int64
	SelectedAttributes []SelectedAttribute
	Notes              string
	AddedAt            time.Time
	UpdatedAt          time.Time
}

// Coupon captures the coupon applied to a cart.
type Coupon struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue int64
	MaxDiscount   *int64
	MinPurchase   int64
	ExpiresAt     *time.Time
	AppliedAt     time.Time
}

// CartSummary is derived from the line items and coupon; it is never edited directly.
type CartSummary struct {
	TotalItems    int
	TotalQuantity int
	Subtotal      int64
	Shipping      int64
	Tax           int64
	Discount      int64
	Total         int64
}

// Address holds a postal address used for shipping or billing.
type Address struct {
	Recipient  string
	Phone      string
	Address    string
	Address2   string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Cart is the aggregate root for one user's in-progress purchase.
type Cart struct {
	ID                    string
	UserID                string
	Currency              string
	Items                 []CartLineItem
	Summary               CartSummary
	ShippingAddress       *Address
	BillingAddress        *Address
	BillingSameAsShipping bool
	ShippingMethod        ShippingMethod
	ShippingProvider      string
	EstimatedDelivery     *time.Time
	PaymentMethod         PaymentMethod
	PaymentDetails        map[string]string
	AppliedCoupon         *Coupon
	Status                CartStatus
	LastActivity          time.Time
	AbandonedAt           *time.Time
	ConvertedAt           *time.Time
	ExpiresAt             *time.Time
	Revision              int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Product is the catalog view consumed by the cart. The catalog owns it.
type Product struct {
	ID       string
	SellerID string
	Name     string
	Price    int64
	Currency string
	Stock    int
	Status   string
}

// ProductStatusActive is the only catalog status that can be purchased.
const ProductStatusActive = "active"

// IsActive reports whether the product can currently be sold.
func (p Product) IsActive() bool {
	return p.Status == ProductStatusActive
}

// IssueSeverity tells clients whether an issue blocks checkout.
type IssueSeverity string

const (
	IssueSeverityError   IssueSeverity = "error"
	IssueSeverityWarning IssueSeverity = "warning"
)

// CartIssue describes one problem found while validating or converting a cart.
type CartIssue struct {
	Code          string
	Severity      IssueSeverity
	ItemID        string
	ProductID     string
	ProductName   string
	Requested     int
	Available     int
	CapturedPrice int64
	CurrentPrice  int64
	Message       string
}

// CheckoutSnapshot is the state handed to order creation when a cart converts.
type CheckoutSnapshot struct {
	HandoffID         string
	CartID            string
	UserID            string
	Currency          string
	Items             []CartLineItem
	Summary           CartSummary
	ShippingAddress   *Address
	BillingAddress    *Address
	ShippingMethod    ShippingMethod
	ShippingProvider  string
	EstimatedDelivery *time.Time
	PaymentMethod     PaymentMethod
	PaymentDetails    map[string]string
	Coupon            *Coupon
	ConvertedAt       time.Time
}

// CursorPage wraps a paginated result set with the next page token if more results exist.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
