package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/hanko-field/cart/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart              = domain.Cart
	CartLineItem      = domain.CartLineItem
	CartSummary       = domain.CartSummary
	CartIssue         = domain.CartIssue
	Coupon            = domain.Coupon
	Address           = domain.Address
	Product           = domain.Product
	SelectedAttribute = domain.SelectedAttribute
	CheckoutSnapshot  = domain.CheckoutSnapshot
	HealthReport      = domain.HealthReport
)

// ErrProductNotFound is returned by catalog gateways when a product id is unknown.
var ErrProductNotFound = errors.New("catalog: product not found")

// ErrCatalogUnavailable is returned by catalog gateways when the catalog cannot be reached.
var ErrCatalogUnavailable = errors.New("catalog: unavailable")

// ErrCouponNotFound is returned by coupon books for unknown codes.
var ErrCouponNotFound = errors.New("coupon: not found")

// ProductCatalog is the read-only view of the product catalog the cart depends on.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// CouponBook resolves coupon codes into their discount rules.
type CouponBook interface {
	Lookup(ctx context.Context, code string) (Coupon, error)
}

// CheckoutPublisher hands converted carts to order creation.
type CheckoutPublisher interface {
	PublishCheckout(ctx context.Context, snapshot CheckoutSnapshot) (string, error)
}

// CartCache is a read-through cache in front of the cart store, keyed by user.
type CartCache interface {
	Get(ctx context.Context, userID string) (Cart, bool, error)
	Set(ctx context.Context, cart Cart) error
	Invalidate(ctx context.Context, userID string) error
}

// CartService exposes the owner-facing cart operations.
type CartService interface {
	GetOrCreate(ctx context.Context, userID string) (CartView, error)
	GetSummary(ctx context.Context, userID string) (CartSummaryView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	AddToCart(ctx context.Context, cmd AddToCartCommand) (CartView, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error)
	IncreaseQuantity(ctx context.Context, cmd AdjustCartItemCommand) (CartView, error)
	DecreaseQuantity(ctx context.Context, cmd AdjustCartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error)
	Clear(ctx context.Context, userID string) (CartView, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (CartView, error)
	RemoveCoupon(ctx context.Context, userID string) (CartView, error)
	UpdateShippingAddress(ctx context.Context, cmd UpdateAddressCommand) (CartView, error)
	UpdateBillingAddress(ctx context.Context, cmd UpdateBillingAddressCommand) (CartView, error)
	UpdateShippingMethod(ctx context.Context, cmd UpdateShippingMethodCommand) (CartView, error)
	UpdatePaymentMethod(ctx context.Context, cmd UpdatePaymentMethodCommand) (CartView, error)
	Checkout(ctx context.Context, userID string) (CheckoutResult, error)
	Validate(ctx context.Context, userID string) (ValidationResult, error)
	Restore(ctx context.Context, cmd RestoreCartCommand) (CartView, error)
}

// CartLifecycleService drives abandonment and expiry over the whole store.
type CartLifecycleService interface {
	MarkAbandoned(ctx context.Context) (LifecycleReport, error)
	FindAbandoned(ctx context.Context, filter AbandonedCartFilter) (domain.CursorPage[Cart], error)
	CleanupExpired(ctx context.Context) (int, error)
}

// CartView is the cart plus the non-fatal notices produced while serving the request.
type CartView struct {
	Cart     Cart
	Warnings []string
}

// SellerGroup aggregates the lines of one seller for the summary view.
type SellerGroup struct {
	SellerID  string
	Items     []CartLineItem
	ItemCount int
	Subtotal  int64
}

// CartSummaryView is the summary with the per-seller breakdown.
type CartSummaryView struct {
	CartID   string
	Currency string
	Summary  CartSummary
	Sellers  []SellerGroup
	Coupon   *Coupon
}

// AddCartItemCommand adds a product variant to the caller's cart.
type AddCartItemCommand struct {
	UserID             string
	ProductID          string
	Quantity           int
	SelectedAttributes []SelectedAttribute
	Notes              string
}

// AddToCartCommand is the thin add variant; a zero quantity means one.
type AddToCartCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// UpdateCartItemCommand sets the quantity of a line; below one removes it.
type UpdateCartItemCommand struct {
	UserID   string
	ItemID   string
	Quantity int
}

// AdjustCartItemCommand moves a line quantity by a step; a zero step means one.
type AdjustCartItemCommand struct {
	UserID string
	ItemID string
	By     int
}

type RemoveCartItemCommand struct {
	UserID string
	ItemID string
}

type ApplyCouponCommand struct {
	UserID string
	Code   string
}

// AddressInput carries a merge-patch for an address.
type AddressInput struct {
	Recipient  *string
	Phone      *string
	Address    *string
	Address2   *string
	City       *string
	State      *string
	PostalCode *string
	Country    *string
}

type UpdateAddressCommand struct {
	UserID  string
	Address AddressInput
}

// UpdateBillingAddressCommand either mirrors shipping or patches an independent address.
type UpdateBillingAddressCommand struct {
	UserID         string
	Address        AddressInput
	SameAsShipping *bool
}

type UpdateShippingMethodCommand struct {
	UserID            string
	Method            string
	Provider          string
	EstimatedDelivery *time.Time
}

type UpdatePaymentMethodCommand struct {
	UserID  string
	Method  string
	Details map[string]string
}

// RestoreCartCommand restores an abandoned cart. Admins may restore carts they do not own.
type RestoreCartCommand struct {
	UserID  string
	CartID  string
	IsAdmin bool
}

// CheckoutResult reports the converted cart and the hand-off outcome.
type CheckoutResult struct {
	Snapshot  CheckoutSnapshot
	Cart      Cart
	Published bool
	MessageID string
	Warnings  []string
}

// ValidationResult lists every issue found in the cart. Valid ignores warnings.
type ValidationResult struct {
	CartID string
	Valid  bool
	Issues []CartIssue
}

// AbandonedCartFilter selects carts abandoned at least Days ago.
type AbandonedCartFilter struct {
	Days      int
	PageSize  int
	PageToken string
}

// LifecycleReport summarises one abandonment sweep.
type LifecycleReport struct {
	Scanned   int
	Abandoned int
	Skipped   int
	Conflicts int
	StartedAt time.Time
	Duration  time.Duration
}
