package services

import (
	"errors"
	"fmt"

	domain "github.com/hanko-field/cart/internal/domain"
)

// Error kinds. Every *CartError unwraps to exactly one of them.
var (
	ErrCartValidation  = errors.New("cart: validation failed")
	ErrCartNotFound    = errors.New("cart: not found")
	ErrCartStock       = errors.New("cart: insufficient stock")
	ErrCartState       = errors.New("cart: illegal state")
	ErrCartForbidden   = errors.New("cart: forbidden")
	ErrCartConflict    = errors.New("cart: concurrent modification")
	ErrCartUnavailable = errors.New("cart: dependency unavailable")
	ErrCartInternal    = errors.New("cart: internal error")
)

// Machine readable failure codes surfaced to clients.
const (
	CodeInvalidQuantity        = "invalid_quantity"
	CodeInvalidInput           = "invalid_input"
	CodeInvalidShippingMethod  = "invalid_shipping_method"
	CodeInvalidPaymentMethod   = "invalid_payment_method"
	CodeForbiddenPaymentDetail = "forbidden_payment_detail"
	CodeMissingAddressFields   = "missing_address_fields"
	CodeCartNotFound           = "cart_not_found"
	CodeItemNotFound           = "item_not_found"
	CodeProductNotFound        = "product_not_found"
	CodeProductUnavailable     = "product_unavailable"
	CodeOutOfStock             = "out_of_stock"
	CodeInsufficientStock      = "insufficient_stock"
	CodeCouponNotFound         = "coupon_not_found"
	CodeCouponExpired          = "coupon_expired"
	CodeMinPurchaseNotMet      = "min_purchase_not_met"
	CodeEmptyCart              = "empty_cart"
	CodeMissingShippingAddress = "missing_shipping_address"
	CodeMissingPaymentMethod   = "missing_payment_method"
	CodeNotAbandoned           = "cart_not_abandoned"
	CodeCartClosed             = "cart_closed"
	CodeNotCartOwner           = "not_cart_owner"
	CodePriceChanged           = "price_changed"
	CodeConcurrentUpdate       = "concurrent_update"
	CodeStoreUnavailable       = "store_unavailable"
	CodeCatalogUnavailable     = "catalog_unavailable"
	CodeInternal               = "internal_error"
)

// CartError carries enough context for the boundary to build an actionable response.
type CartError struct {
	Kind        error
	Code        string
	Message     string
	Field       string
	ItemID      string
	ProductID   string
	ProductName string
	Requested   int
	Available   int
	Issues      []domain.CartIssue
	Err         error
}

func (e *CartError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, msg)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *CartError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newCartError(kind error, code, message string) *CartError {
	return &CartError{Kind: kind, Code: code, Message: message}
}

func validationError(code, field, message string) *CartError {
	return &CartError{Kind: ErrCartValidation, Code: code, Field: field, Message: message}
}

func itemNotFound(itemID string) *CartError {
	return &CartError{Kind: ErrCartNotFound, Code: CodeItemNotFound, ItemID: itemID, Message: fmt.Sprintf("item %s is not in the cart", itemID)}
}

func productUnavailable(product domain.Product, itemID string) *CartError {
	return &CartError{
		Kind:        ErrCartState,
		Code:        CodeProductUnavailable,
		ItemID:      itemID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Message:     fmt.Sprintf("product %s is not available for purchase", displayName(product)),
	}
}

func stockError(code string, product domain.Product, itemID string, requested int) *CartError {
	return &CartError{
		Kind:        ErrCartStock,
		Code:        code,
		ItemID:      itemID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Requested:   requested,
		Available:   product.Stock,
		Message:     fmt.Sprintf("only %d of %s available, %d requested", product.Stock, displayName(product), requested),
	}
}

// AsCartError extracts the typed error when present.
func AsCartError(err error) (*CartError, bool) {
	var cartErr *CartError
	if errors.As(err, &cartErr) {
		return cartErr, true
	}
	return nil, false
}

func displayName(product domain.Product) string {
	if product.Name != "" {
		return product.Name
	}
	return product.ID
}
