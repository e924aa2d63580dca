package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/cart/internal/platform/auth"
	"github.com/hanko-field/cart/internal/platform/httpx"
	"github.com/hanko-field/cart/internal/platform/textutil"
	"github.com/hanko-field/cart/internal/services"
)

// CartHandlers exposes the authenticated /cart endpoints for the current user.
type CartHandlers struct {
	authn      *auth.Authenticator
	carts      services.CartService
	checkoutMW []func(http.Handler) http.Handler
}

// CartHandlersOption customises the cart handlers.
type CartHandlersOption func(*CartHandlers)

// WithCheckoutMiddleware wraps only the checkout route, e.g. with idempotency handling.
func WithCheckoutMiddleware(mw ...func(http.Handler) http.Handler) CartHandlersOption {
	return func(h *CartHandlers) {
		for _, m := range mw {
			if m != nil {
				h.checkoutMW = append(h.checkoutMW, m)
			}
		}
	}
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, opts ...CartHandlersOption) *CartHandlers {
	h := &CartHandlers{
		authn: authn,
		carts: carts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}

	r.Get("/", h.getCart)
	r.Get("/summary", h.getSummary)
	r.Get("/validate", h.validate)
	r.Post("/add", h.addToCart)

	r.Route("/items", func(items chi.Router) {
		items.Post("/", h.addItem)
		items.Delete("/", h.clear)
		items.Patch("/{itemID}", h.updateItem)
		items.Delete("/{itemID}", h.removeItem)
		items.Post("/{itemID}/increment", h.adjustItem(true))
		items.Post("/{itemID}/decrement", h.adjustItem(false))
	})

	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)

	r.Put("/shipping-address", h.updateShippingAddress)
	r.Put("/billing-address", h.updateBillingAddress)
	r.Put("/shipping-method", h.updateShippingMethod)
	r.Put("/payment-method", h.updatePaymentMethod)

	r.With(h.checkoutMW...).Post("/checkout", h.checkout)
	r.Post("/{cartID}/restore", h.restore)
}

type attributeRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type addItemRequest struct {
	ProductID          string             `json:"productId"`
	Quantity           int                `json:"quantity"`
	SelectedAttributes []attributeRequest `json:"selectedAttributes"`
	Notes              string             `json:"notes"`
}

type addToCartRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

type adjustRequest struct {
	By int `json:"by"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type addressRequest struct {
	Recipient  *string `json:"recipient"`
	Phone      *string `json:"phone"`
	Address    *string `json:"address"`
	Address2   *string `json:"address2"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	PostalCode *string `json:"postalCode"`
	Country    *string `json:"country"`
}

func (a addressRequest) input() services.AddressInput {
	return services.AddressInput{
		Recipient:  a.Recipient,
		Phone:      a.Phone,
		Address:    a.Address,
		Address2:   a.Address2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type billingAddressRequest struct {
	addressRequest
	SameAsShipping *bool `json:"sameAsShipping"`
}

type shippingMethodRequest struct {
	Method            string     `json:"method"`
	Provider          string     `json:"provider"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
}

type paymentMethodRequest struct {
	Method  string            `json:"method"`
	Details map[string]string `json:"details"`
}

func (h *CartHandlers) serviceReady(w http.ResponseWriter, r *http.Request) bool {
	if h.carts == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	view, err := h.carts.GetOrCreate(r.Context(), identity.UID)
	h.respondCart(w, r, view, err, "")
}

func (h *CartHandlers) getSummary(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	view, err := h.carts.GetSummary(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteSuccess(ctx, w, http.StatusOK, "", buildSummaryResponse(view))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	cmd := services.AddCartItemCommand{
		UserID:    identity.UID,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
		Notes:     req.Notes,
	}
	for _, attr := range req.SelectedAttributes {
		cmd.SelectedAttributes = append(cmd.SelectedAttributes, services.SelectedAttribute{Name: attr.Name, Value: attr.Value})
	}
	view, err := h.carts.AddItem(r.Context(), cmd)
	h.respondCart(w, r, view, err, "item added to cart")
}

func (h *CartHandlers) addToCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req addToCartRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	view, err := h.carts.AddToCart(r.Context(), services.AddToCartCommand{
		UserID:    identity.UID,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
	})
	h.respondCart(w, r, view, err, "item added to cart")
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError(services.CodeInvalidQuantity, "quantity is required", http.StatusBadRequest))
		return
	}
	view, err := h.carts.UpdateItemQuantity(r.Context(), services.UpdateCartItemCommand{
		UserID:   identity.UID,
		ItemID:   chi.URLParam(r, "itemID"),
		Quantity: *req.Quantity,
	})
	h.respondCart(w, r, view, err, "item updated")
}

func (h *CartHandlers) adjustItem(increase bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := h.begin(w, r)
		if !ok {
			return
		}
		var req adjustRequest
		if !decodeBody(w, r, &req, true) {
			return
		}
		cmd := services.AdjustCartItemCommand{
			UserID: identity.UID,
			ItemID: chi.URLParam(r, "itemID"),
			By:     req.By,
		}
		var (
			view services.CartView
			err  error
		)
		if increase {
			view, err = h.carts.IncreaseQuantity(r.Context(), cmd)
		} else {
			view, err = h.carts.DecreaseQuantity(r.Context(), cmd)
		}
		h.respondCart(w, r, view, err, "item updated")
	}
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	view, err := h.carts.RemoveItem(r.Context(), services.RemoveCartItemCommand{
		UserID: identity.UID,
		ItemID: chi.URLParam(r, "itemID"),
	})
	h.respondCart(w, r, view, err, "item removed")
}

func (h *CartHandlers) clear(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	view, err := h.carts.Clear(r.Context(), identity.UID)
	h.respondCart(w, r, view, err, "cart cleared")
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req couponRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	view, err := h.carts.ApplyCoupon(r.Context(), services.ApplyCouponCommand{UserID: identity.UID, Code: req.Code})
	h.respondCart(w, r, view, err, "coupon applied")
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	view, err := h.carts.RemoveCoupon(r.Context(), identity.UID)
	h.respondCart(w, r, view, err, "coupon removed")
}

func (h *CartHandlers) updateShippingAddress(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	view, err := h.carts.UpdateShippingAddress(r.Context(), services.UpdateAddressCommand{
		UserID:  identity.UID,
		Address: req.input(),
	})
	h.respondCart(w, r, view, err, "shipping address updated")
}

func (h *CartHandlers) updateBillingAddress(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req billingAddressRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	view, err := h.carts.UpdateBillingAddress(r.Context(), services.UpdateBillingAddressCommand{
		UserID:         identity.UID,
		Address:        req.input(),
		SameAsShipping: req.SameAsShipping,
	})
	h.respondCart(w, r, view, err, "billing address updated")
}

func (h *CartHandlers) updateShippingMethod(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req shippingMethodRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	view, err := h.carts.UpdateShippingMethod(r.Context(), services.UpdateShippingMethodCommand{
		UserID:            identity.UID,
		Method:            req.Method,
		Provider:          req.Provider,
		EstimatedDelivery: req.EstimatedDelivery,
	})
	h.respondCart(w, r, view, err, "shipping method updated")
}

func (h *CartHandlers) updatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req paymentMethodRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	view, err := h.carts.UpdatePaymentMethod(r.Context(), services.UpdatePaymentMethodCommand{
		UserID:  identity.UID,
		Method:  req.Method,
		Details: textutil.NormalizeKeys(req.Details),
	})
	h.respondCart(w, r, view, err, "payment method updated")
}

func (h *CartHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	result, err := h.carts.Checkout(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteSuccess(ctx, w, http.StatusOK, "checkout completed", buildCheckoutResponse(result))
}

func (h *CartHandlers) validate(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	result, err := h.carts.Validate(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteSuccess(ctx, w, http.StatusOK, "", validationResponse{
		CartID: result.CartID,
		Valid:  result.Valid,
		Issues: buildIssues(result.Issues),
	})
}

func (h *CartHandlers) restore(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.begin(w, r)
	if !ok {
		return
	}
	view, err := h.carts.Restore(r.Context(), services.RestoreCartCommand{
		UserID:  identity.UID,
		CartID:  chi.URLParam(r, "cartID"),
		IsAdmin: auth.Allows(identity, auth.CapabilityManageCarts),
	})
	h.respondCart(w, r, view, err, "cart restored")
}

func (h *CartHandlers) begin(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if !h.serviceReady(w, r) {
		return nil, false
	}
	return requireIdentity(w, r)
}

func (h *CartHandlers) respondCart(w http.ResponseWriter, r *http.Request, view services.CartView, err error, message string) {
	ctx := r.Context()
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	setCartResponseHeaders(w, view.Cart)
	httpx.WriteSuccess(ctx, w, http.StatusOK, message, buildCartPayload(view.Cart, view.Warnings))
}
