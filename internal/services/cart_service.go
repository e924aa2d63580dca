package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog is required")
	errCartCouponsRequired    = errors.New("cart service: coupon book is required")
)

const (
	maxConflictAttempts   = 3
	defaultCartCurrency   = "USD"
	defaultCartTTL        = 30 * 24 * time.Hour
	catalogLookupParallel = 8
)

// CartServiceDeps wires the collaborators for owner-facing cart operations.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Catalog     ProductCatalog
	Coupons     CouponBook
	Publisher   CheckoutPublisher
	Cache       CartCache
	Pricer      *PricingEngine
	Clock       func() time.Time
	IDGenerator func() string
	HandoffIDs  func() string
	// NoteSanitizer strips markup from free-text line item notes.
	NoteSanitizer            func(string) string
	DefaultCurrency          string
	CartTTL                  time.Duration
	RevokeCouponBelowMinimum bool
	Logger                   func(context.Context, string, map[string]any)
	// Observer receives one call per operation with its outcome code.
	Observer func(operation, outcome string)
}

type cartService struct {
	repo      repositories.CartRepository
	catalog   ProductCatalog
	coupons   CouponBook
	publisher CheckoutPublisher
	cache     CartCache
	aggOpts   AggregateOptions
	handoffID func() string
	now       func() time.Time
	currency  string
	ttl       time.Duration
	logger    func(context.Context, string, map[string]any)
	observe   func(string, string)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Coupons == nil {
		return nil, errCartCouponsRequired
	}

	pricer := deps.Pricer
	if pricer == nil {
		var err error
		if pricer, err = NewPricingEngine(PricingConfig{}); err != nil {
			return nil, err
		}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	handoff := deps.HandoffIDs
	if handoff == nil {
		handoff = func() string { return uuid.NewString() }
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCartCurrency
	}
	ttl := deps.CartTTL
	if ttl <= 0 {
		ttl = defaultCartTTL
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	observe := deps.Observer
	if observe == nil {
		observe = func(string, string) {}
	}

	return &cartService{
		repo:      deps.Repository,
		catalog:   deps.Catalog,
		coupons:   deps.Coupons,
		publisher: deps.Publisher,
		cache:     deps.Cache,
		aggOpts: AggregateOptions{
			Pricer:                   pricer,
			Clock:                    now,
			IDGenerator:              idGen,
			NoteSanitizer:            deps.NoteSanitizer,
			RevokeCouponBelowMinimum: deps.RevokeCouponBelowMinimum,
		},
		handoffID: handoff,
		now:       now,
		currency:  currency,
		ttl:       ttl,
		logger:    logger,
		observe:   observe,
	}, nil
}

// GetOrCreate returns the user's open cart, creating an empty one on first access.
func (s *cartService) GetOrCreate(ctx context.Context, userID string) (CartView, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return CartView{}, err
	}

	if cart, ok := s.cached(ctx, uid); ok {
		return CartView{Cart: cart}, nil
	}

	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		agg, revision, err := s.load(ctx, uid, true)
		if err != nil {
			return CartView{}, err
		}
		if revision > 0 {
			cart := agg.Cart()
			s.remember(ctx, cart)
			return CartView{Cart: cart}, nil
		}
		saved, err := s.persist(ctx, agg, 0)
		if err == nil {
			return CartView{Cart: saved}, nil
		}
		if !isRepoConflict(err) {
			return CartView{}, s.translateRepoError(err)
		}
		s.logger(ctx, "cart.create_conflict", map[string]any{"userID": uid, "attempt": attempt})
	}
	return CartView{}, conflictError()
}

// GetSummary returns the summary with per-seller grouping. It never creates a cart.
func (s *cartService) GetSummary(ctx context.Context, userID string) (CartSummaryView, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return CartSummaryView{}, err
	}
	cart, ok := s.cached(ctx, uid)
	if !ok {
		agg, _, err := s.load(ctx, uid, false)
		if err != nil {
			return CartSummaryView{}, err
		}
		cart = agg.Cart()
	}
	return CartSummaryView{
		CartID:   cart.ID,
		Currency: cart.Currency,
		Summary:  cart.Summary,
		Sellers:  groupBySeller(cart.Items),
		Coupon:   cart.AppliedCoupon,
	}, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return CartView{}, validationError(CodeInvalidInput, "productId", "productId is required")
	}
	if cmd.Quantity < 1 {
		return CartView{}, validationError(CodeInvalidQuantity, "quantity", "quantity must be at least 1")
	}
	product, err := s.product(ctx, productID)
	if err != nil {
		return CartView{}, err
	}

	return s.mutate(ctx, "add_item", uid, true, func(_ context.Context, agg *CartAggregate) error {
		return agg.AddItem(product, cmd.Quantity, cmd.SelectedAttributes, cmd.Notes)
	})
}

// AddToCart is the product-and-quantity shorthand of AddItem.
func (s *cartService) AddToCart(ctx context.Context, cmd AddToCartCommand) (CartView, error) {
	quantity := cmd.Quantity
	if quantity == 0 {
		quantity = 1
	}
	return s.AddItem(ctx, AddCartItemCommand{UserID: cmd.UserID, ProductID: cmd.ProductID, Quantity: quantity})
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	return s.mutate(ctx, "update_item", uid, false, func(ctx context.Context, agg *CartAggregate) error {
		return s.setQuantity(ctx, agg, itemID, func(int) int { return cmd.Quantity })
	})
}

func (s *cartService) IncreaseQuantity(ctx context.Context, cmd AdjustCartItemCommand) (CartView, error) {
	return s.adjust(ctx, "increase_item", cmd, 1)
}

func (s *cartService) DecreaseQuantity(ctx context.Context, cmd AdjustCartItemCommand) (CartView, error) {
	return s.adjust(ctx, "decrease_item", cmd, -1)
}

func (s *cartService) adjust(ctx context.Context, op string, cmd AdjustCartItemCommand, sign int) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	step := cmd.By
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return CartView{}, validationError(CodeInvalidQuantity, "by", "by must be a positive number")
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	return s.mutate(ctx, op, uid, false, func(ctx context.Context, agg *CartAggregate) error {
		return s.setQuantity(ctx, agg, itemID, func(current int) int { return current + sign*step })
	})
}

func (s *cartService) setQuantity(ctx context.Context, agg *CartAggregate, itemID string, next func(int) int) error {
	item, ok := agg.Item(itemID)
	if !ok {
		return itemNotFound(itemID)
	}
	quantity := next(item.Quantity)
	if quantity < 1 {
		return agg.UpdateItemQuantity(itemID, quantity, Product{})
	}
	product, err := s.product(ctx, item.ProductID)
	if err != nil {
		if cartErr, ok := AsCartError(err); ok && cartErr.Code == CodeProductNotFound {
			return productUnavailable(Product{ID: item.ProductID, Name: item.ProductName}, itemID)
		}
		return err
	}
	if !product.IsActive() {
		return productUnavailable(product, itemID)
	}
	return agg.UpdateItemQuantity(itemID, quantity, product)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	return s.mutate(ctx, "remove_item", uid, false, func(_ context.Context, agg *CartAggregate) error {
		return agg.RemoveItem(itemID)
	})
}

func (s *cartService) Clear(ctx context.Context, userID string) (CartView, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return CartView{}, err
	}
	return s.mutate(ctx, "clear", uid, false, func(_ context.Context, agg *CartAggregate) error {
		return agg.Clear()
	})
}

func (s *cartService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return CartView{}, validationError(CodeInvalidInput, "code", "coupon code is required")
	}
	coupon, err := s.coupons.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return CartView{}, validationError(CodeCouponNotFound, "code", fmt.Sprintf("coupon %s does not exist", strings.ToUpper(code)))
		}
		return CartView{}, &CartError{Kind: ErrCartUnavailable, Code: CodeInternal, Message: "coupon lookup failed", Err: err}
	}
	return s.mutate(ctx, "apply_coupon", uid, true, func(_ context.Context, agg *CartAggregate) error {
		return agg.ApplyCoupon(coupon)
	})
}

func (s *cartService) RemoveCoupon(ctx context.Context, userID string) (CartView, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return CartView{}, err
	}
	return s.mutate(ctx, "remove_coupon", uid, false, func(_ context.Context, agg *CartAggregate) error {
		return agg.RemoveCoupon()
	})
}

func (s *cartService) UpdateShippingAddress(ctx context.Context, cmd UpdateAddressCommand) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	patch := AddressPatch(cmd.Address)
	return s.mutate(ctx, "shipping_address", uid, true, func(_ context.Context, agg *CartAggregate) error {
		return agg.UpdateShippingAddress(patch)
	})
}

func (s *cartService) UpdateBillingAddress(ctx context.Context, cmd UpdateBillingAddressCommand) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	patch := AddressPatch(cmd.Address)
	return s.mutate(ctx, "billing_address", uid, true, func(_ context.Context, agg *CartAggregate) error {
		return agg.UpdateBillingAddress(patch, cmd.SameAsShipping)
	})
}

func (s *cartService) UpdateShippingMethod(ctx context.Context, cmd UpdateShippingMethodCommand) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	return s.mutate(ctx, "shipping_method", uid, true, func(_ context.Context, agg *CartAggregate) error {
		return agg.UpdateShippingMethod(domain.ShippingMethod(cmd.Method), cmd.Provider, cmd.EstimatedDelivery)
	})
}

func (s *cartService) UpdatePaymentMethod(ctx context.Context, cmd UpdatePaymentMethodCommand) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	return s.mutate(ctx, "payment_method", uid, true, func(_ context.Context, agg *CartAggregate) error {
		return agg.UpdatePaymentMethod(domain.PaymentMethod(cmd.Method), cmd.Details)
	})
}

// Checkout converts the cart and hands the snapshot to order creation. A user without an open
// cart gets the empty-cart error. A failed hand-off is logged and reported but does not undo the
// conversion.
func (s *cartService) Checkout(ctx context.Context, userID string) (CheckoutResult, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return CheckoutResult{}, err
	}

	var snapshot CheckoutSnapshot
	view, err := s.mutate(ctx, "checkout", uid, true, func(ctx context.Context, agg *CartAggregate) error {
		if agg.IsEmpty() {
			_, err := agg.ConvertToOrder(nil, "")
			return err
		}
		products, err := s.products(ctx, agg.ProductIDs())
		if err != nil {
			return err
		}
		snapshot, err = agg.ConvertToOrder(products, s.handoffID())
		return err
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	result := CheckoutResult{Snapshot: snapshot, Cart: view.Cart, Warnings: view.Warnings}
	if s.publisher == nil {
		return result, nil
	}
	messageID, err := s.publisher.PublishCheckout(ctx, snapshot)
	if err != nil {
		s.logger(ctx, "cart.checkout_publish_failed", map[string]any{
			"userID":    uid,
			"cartID":    snapshot.CartID,
			"handoffID": snapshot.HandoffID,
			"error":     err.Error(),
		})
		result.Warnings = append(result.Warnings, "order hand-off is pending")
		return result, nil
	}
	result.Published = true
	result.MessageID = messageID
	return result, nil
}

// Validate reports every checkout blocker and price drift without changing the cart.
func (s *cartService) Validate(ctx context.Context, userID string) (ValidationResult, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return ValidationResult{}, err
	}
	agg, revision, err := s.load(ctx, uid, true)
	if err != nil {
		return ValidationResult{}, err
	}
	products, err := s.products(ctx, agg.ProductIDs())
	if err != nil {
		return ValidationResult{}, err
	}
	issues := agg.Validate(products)
	result := ValidationResult{Valid: ValidIssues(issues), Issues: issues}
	if revision > 0 {
		result.CartID = agg.Cart().ID
	}
	return result, nil
}

// Restore returns an abandoned cart to active. Only the owner or an admin may restore it.
func (s *cartService) Restore(ctx context.Context, cmd RestoreCartCommand) (CartView, error) {
	uid, err := requireUser(cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return CartView{}, validationError(CodeInvalidInput, "cartId", "cart id is required")
	}

	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		cart, err := s.repo.FindByID(ctx, cartID)
		if err != nil {
			if isRepoNotFound(err) {
				return CartView{}, s.observed("restore", cartNotFound(cartID))
			}
			return CartView{}, s.observed("restore", s.translateRepoError(err))
		}
		if cart.UserID != uid && !cmd.IsAdmin {
			return CartView{}, s.observed("restore", &CartError{Kind: ErrCartForbidden, Code: CodeNotCartOwner, Message: "cart belongs to another user"})
		}

		agg := LoadCartAggregate(cart, s.aggOpts)
		if err := agg.Restore(); err != nil {
			return CartView{}, s.observed("restore", err)
		}
		saved, err := s.persist(ctx, agg, cart.Revision)
		if err == nil {
			s.observe("restore", "ok")
			return CartView{Cart: saved, Warnings: agg.Warnings()}, nil
		}
		if !isRepoConflict(err) {
			return CartView{}, s.observed("restore", s.translateRepoError(err))
		}
		s.logger(ctx, "cart.conflict_retry", map[string]any{"cartID": cartID, "operation": "restore", "attempt": attempt})
	}
	return CartView{}, s.observed("restore", conflictError())
}

// mutate runs fn against a freshly loaded aggregate and persists the result with an optimistic
// revision check, reloading and re-applying fn when another writer got there first.
func (s *cartService) mutate(ctx context.Context, op, userID string, create bool, fn func(context.Context, *CartAggregate) error) (CartView, error) {
	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		agg, revision, err := s.load(ctx, userID, create)
		if err != nil {
			return CartView{}, s.observed(op, err)
		}
		if err := fn(ctx, agg); err != nil {
			return CartView{}, s.observed(op, err)
		}
		saved, err := s.persist(ctx, agg, revision)
		if err == nil {
			s.observe(op, "ok")
			return CartView{Cart: saved, Warnings: agg.Warnings()}, nil
		}
		if !isRepoConflict(err) {
			return CartView{}, s.observed(op, s.translateRepoError(err))
		}
		s.invalidate(ctx, userID)
		s.logger(ctx, "cart.conflict_retry", map[string]any{"userID": userID, "operation": op, "attempt": attempt})
	}
	return CartView{}, s.observed(op, conflictError())
}

// load returns the user's open cart and its stored revision. With create, a missing cart yields a
// new unsaved aggregate at revision 0. A cart found past its TTL is expired on the spot.
func (s *cartService) load(ctx context.Context, userID string, create bool) (*CartAggregate, int64, error) {
	cart, err := s.repo.FindOpenByUser(ctx, userID)
	switch {
	case err == nil:
		agg := LoadCartAggregate(cart, s.aggOpts)
		if !agg.IsExpired(s.now()) {
			return agg, cart.Revision, nil
		}
		if err := s.expire(ctx, agg, cart.Revision); err != nil {
			return nil, 0, err
		}
	case !isRepoNotFound(err):
		return nil, 0, s.translateRepoError(err)
	}

	if !create {
		return nil, 0, &CartError{Kind: ErrCartNotFound, Code: CodeCartNotFound, Message: "no open cart for user"}
	}
	return NewCartAggregate(userID, s.currency, s.ttl, s.aggOpts), 0, nil
}

func (s *cartService) expire(ctx context.Context, agg *CartAggregate, revision int64) error {
	agg.Expire(s.now())
	cart := agg.Cart()
	if _, err := s.repo.Save(ctx, cart, revision); err != nil && !isRepoConflict(err) {
		return s.translateRepoError(err)
	}
	s.invalidate(ctx, cart.UserID)
	s.logger(ctx, "cart.expired_on_load", map[string]any{"userID": cart.UserID, "cartID": cart.ID})
	return nil
}

func (s *cartService) persist(ctx context.Context, agg *CartAggregate, revision int64) (Cart, error) {
	agg.PrepareForSave(s.now(), s.ttl)
	saved, err := s.repo.Save(ctx, agg.Cart(), revision)
	if err != nil {
		return Cart{}, err
	}
	if saved.Status.IsOpen() {
		s.remember(ctx, saved)
	} else {
		s.invalidate(ctx, saved.UserID)
	}
	return saved, nil
}

func (s *cartService) cached(ctx context.Context, userID string) (Cart, bool) {
	if s.cache == nil {
		return Cart{}, false
	}
	cart, ok, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.logger(ctx, "cart.cache_read_failed", map[string]any{"userID": userID, "error": err.Error()})
		return Cart{}, false
	}
	if !ok || !cart.Status.IsOpen() || LoadCartAggregate(cart, s.aggOpts).IsExpired(s.now()) {
		return Cart{}, false
	}
	return cart, true
}

func (s *cartService) remember(ctx context.Context, cart Cart) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cart); err != nil {
		s.logger(ctx, "cart.cache_write_failed", map[string]any{"userID": cart.UserID, "error": err.Error()})
	}
}

func (s *cartService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger(ctx, "cart.cache_invalidate_failed", map[string]any{"userID": userID, "error": err.Error()})
	}
}

func (s *cartService) product(ctx context.Context, productID string) (Product, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err == nil {
		return product, nil
	}
	if errors.Is(err, ErrProductNotFound) {
		return Product{}, &CartError{Kind: ErrCartNotFound, Code: CodeProductNotFound, ProductID: productID, Message: fmt.Sprintf("product %s does not exist", productID)}
	}
	return Product{}, &CartError{Kind: ErrCartUnavailable, Code: CodeCatalogUnavailable, ProductID: productID, Message: "catalog lookup failed", Err: err}
}

// products fetches the referenced products concurrently. Unknown ids are left out of the map.
func (s *cartService) products(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(catalogLookupParallel)
	for _, id := range ids {
		id := id
		group.Go(func() error {
			product, err := s.catalog.GetProduct(gctx, id)
			if errors.Is(err, ErrProductNotFound) {
				return nil
			}
			if err != nil {
				return &CartError{Kind: ErrCartUnavailable, Code: CodeCatalogUnavailable, ProductID: id, Message: "catalog lookup failed", Err: err}
			}
			mu.Lock()
			out[id] = product
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *cartService) observed(op string, err error) error {
	outcome := CodeInternal
	if cartErr, ok := AsCartError(err); ok {
		outcome = cartErr.Code
	}
	s.observe(op, outcome)
	return err
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsCartError(err); ok {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return &CartError{Kind: ErrCartNotFound, Code: CodeCartNotFound, Message: "cart not found", Err: err}
		case repoErr.IsConflict():
			return &CartError{Kind: ErrCartConflict, Code: CodeConcurrentUpdate, Message: "cart was modified concurrently", Err: err}
		case repoErr.IsUnavailable():
			return &CartError{Kind: ErrCartUnavailable, Code: CodeStoreUnavailable, Message: "cart store unavailable", Err: err}
		}
		return &CartError{Kind: ErrCartInternal, Code: CodeInternal, Message: "cart store failure", Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CartError{Kind: ErrCartUnavailable, Code: CodeStoreUnavailable, Message: "request cancelled", Err: err}
	}
	return &CartError{Kind: ErrCartInternal, Code: CodeInternal, Message: "cart store failure", Err: err}
}

func requireUser(userID string) (string, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return "", validationError(CodeInvalidInput, "userId", "user id is required")
	}
	return uid, nil
}

func cartNotFound(cartID string) *CartError {
	return &CartError{Kind: ErrCartNotFound, Code: CodeCartNotFound, Message: fmt.Sprintf("cart %s not found", cartID)}
}

func conflictError() *CartError {
	return &CartError{Kind: ErrCartConflict, Code: CodeConcurrentUpdate, Message: "cart is being modified concurrently, retry the request"}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func groupBySeller(items []CartLineItem) []SellerGroup {
	index := make(map[string]int)
	groups := make([]SellerGroup, 0)
	for _, item := range items {
		idx, ok := index[item.SellerID]
		if !ok {
			idx = len(groups)
			index[item.SellerID] = idx
			groups = append(groups, SellerGroup{SellerID: item.SellerID})
		}
		group := &groups[idx]
		group.Items = append(group.Items, item)
		group.ItemCount += item.Quantity
		group.Subtotal = addSaturating(group.Subtotal, mulSaturating(item.UnitPrice, int64(item.Quantity)))
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].SellerID < groups[j].SellerID })
	return groups
}
