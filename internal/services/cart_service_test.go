package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/repositories"
	"github.com/hanko-field/cart/internal/repositories/memory"
)

type stubCatalog struct {
	mu       sync.Mutex
	products map[string]domain.Product
	err      error
}

func (s *stubCatalog) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return product, nil
}

func (s *stubCatalog) set(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *stubCatalog) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

type stubPublisher struct {
	published []domain.CheckoutSnapshot
	err       error
}

func (s *stubPublisher) PublishCheckout(_ context.Context, snapshot domain.CheckoutSnapshot) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.published = append(s.published, snapshot)
	return "msg-1", nil
}

type stubCache struct {
	carts map[string]domain.Cart
	gets  int
}

func newStubCache() *stubCache { return &stubCache{carts: map[string]domain.Cart{}} }

func (s *stubCache) Get(_ context.Context, userID string) (domain.Cart, bool, error) {
	s.gets++
	cart, ok := s.carts[userID]
	return cart, ok, nil
}

func (s *stubCache) Set(_ context.Context, cart domain.Cart) error {
	s.carts[cart.UserID] = cart
	return nil
}

func (s *stubCache) Invalidate(_ context.Context, userID string) error {
	delete(s.carts, userID)
	return nil
}

// conflictingRepository fails the first n saves with a conflict.
type conflictingRepository struct {
	repositories.CartRepository
	remaining int
	saves     int
}

func (r *conflictingRepository) Save(ctx context.Context, cart domain.Cart, expected int64) (domain.Cart, error) {
	r.saves++
	if r.remaining > 0 {
		r.remaining--
		return domain.Cart{}, repositories.NewStoreError("test.save", repositories.StoreErrorConflict, "stale", nil)
	}
	return r.CartRepository.Save(ctx, cart, expected)
}

type serviceFixture struct {
	service   CartService
	repo      *memory.CartRepository
	catalog   *stubCatalog
	publisher *stubPublisher
	clock     *testClock
	events    []string
}

func newServiceFixture(t *testing.T, mutate func(*CartServiceDeps)) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repo: memory.NewCartRepository(),
		catalog: &stubCatalog{products: map[string]domain.Product{
			"p1": activeProduct("p1", 1000, 10),
			"p2": activeProduct("p2", 500, 3),
		}},
		publisher: &stubPublisher{},
		clock:     &testClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
	}
	coupons, err := NewStaticCouponBook(DefaultCoupons())
	if err != nil {
		t.Fatalf("NewStaticCouponBook: %v", err)
	}
	deps := CartServiceDeps{
		Repository:               f.repo,
		Catalog:                  f.catalog,
		Coupons:                  coupons,
		Publisher:                f.publisher,
		Pricer:                   mustPricer(t),
		Clock:                    f.clock.Now,
		IDGenerator:              sequentialIDs("id"),
		HandoffIDs:               func() string { return "handoff-1" },
		RevokeCouponBelowMinimum: true,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			f.events = append(f.events, event)
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	service, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	f.service = service
	return f
}

func (f *serviceFixture) readyCart(t *testing.T, userID string) domain.Cart {
	t.Helper()
	ctx := context.Background()
	if _, err := f.service.AddItem(ctx, AddCartItemCommand{UserID: userID, ProductID: "p1", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := f.service.UpdateShippingAddress(ctx, UpdateAddressCommand{UserID: userID, Address: AddressInput{Address: strPtr("1 Main St"), City: strPtr("Springfield"), Country: strPtr("US")}}); err != nil {
		t.Fatalf("UpdateShippingAddress: %v", err)
	}
	view, err := f.service.UpdatePaymentMethod(ctx, UpdatePaymentMethodCommand{UserID: userID, Method: "card", Details: map[string]string{"last4": "4242"}})
	if err != nil {
		t.Fatalf("UpdatePaymentMethod: %v", err)
	}
	return view.Cart
}

func TestNewCartServiceRequiresDependencies(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{}); !errors.Is(err, errCartRepositoryRequired) {
		t.Fatalf("expected repository required, got %v", err)
	}
	if _, err := NewCartService(CartServiceDeps{Repository: memory.NewCartRepository()}); !errors.Is(err, errCartCatalogRequired) {
		t.Fatalf("expected catalog required, got %v", err)
	}
	if _, err := NewCartService(CartServiceDeps{Repository: memory.NewCartRepository(), Catalog: &stubCatalog{}}); !errors.Is(err, errCartCouponsRequired) {
		t.Fatalf("expected coupons required, got %v", err)
	}
}

func TestCartServiceGetOrCreateIsLazyAndStable(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	first, err := f.service.GetOrCreate(ctx, " user-1 ")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.Cart.UserID != "user-1" || first.Cart.Revision != 1 || first.Cart.Currency != "USD" {
		t.Fatalf("unexpected new cart %+v", first.Cart)
	}

	second, err := f.service.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if second.Cart.ID != first.Cart.ID {
		t.Fatalf("expected same cart, got %s vs %s", second.Cart.ID, first.Cart.ID)
	}

	if _, err := f.service.GetOrCreate(ctx, "  "); !errors.Is(err, ErrCartValidation) {
		t.Fatalf("expected validation error for blank user, got %v", err)
	}
}

func TestCartServiceGetOrCreateServesFromCache(t *testing.T) {
	cache := newStubCache()
	f := newServiceFixture(t, func(deps *CartServiceDeps) { deps.Cache = cache })
	ctx := context.Background()

	created, err := f.service.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, ok := cache.carts["user-1"]; !ok {
		t.Fatalf("expected created cart cached")
	}
	if err := f.repo.Delete(ctx, created.Cart.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	cached, err := f.service.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if cached.Cart.ID != created.Cart.ID {
		t.Fatalf("expected cached cart to be served")
	}
}

func TestCartServiceAddItemPersists(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	view, err := f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 2})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if view.Cart.Summary.Subtotal != 2000 || view.Cart.Revision != 1 {
		t.Fatalf("unexpected cart after add %+v", view.Cart)
	}

	view, err = f.service.AddToCart(ctx, AddToCartCommand{UserID: "user-1", ProductID: "p1"})
	if err != nil {
		t.Fatalf("AddToCart: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].Quantity != 3 || view.Cart.Revision != 2 {
		t.Fatalf("expected thin add to merge into the same line, got %+v", view.Cart.Items)
	}

	stored, err := f.repo.FindOpenByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("FindOpenByUser: %v", err)
	}
	if stored.Summary != view.Cart.Summary {
		t.Fatalf("expected stored summary %+v, got %+v", view.Cart.Summary, stored.Summary)
	}
}

func TestCartServiceAddItemFailures(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "ghost", Quantity: 1})
	expectCartError(t, err, ErrCartNotFound, CodeProductNotFound)

	_, err = f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p2", Quantity: 4})
	expectCartError(t, err, ErrCartStock, CodeOutOfStock)

	_, err = f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 0})
	expectCartError(t, err, ErrCartValidation, CodeInvalidQuantity)

	if _, err := f.repo.FindOpenByUser(ctx, "user-1"); err == nil {
		t.Fatalf("failed mutations must not persist a cart")
	}

	f.catalog.err = errors.New("connection refused")
	_, err = f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 1})
	expectCartError(t, err, ErrCartUnavailable, CodeCatalogUnavailable)
}

func TestCartServiceRetriesOnConflict(t *testing.T) {
	repo := &conflictingRepository{CartRepository: memory.NewCartRepository(), remaining: 2}
	f := newServiceFixture(t, func(deps *CartServiceDeps) { deps.Repository = repo })

	view, err := f.service.AddItem(context.Background(), AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 1})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if repo.saves != 3 || view.Cart.Revision != 1 {
		t.Fatalf("expected 3 save attempts, got %d (revision %d)", repo.saves, view.Cart.Revision)
	}

	repo.remaining = 5
	_, err = f.service.AddItem(context.Background(), AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 1})
	expectCartError(t, err, ErrCartConflict, CodeConcurrentUpdate)
}

func TestCartServiceOperationsWithoutCart(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.Clear(ctx, "user-1")
	expectCartError(t, err, ErrCartNotFound, CodeCartNotFound)
	_, err = f.service.RemoveCoupon(ctx, "user-1")
	expectCartError(t, err, ErrCartNotFound, CodeCartNotFound)
	_, err = f.service.GetSummary(ctx, "user-1")
	expectCartError(t, err, ErrCartNotFound, CodeCartNotFound)
	_, err = f.service.ApplyCoupon(ctx, ApplyCouponCommand{UserID: "user-1", Code: "FLAT5"})
	expectCartError(t, err, ErrCartState, CodeEmptyCart)
}

func TestCartServiceItemQuantityOperations(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	view, err := f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p2", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	itemID := view.Cart.Items[0].ID

	view, err = f.service.IncreaseQuantity(ctx, AdjustCartItemCommand{UserID: "user-1", ItemID: itemID, By: 2})
	if err != nil {
		t.Fatalf("IncreaseQuantity: %v", err)
	}
	if view.Cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", view.Cart.Items[0].Quantity)
	}

	_, err = f.service.IncreaseQuantity(ctx, AdjustCartItemCommand{UserID: "user-1", ItemID: itemID})
	expectCartError(t, err, ErrCartStock, CodeInsufficientStock)

	if _, err := f.service.UpdateItemQuantity(ctx, UpdateCartItemCommand{UserID: "user-1", ItemID: itemID, Quantity: 1}); err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	view, err = f.service.DecreaseQuantity(ctx, AdjustCartItemCommand{UserID: "user-1", ItemID: itemID})
	if err != nil {
		t.Fatalf("DecreaseQuantity: %v", err)
	}
	if len(view.Cart.Items) != 0 {
		t.Fatalf("expected decrease to zero to remove the line")
	}

	_, err = f.service.RemoveItem(ctx, RemoveCartItemCommand{UserID: "user-1", ItemID: itemID})
	expectCartError(t, err, ErrCartNotFound, CodeItemNotFound)
}

func TestCartServiceApplyCoupon(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	if _, err := f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	_, err := f.service.ApplyCoupon(ctx, ApplyCouponCommand{UserID: "user-1", Code: "nope"})
	expectCartError(t, err, ErrCartValidation, CodeCouponNotFound)

	view, err := f.service.ApplyCoupon(ctx, ApplyCouponCommand{UserID: "user-1", Code: " flat5 "})
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if view.Cart.AppliedCoupon == nil || view.Cart.Summary.Discount != 500 {
		t.Fatalf("expected FLAT5 applied, got %+v", view.Cart.Summary)
	}

	itemID := view.Cart.Items[0].ID
	view, err = f.service.UpdateItemQuantity(ctx, UpdateCartItemCommand{UserID: "user-1", ItemID: itemID, Quantity: 1})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if view.Cart.AppliedCoupon != nil || len(view.Warnings) != 1 {
		t.Fatalf("expected coupon revoked with warning, got coupon=%+v warnings=%v", view.Cart.AppliedCoupon, view.Warnings)
	}
}

func TestCartServiceGetSummaryGroupsBySeller(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	f.catalog.set(domain.Product{ID: "p3", SellerID: "seller-p1", Name: "P3", Price: 200, Stock: 5, Status: domain.ProductStatusActive})

	for _, cmd := range []AddCartItemCommand{
		{UserID: "user-1", ProductID: "p2", Quantity: 1},
		{UserID: "user-1", ProductID: "p1", Quantity: 2},
		{UserID: "user-1", ProductID: "p3", Quantity: 3},
	} {
		if _, err := f.service.AddItem(ctx, cmd); err != nil {
			t.Fatalf("AddItem %s: %v", cmd.ProductID, err)
		}
	}

	summary, err := f.service.GetSummary(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if len(summary.Sellers) != 2 {
		t.Fatalf("expected 2 seller groups, got %+v", summary.Sellers)
	}
	first := summary.Sellers[0]
	if first.SellerID != "seller-p1" || len(first.Items) != 2 || first.ItemCount != 5 || first.Subtotal != 2600 {
		t.Fatalf("unexpected seller-p1 group %+v", first)
	}
	if summary.Summary.Subtotal != 3100 {
		t.Fatalf("expected subtotal 3100, got %d", summary.Summary.Subtotal)
	}
}

func TestCartServiceCheckoutPublishesSnapshot(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	ready := f.readyCart(t, "user-1")

	result, err := f.service.Checkout(ctx, "user-1")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !result.Published || result.MessageID != "msg-1" {
		t.Fatalf("expected published checkout, got %+v", result)
	}
	if len(f.publisher.published) != 1 || f.publisher.published[0].HandoffID != "handoff-1" {
		t.Fatalf("expected one published snapshot, got %+v", f.publisher.published)
	}
	if result.Snapshot.Summary != ready.Summary || len(result.Snapshot.Items) != 1 {
		t.Fatalf("expected snapshot of the ready cart, got %+v", result.Snapshot)
	}
	if result.Cart.Status != domain.CartStatusConverted || len(result.Cart.Items) != 0 {
		t.Fatalf("expected converted empty cart, got %+v", result.Cart)
	}

	stored, err := f.repo.FindByID(ctx, ready.ID)
	if err != nil || stored.Status != domain.CartStatusConverted {
		t.Fatalf("expected converted cart retained, got %v %v", stored.Status, err)
	}

	_, err = f.service.Checkout(ctx, "user-1")
	expectCartError(t, err, ErrCartState, CodeEmptyCart)
	if _, err := f.repo.FindOpenByUser(ctx, "user-1"); !isRepoNotFound(err) {
		t.Fatalf("expected the failed checkout not to open a cart, got %v", err)
	}

	next, err := f.service.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if next.Cart.ID == ready.ID || next.Cart.Status != domain.CartStatusActive {
		t.Fatalf("expected a fresh cart after conversion, got %+v", next.Cart)
	}
}

func TestCartServiceCheckoutWithoutCartIsEmpty(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.Checkout(ctx, "user-2")
	expectCartError(t, err, ErrCartState, CodeEmptyCart)
	if _, err := f.repo.FindOpenByUser(ctx, "user-2"); !isRepoNotFound(err) {
		t.Fatalf("expected no cart to be created, got %v", err)
	}
	if len(f.publisher.published) != 0 {
		t.Fatalf("expected nothing published, got %d", len(f.publisher.published))
	}
}

func TestCartServiceCheckoutPublishFailureKeepsConversion(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.publisher.err = errors.New("broker down")
	f.readyCart(t, "user-1")

	result, err := f.service.Checkout(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Published || len(result.Warnings) == 0 {
		t.Fatalf("expected unpublished result with warning, got %+v", result)
	}
	if result.Cart.Status != domain.CartStatusConverted {
		t.Fatalf("expected conversion to stand, got %s", result.Cart.Status)
	}
	found := false
	for _, event := range f.events {
		if event == "cart.checkout_publish_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected publish failure logged, got %v", f.events)
	}
}

func TestCartServiceCheckoutRevalidatesCatalog(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	ready := f.readyCart(t, "user-1")
	f.catalog.remove("p1")

	_, err := f.service.Checkout(ctx, "user-1")
	cartErr := expectCartError(t, err, ErrCartState, CodeProductUnavailable)
	if cartErr.ProductID != "p1" || len(cartErr.Issues) != 1 {
		t.Fatalf("expected error naming p1, got %+v", cartErr)
	}

	stored, err := f.repo.FindOpenByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("FindOpenByUser: %v", err)
	}
	if stored.Revision != ready.Revision || len(stored.Items) != 1 {
		t.Fatalf("failed checkout must not write the cart")
	}
	if len(f.publisher.published) != 0 {
		t.Fatalf("failed checkout must not publish")
	}
}

func TestCartServiceValidate(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	result, err := f.service.Validate(ctx, "user-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid || result.CartID != "" {
		t.Fatalf("expected invalid result without a persisted cart, got %+v", result)
	}

	f.readyCart(t, "user-1")
	f.catalog.set(activeProduct("p1", 1100, 10))
	result, err = f.service.Validate(ctx, "user-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid || len(result.Issues) != 1 || result.Issues[0].Code != CodePriceChanged {
		t.Fatalf("expected valid cart with price drift warning, got %+v", result)
	}
}

func TestCartServiceRestore(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	view, err := f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	cartID := view.Cart.ID

	_, err = f.service.Restore(ctx, RestoreCartCommand{UserID: "user-1", CartID: cartID})
	expectCartError(t, err, ErrCartNotFound, CodeNotAbandoned)

	abandoned := view.Cart
	agg := LoadCartAggregate(abandoned, AggregateOptions{})
	agg.MarkAbandoned(f.clock.now.Add(48*time.Hour), 24*time.Hour)
	if _, err := f.repo.Save(ctx, agg.Cart(), abandoned.Revision); err != nil {
		t.Fatalf("Save abandoned: %v", err)
	}

	_, err = f.service.Restore(ctx, RestoreCartCommand{UserID: "intruder", CartID: cartID})
	expectCartError(t, err, ErrCartForbidden, CodeNotCartOwner)

	_, err = f.service.Restore(ctx, RestoreCartCommand{UserID: "user-1", CartID: "missing"})
	expectCartError(t, err, ErrCartNotFound, CodeCartNotFound)

	restored, err := f.service.Restore(ctx, RestoreCartCommand{UserID: "admin-1", CartID: cartID, IsAdmin: true})
	if err != nil {
		t.Fatalf("Restore as admin: %v", err)
	}
	if restored.Cart.Status != domain.CartStatusActive {
		t.Fatalf("expected active cart, got %s", restored.Cart.Status)
	}
}

func TestCartServiceExpiresStaleCartOnLoad(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	view, err := f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	f.clock.Advance(31 * 24 * time.Hour)

	fresh, err := f.service.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if fresh.Cart.ID == view.Cart.ID || len(fresh.Cart.Items) != 0 {
		t.Fatalf("expected a new cart to replace the expired one")
	}
	old, err := f.repo.FindByID(ctx, view.Cart.ID)
	if err != nil || old.Status != domain.CartStatusExpired {
		t.Fatalf("expected old cart marked expired, got %v %v", old.Status, err)
	}
}

func TestCartServiceRollingTTL(t *testing.T) {
	f := newServiceFixture(t, func(deps *CartServiceDeps) { deps.CartTTL = 10 * 24 * time.Hour })
	ctx := context.Background()

	if _, err := f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	f.clock.Advance(5 * 24 * time.Hour)
	view, err := f.service.AddItem(ctx, AddCartItemCommand{UserID: "user-1", ProductID: "p1", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if want := f.clock.now.Add(10 * 24 * time.Hour); view.Cart.ExpiresAt == nil || !view.Cart.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, view.Cart.ExpiresAt)
	}
}
