// Package memory provides a process-local cart store for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/platform/pagination"
	"github.com/hanko-field/cart/internal/repositories"
)

// CartRepository keeps carts in memory. The owner index holds the id of each user's open cart.
type CartRepository struct {
	mu     sync.RWMutex
	carts  map[string]domain.Cart
	owners map[string]string
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository returns an empty store.
func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts:  make(map[string]domain.Cart),
		owners: make(map[string]string),
	}
}

func (r *CartRepository) FindOpenByUser(ctx context.Context, userID string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.owners[strings.TrimSpace(userID)]
	if !ok {
		return domain.Cart{}, repositories.NewStoreError("memory.carts.findOpenByUser", repositories.StoreErrorNotFound, "no open cart for user", nil)
	}
	return copyCart(r.carts[id]), nil
}

func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return domain.Cart{}, repositories.NewStoreError("memory.carts.findByID", repositories.StoreErrorNotFound, "cart "+cartID+" not found", nil)
	}
	return copyCart(cart), nil
}

func (r *CartRepository) Save(ctx context.Context, cart domain.Cart, expectedRevision int64) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	const op = "memory.carts.save"
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.carts[cart.ID]
	switch {
	case expectedRevision == 0 && exists:
		return domain.Cart{}, repositories.NewStoreError(op, repositories.StoreErrorConflict, "cart "+cart.ID+" already exists", nil)
	case expectedRevision > 0 && !exists:
		return domain.Cart{}, repositories.NewStoreError(op, repositories.StoreErrorNotFound, "cart "+cart.ID+" not found", nil)
	case exists && current.Revision != expectedRevision:
		return domain.Cart{}, repositories.NewStoreError(op, repositories.StoreErrorConflict, "stale cart revision", nil)
	}

	owner, owned := r.owners[cart.UserID]
	if cart.Status.IsOpen() {
		if owned && owner != cart.ID {
			return domain.Cart{}, repositories.NewStoreError(op, repositories.StoreErrorConflict, "user already has an open cart", nil)
		}
		r.owners[cart.UserID] = cart.ID
	} else if owned && owner == cart.ID {
		delete(r.owners, cart.UserID)
	}

	stored := copyCart(cart)
	stored.Revision = expectedRevision + 1
	r.carts[cart.ID] = stored
	return copyCart(stored), nil
}

func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return repositories.NewStoreError("memory.carts.delete", repositories.StoreErrorNotFound, "cart "+cartID+" not found", nil)
	}
	if r.owners[cart.UserID] == cartID {
		delete(r.owners, cart.UserID)
	}
	delete(r.carts, cartID)
	return nil
}

func (r *CartRepository) List(ctx context.Context, filter repositories.CartListFilter) (domain.CursorPage[domain.Cart], error) {
	if err := ctx.Err(); err != nil {
		return domain.CursorPage[domain.Cart]{}, err
	}
	after, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Cart]{}, err
	}

	r.mu.RLock()
	matched := make([]domain.Cart, 0)
	for _, cart := range r.carts {
		if filter.Matches(cart) {
			matched = append(matched, cart)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		ki, kj := filter.OrderKey(matched[i]), filter.OrderKey(matched[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return matched[i].ID < matched[j].ID
	})

	start := 0
	if !after.IsZero() {
		start = sort.Search(len(matched), func(i int) bool {
			key := filter.OrderKey(matched[i])
			return key.After(after.Key) || (key.Equal(after.Key) && matched[i].ID > after.ID)
		})
	}

	size := pagination.Normalise(filter.PageSize)
	end := min(start+size, len(matched))
	page := domain.CursorPage[domain.Cart]{Items: make([]domain.Cart, 0, end-start)}
	for _, cart := range matched[start:end] {
		page.Items = append(page.Items, copyCart(cart))
	}
	if end < len(matched) && end > start {
		last := matched[end-1]
		page.NextPageToken = pagination.EncodeToken(filter.OrderKey(last), last.ID)
	}
	return page, nil
}

// Ping satisfies readiness probes.
func (r *CartRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func copyCart(cart domain.Cart) domain.Cart {
	out := cart
	out.Items = make([]domain.CartLineItem, len(cart.Items))
	copy(out.Items, cart.Items)
	for i := range out.Items {
		out.Items[i].SelectedAttributes = append([]domain.SelectedAttribute(nil), cart.Items[i].SelectedAttributes...)
	}
	if cart.ShippingAddress != nil {
		v := *cart.ShippingAddress
		out.ShippingAddress = &v
	}
	if cart.BillingAddress != nil {
		v := *cart.BillingAddress
		out.BillingAddress = &v
	}
	if cart.AppliedCoupon != nil {
		v := *cart.AppliedCoupon
		out.AppliedCoupon = &v
	}
	if cart.PaymentDetails != nil {
		out.PaymentDetails = make(map[string]string, len(cart.PaymentDetails))
		for k, v := range cart.PaymentDetails {
			out.PaymentDetails[k] = v
		}
	}
	return out
}
