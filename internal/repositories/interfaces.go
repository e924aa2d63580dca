package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/cart/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository persists carts. Implementations guarantee at most one open
// (active or abandoned) cart per user and reject stale writes.
type CartRepository interface {
	// FindOpenByUser returns the user's active or abandoned cart. Returns a RepositoryError with
	// IsNotFound when the user has no open cart.
	FindOpenByUser(ctx context.Context, userID string) (domain.Cart, error)
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	// Save writes the cart when the stored revision equals expectedRevision (0 creates) and returns
	// the stored cart with its revision bumped. Stale revisions and duplicate open carts are
	// reported as IsConflict.
	Save(ctx context.Context, cart domain.Cart, expectedRevision int64) (domain.Cart, error)
	Delete(ctx context.Context, cartID string) error
	List(ctx context.Context, filter CartListFilter) (domain.CursorPage[domain.Cart], error)
}

// CartListFilter narrows lifecycle scans. Zero values disable a predicate.
type CartListFilter struct {
	Statuses           []domain.CartStatus
	LastActivityBefore *time.Time
	ExpiresBefore      *time.Time
	PageSize           int
	PageToken          string
}

// ProductRepository reads catalog products from the shared document store.
type ProductRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// CartOrderField names the key a filtered listing is ordered by.
type CartOrderField string

const (
	OrderByCreatedAt    CartOrderField = "createdAt"
	OrderByLastActivity CartOrderField = "lastActivity"
	OrderByExpiresAt    CartOrderField = "expiresAt"
)

// OrderField returns the ordering key implied by the filter: the field of its range predicate,
// or creation time when there is none. Listings are ordered by that key then by cart id.
func (f CartListFilter) OrderField() CartOrderField {
	switch {
	case f.LastActivityBefore != nil:
		return OrderByLastActivity
	case f.ExpiresBefore != nil:
		return OrderByExpiresAt
	default:
		return OrderByCreatedAt
	}
}

// OrderKey extracts the ordering key from a cart for the filter's ordering field.
func (f CartListFilter) OrderKey(cart domain.Cart) time.Time {
	switch f.OrderField() {
	case OrderByLastActivity:
		return cart.LastActivity
	case OrderByExpiresAt:
		if cart.ExpiresAt != nil {
			return *cart.ExpiresAt
		}
		return time.Time{}
	default:
		return cart.CreatedAt
	}
}

// Matches reports whether the cart satisfies every predicate of the filter.
func (f CartListFilter) Matches(cart domain.Cart) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if cart.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.LastActivityBefore != nil && !cart.LastActivity.Before(*f.LastActivityBefore) {
		return false
	}
	if f.ExpiresBefore != nil && (cart.ExpiresAt == nil || !cart.ExpiresAt.Before(*f.ExpiresBefore)) {
		return false
	}
	return true
}
