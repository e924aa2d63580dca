package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/cart/internal/domain"
	pfirestore "github.com/hanko-field/cart/internal/platform/firestore"
	"github.com/hanko-field/cart/internal/platform/pagination"
	"github.com/hanko-field/cart/internal/repositories"
)

const (
	cartCollection      = "carts"
	cartOwnerCollection = "cartOwners"
)

// CartRepository persists carts in Firestore. The open cart of each user is
// tracked in a cartOwners/{userID} document updated in the same transaction
// as the cart, which keeps at most one open cart per user.
type CartRepository struct {
	carts    *pfirestore.Collection[cartDocument]
	owners   *pfirestore.Collection[cartOwnerDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		carts:    pfirestore.NewCollection[cartDocument](provider, cartCollection),
		owners:   pfirestore.NewCollection[cartOwnerDocument](provider, cartOwnerCollection),
		provider: provider,
	}, nil
}

// FindOpenByUser follows the owner pointer to the user's active or abandoned cart.
func (r *CartRepository) FindOpenByUser(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	owner, err := r.owners.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := r.FindByID(ctx, owner.Data.CartID)
	if err != nil {
		return domain.Cart{}, err
	}
	if !cart.Status.IsOpen() || cart.UserID != uid {
		return domain.Cart{}, pfirestore.NotFound("carts.findOpenByUser", "user "+uid+" has no open cart")
	}
	return cart, nil
}

// FindByID loads a cart by its identifier.
func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}
	doc, err := r.carts.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Save writes the cart when its stored revision equals expectedRevision.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart, expectedRevision int64) (domain.Cart, error) {
	cartID := strings.TrimSpace(cart.ID)
	userID := strings.TrimSpace(cart.UserID)
	if cartID == "" || userID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id and user id are required")
	}
	cartRef, err := r.carts.Doc(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	ownerRef, err := r.owners.Doc(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}

	var saved domain.Cart
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(cartRef)
		exists := err == nil && snap.Exists()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		ownerSnap, err := tx.Get(ownerRef)
		ownerExists := err == nil && ownerSnap.Exists()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		switch {
		case expectedRevision == 0 && exists:
			return pfirestore.Conflict("carts.save", "cart "+cartID+" already exists")
		case expectedRevision > 0 && !exists:
			return pfirestore.NotFound("carts.save", "cart "+cartID+" not found")
		case exists:
			stored, err := r.carts.Decode(snap)
			if err != nil {
				return err
			}
			if stored.Data.Revision != expectedRevision {
				return pfirestore.Conflict("carts.save", "cart "+cartID+" was modified concurrently")
			}
		}

		var ownedBy string
		if ownerExists {
			owner, err := r.owners.Decode(ownerSnap)
			if err != nil {
				return err
			}
			ownedBy = owner.Data.CartID
		}

		doc := newCartDocument(cart)
		doc.Revision = expectedRevision + 1
		if cart.Status.IsOpen() {
			if ownedBy != "" && ownedBy != cartID {
				return pfirestore.Conflict("carts.save", "user "+userID+" already has an open cart")
			}
			if err := tx.Set(ownerRef, cartOwnerDocument{CartID: cartID, UpdatedAt: doc.UpdatedAt}); err != nil {
				return err
			}
		} else if ownedBy == cartID {
			if err := tx.Delete(ownerRef); err != nil {
				return err
			}
		}
		if err := tx.Set(cartRef, doc); err != nil {
			return err
		}
		saved = doc.toDomain(cartID)
		return nil
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.save", err)
	}
	return saved, nil
}

// Delete removes the cart and releases the owner pointer when it references the cart.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	id := strings.TrimSpace(cartID)
	if id == "" {
		return errors.New("cart repository: cart id is required")
	}
	cartRef, err := r.carts.Doc(ctx, id)
	if err != nil {
		return err
	}
	ownerCol, err := r.owners.Ref(ctx)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(cartRef)
		if err != nil {
			return pfirestore.WrapError("carts.delete", err)
		}
		stored, err := r.carts.Decode(snap)
		if err != nil {
			return err
		}
		ownerRef := ownerCol.Doc(stored.Data.UserID)
		ownerSnap, err := tx.Get(ownerRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && ownerSnap.Exists() {
			owner, err := r.owners.Decode(ownerSnap)
			if err != nil {
				return err
			}
			if owner.Data.CartID == id {
				if err := tx.Delete(ownerRef); err != nil {
					return err
				}
			}
		}
		return tx.Delete(cartRef)
	})
}

// List runs a status-filtered scan with at most one range predicate, ordered by
// the predicate field and then by document id.
func (r *CartRepository) List(ctx context.Context, filter repositories.CartListFilter) (domain.CursorPage[domain.Cart], error) {
	after, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Cart]{}, err
	}

	ref, err := r.carts.Ref(ctx)
	if err != nil {
		return domain.CursorPage[domain.Cart]{}, err
	}
	field := orderFieldPath(filter.OrderField())
	query := ref.Query
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	switch {
	case filter.LastActivityBefore != nil:
		query = query.Where(field, "<", filter.LastActivityBefore.UTC())
	case filter.ExpiresBefore != nil:
		query = query.Where(field, "<", filter.ExpiresBefore.UTC())
	}
	query = query.OrderBy(field, firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	if !after.IsZero() {
		query = query.StartAfter(after.Key, after.ID)
	}
	size := pagination.Normalise(filter.PageSize)
	query = query.Limit(size + 1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	page := domain.CursorPage[domain.Cart]{Items: make([]domain.Cart, 0, size)}
	var extra bool
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Cart]{}, pfirestore.WrapError("carts.list", err)
		}
		if len(page.Items) == size {
			extra = true
			break
		}
		doc, err := r.carts.Decode(snap)
		if err != nil {
			return domain.CursorPage[domain.Cart]{}, err
		}
		cart := doc.Data.toDomain(doc.ID)
		if !filter.Matches(cart) {
			continue
		}
		page.Items = append(page.Items, cart)
	}
	if extra && len(page.Items) > 0 {
		last := page.Items[len(page.Items)-1]
		page.NextPageToken = pagination.EncodeToken(filter.OrderKey(last), last.ID)
	}
	return page, nil
}

// Ping reads a single cart document to verify connectivity.
func (r *CartRepository) Ping(ctx context.Context) error {
	return r.provider.Ping(ctx, cartCollection)
}

func orderFieldPath(field repositories.CartOrderField) string {
	switch field {
	case repositories.OrderByLastActivity:
		return "lastActivity"
	case repositories.OrderByExpiresAt:
		return "expiresAt"
	default:
		return "createdAt"
	}
}

type cartOwnerDocument struct {
	CartID    string    `firestore:"cartId"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type cartDocument struct {
	UserID                string               `firestore:"userId"`
	Currency              string               `firestore:"currency"`
	Items                 []cartItemDocument   `firestore:"items"`
	Summary               cartSummaryDocument  `firestore:"summary"`
	ShippingAddress       *cartAddressDocument `firestore:"shippingAddress,omitempty"`
	BillingAddress        *cartAddressDocument `firestore:"billingAddress,omitempty"`
	BillingSameAsShipping bool                 `firestore:"billingSameAsShipping"`
	ShippingMethod        string               `firestore:"shippingMethod"`
	ShippingProvider      string               `firestore:"shippingProvider,omitempty"`
	EstimatedDelivery     *time.Time           `firestore:"estimatedDelivery,omitempty"`
	PaymentMethod         string               `firestore:"paymentMethod,omitempty"`
	PaymentDetails        map[string]string    `firestore:"paymentDetails,omitempty"`
	Coupon                *cartCouponDocument  `firestore:"coupon,omitempty"`
	Status                string               `firestore:"status"`
	LastActivity          time.Time            `firestore:"lastActivity"`
	AbandonedAt           *time.Time           `firestore:"abandonedAt,omitempty"`
	ConvertedAt           *time.Time           `firestore:"convertedAt,omitempty"`
	ExpiresAt             *time.Time           `firestore:"expiresAt,omitempty"`
	Revision              int64                `firestore:"revision"`
	CreatedAt             time.Time            `firestore:"createdAt"`
	UpdatedAt             time.Time            `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID          string                  `firestore:"id"`
	ProductID   string                  `firestore:"productId"`
	SellerID    string                  `firestore:"sellerId,omitempty"`
	ProductName string                  `firestore:"productName,omitempty"`
	Quantity    int                     `firestore:"quantity"`
	UnitPrice   int64                   `firestore:"unitPrice"`
	Attributes  []cartAttributeDocument `firestore:"attributes,omitempty"`
	Notes       string                  `firestore:"notes,omitempty"`
	AddedAt     time.Time               `firestore:"addedAt"`
	UpdatedAt   time.Time               `firestore:"updatedAt"`
}

type cartAttributeDocument struct {
	Name  string `firestore:"name"`
	Value string `firestore:"value"`
}

type cartSummaryDocument struct {
	TotalItems    int   `firestore:"totalItems"`
	TotalQuantity int   `firestore:"totalQuantity"`
	Subtotal      int64 `firestore:"subtotal"`
	Shipping      int64 `firestore:"shipping"`
	Tax           int64 `firestore:"tax"`
	Discount      int64 `firestore:"discount"`
	Total         int64 `firestore:"total"`
}

type cartAddressDocument struct {
	Recipient  string `firestore:"recipient,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
	Address    string `firestore:"address"`
	Address2   string `firestore:"address2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
}

type cartCouponDocument struct {
	Code          string     `firestore:"code"`
	DiscountType  string     `firestore:"discountType"`
	DiscountValue int64      `firestore:"discountValue"`
	MaxDiscount   *int64     `firestore:"maxDiscount,omitempty"`
	MinPurchase   int64      `firestore:"minPurchase"`
	ExpiresAt     *time.Time `firestore:"expiresAt,omitempty"`
	AppliedAt     time.Time  `firestore:"appliedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		UserID:                strings.TrimSpace(cart.UserID),
		Currency:              strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:                 make([]cartItemDocument, 0, len(cart.Items)),
		Summary:               cartSummaryDocument(cart.Summary),
		ShippingAddress:       addressToDocument(cart.ShippingAddress),
		BillingAddress:        addressToDocument(cart.BillingAddress),
		BillingSameAsShipping: cart.BillingSameAsShipping,
		ShippingMethod:        string(cart.ShippingMethod),
		ShippingProvider:      cart.ShippingProvider,
		EstimatedDelivery:     utcPtr(cart.EstimatedDelivery),
		PaymentMethod:         string(cart.PaymentMethod),
		Status:                string(cart.Status),
		LastActivity:          cart.LastActivity.UTC(),
		AbandonedAt:           utcPtr(cart.AbandonedAt),
		ConvertedAt:           utcPtr(cart.ConvertedAt),
		ExpiresAt:             utcPtr(cart.ExpiresAt),
		CreatedAt:             cart.CreatedAt.UTC(),
		UpdatedAt:             cart.UpdatedAt.UTC(),
	}
	if len(cart.PaymentDetails) > 0 {
		doc.PaymentDetails = make(map[string]string, len(cart.PaymentDetails))
		for k, v := range cart.PaymentDetails {
			doc.PaymentDetails[k] = v
		}
	}
	for _, item := range cart.Items {
		itemDoc := cartItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			SellerID:    item.SellerID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Notes:       item.Notes,
			AddedAt:     item.AddedAt.UTC(),
			UpdatedAt:   item.UpdatedAt.UTC(),
		}
		for _, attr := range item.SelectedAttributes {
			itemDoc.Attributes = append(itemDoc.Attributes, cartAttributeDocument(attr))
		}
		doc.Items = append(doc.Items, itemDoc)
	}
	if c := cart.AppliedCoupon; c != nil {
		doc.Coupon = &cartCouponDocument{
			Code:          c.Code,
			DiscountType:  string(c.DiscountType),
			DiscountValue: c.DiscountValue,
			MaxDiscount:   c.MaxDiscount,
			MinPurchase:   c.MinPurchase,
			ExpiresAt:     utcPtr(c.ExpiresAt),
			AppliedAt:     c.AppliedAt.UTC(),
		}
	}
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	cart := domain.Cart{
		ID:                    id,
		UserID:                d.UserID,
		Currency:              d.Currency,
		Items:                 make([]domain.CartLineItem, 0, len(d.Items)),
		Summary:               domain.CartSummary(d.Summary),
		ShippingAddress:       addressFromDocument(d.ShippingAddress),
		BillingAddress:        addressFromDocument(d.BillingAddress),
		BillingSameAsShipping: d.BillingSameAsShipping,
		ShippingMethod:        domain.ShippingMethod(d.ShippingMethod),
		ShippingProvider:      d.ShippingProvider,
		EstimatedDelivery:     utcPtr(d.EstimatedDelivery),
		PaymentMethod:         domain.PaymentMethod(d.PaymentMethod),
		Status:                domain.CartStatus(d.Status),
		LastActivity:          d.LastActivity.UTC(),
		AbandonedAt:           utcPtr(d.AbandonedAt),
		ConvertedAt:           utcPtr(d.ConvertedAt),
		ExpiresAt:             utcPtr(d.ExpiresAt),
		Revision:              d.Revision,
		CreatedAt:             d.CreatedAt.UTC(),
		UpdatedAt:             d.UpdatedAt.UTC(),
	}
	if len(d.PaymentDetails) > 0 {
		cart.PaymentDetails = make(map[string]string, len(d.PaymentDetails))
		for k, v := range d.PaymentDetails {
			cart.PaymentDetails[k] = v
		}
	}
	for _, item := range d.Items {
		line := domain.CartLineItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			SellerID:    item.SellerID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Notes:       item.Notes,
			AddedAt:     item.AddedAt.UTC(),
			UpdatedAt:   item.UpdatedAt.UTC(),
		}
		for _, attr := range item.Attributes {
			line.SelectedAttributes = append(line.SelectedAttributes, domain.SelectedAttribute(attr))
		}
		cart.Items = append(cart.Items, line)
	}
	if c := d.Coupon; c != nil {
		cart.AppliedCoupon = &domain.Coupon{
			Code:          c.Code,
			DiscountType:  domain.DiscountType(c.DiscountType),
			DiscountValue: c.DiscountValue,
			MaxDiscount:   c.MaxDiscount,
			MinPurchase:   c.MinPurchase,
			ExpiresAt:     utcPtr(c.ExpiresAt),
			AppliedAt:     c.AppliedAt.UTC(),
		}
	}
	return cart
}

func addressToDocument(addr *domain.Address) *cartAddressDocument {
	if addr == nil {
		return nil
	}
	doc := cartAddressDocument(*addr)
	return &doc
}

func addressFromDocument(doc *cartAddressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	addr := domain.Address(*doc)
	return &addr
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
