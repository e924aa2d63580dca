// Package mongo stores carts in MongoDB as an alternative to Firestore.
package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/platform/pagination"
	"github.com/hanko-field/cart/internal/repositories"
)

const cartCollection = "carts"

// CartRepository keeps one document per cart. open_user_id is only present on
// active and abandoned carts and carries a unique sparse index, so the server
// rejects a second open cart for the same user.
type CartRepository struct {
	collection *mongo.Collection
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository binds the repository to the carts collection of db.
func NewCartRepository(db *mongo.Database) (*CartRepository, error) {
	if db == nil {
		return nil, errors.New("cart repository requires mongo database")
	}
	return &CartRepository{collection: db.Collection(cartCollection)}, nil
}

// EnsureIndexes creates the owner uniqueness index and the lifecycle scan indexes.
func (r *CartRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "open_user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("open_user_unique"),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_activity", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return wrapError("carts.ensureIndexes", err)
	}
	return nil
}

func (r *CartRepository) FindOpenByUser(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	var doc cartDocument
	if err := r.collection.FindOne(ctx, bson.M{"open_user_id": uid}).Decode(&doc); err != nil {
		return domain.Cart{}, wrapError("carts.findOpenByUser", err)
	}
	return doc.toDomain(), nil
}

func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	var doc cartDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": strings.TrimSpace(cartID)}).Decode(&doc); err != nil {
		return domain.Cart{}, wrapError("carts.findByID", err)
	}
	return doc.toDomain(), nil
}

// Save inserts when expectedRevision is 0 and otherwise replaces the document
// only if its stored revision still matches.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart, expectedRevision int64) (domain.Cart, error) {
	if strings.TrimSpace(cart.ID) == "" || strings.TrimSpace(cart.UserID) == "" {
		return domain.Cart{}, errors.New("cart repository: cart id and user id are required")
	}
	doc := newCartDocument(cart)
	doc.Revision = expectedRevision + 1

	if expectedRevision == 0 {
		if _, err := r.collection.InsertOne(ctx, doc); err != nil {
			return domain.Cart{}, wrapError("carts.insert", err)
		}
		return doc.toDomain(), nil
	}

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID, "revision": expectedRevision}, doc)
	if err != nil {
		return domain.Cart{}, wrapError("carts.replace", err)
	}
	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": doc.ID}, options.Count().SetLimit(1))
		if err != nil {
			return domain.Cart{}, wrapError("carts.replace", err)
		}
		if count == 0 {
			return domain.Cart{}, repositories.NewStoreError("mongo.carts.replace", repositories.StoreErrorNotFound, "cart "+doc.ID+" not found", nil)
		}
		return domain.Cart{}, repositories.NewStoreError("mongo.carts.replace", repositories.StoreErrorConflict, "cart "+doc.ID+" was modified concurrently", nil)
	}
	return doc.toDomain(), nil
}

func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": strings.TrimSpace(cartID)})
	if err != nil {
		return wrapError("carts.delete", err)
	}
	if result.DeletedCount == 0 {
		return repositories.NewStoreError("mongo.carts.delete", repositories.StoreErrorNotFound, "cart "+cartID+" not found", nil)
	}
	return nil
}

// List pages through carts with keyset pagination on (order field, _id).
func (r *CartRepository) List(ctx context.Context, filter repositories.CartListFilter) (domain.CursorPage[domain.Cart], error) {
	after, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Cart]{}, err
	}

	field := orderFieldPath(filter.OrderField())
	clauses := bson.A{}
	if len(filter.Statuses) > 0 {
		statuses := make(bson.A, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		clauses = append(clauses, bson.M{"status": bson.M{"$in": statuses}})
	}
	if filter.LastActivityBefore != nil {
		clauses = append(clauses, bson.M{"last_activity": bson.M{"$lt": filter.LastActivityBefore.UTC()}})
	}
	if filter.ExpiresBefore != nil {
		clauses = append(clauses, bson.M{"expires_at": bson.M{"$lt": filter.ExpiresBefore.UTC()}})
	}
	if !after.IsZero() {
		clauses = append(clauses, bson.M{"$or": bson.A{
			bson.M{field: bson.M{"$gt": after.Key}},
			bson.M{field: after.Key, "_id": bson.M{"$gt": after.ID}},
		}})
	}
	query := bson.M{}
	if len(clauses) > 0 {
		query = bson.M{"$and": clauses}
	}

	size := pagination.Normalise(filter.PageSize)
	opts := options.Find().
		SetSort(bson.D{{Key: field, Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(size + 1))

	cur, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return domain.CursorPage[domain.Cart]{}, wrapError("carts.list", err)
	}
	defer cur.Close(ctx)

	var docs []cartDocument
	if err := cur.All(ctx, &docs); err != nil {
		return domain.CursorPage[domain.Cart]{}, wrapError("carts.list", err)
	}

	page := domain.CursorPage[domain.Cart]{Items: make([]domain.Cart, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			break
		}
		page.Items = append(page.Items, doc.toDomain())
	}
	if len(docs) > size {
		last := page.Items[len(page.Items)-1]
		page.NextPageToken = pagination.EncodeToken(filter.OrderKey(last), last.ID)
	}
	return page, nil
}

// Ping verifies the primary is reachable.
func (r *CartRepository) Ping(ctx context.Context) error {
	return r.collection.Database().Client().Ping(ctx, nil)
}

func orderFieldPath(field repositories.CartOrderField) string {
	switch field {
	case repositories.OrderByLastActivity:
		return "last_activity"
	case repositories.OrderByExpiresAt:
		return "expires_at"
	default:
		return "created_at"
	}
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	op = "mongo." + op
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, "document not found", nil)
	case mongo.IsDuplicateKeyError(err):
		return repositories.NewStoreError(op, repositories.StoreErrorConflict, "duplicate cart or open cart for user", err)
	case mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, "mongo unavailable", err)
	}
	return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, "", err)
}

type cartDocument struct {
	ID                    string            `bson:"_id"`
	UserID                string            `bson:"user_id"`
	OpenUserID            string            `bson:"open_user_id,omitempty"`
	Currency              string            `bson:"currency"`
	Items                 []itemDocument    `bson:"items"`
	Summary               summaryDocument   `bson:"summary"`
	ShippingAddress       *addressDocument  `bson:"shipping_address,omitempty"`
	BillingAddress        *addressDocument  `bson:"billing_address,omitempty"`
	BillingSameAsShipping bool              `bson:"billing_same_as_shipping"`
	ShippingMethod        string            `bson:"shipping_method"`
	ShippingProvider      string            `bson:"shipping_provider,omitempty"`
	EstimatedDelivery     *time.Time        `bson:"estimated_delivery,omitempty"`
	PaymentMethod         string            `bson:"payment_method,omitempty"`
	PaymentDetails        map[string]string `bson:"payment_details,omitempty"`
	Coupon                *couponDocument   `bson:"coupon,omitempty"`
	Status                string            `bson:"status"`
	LastActivity          time.Time         `bson:"last_activity"`
	AbandonedAt           *time.Time        `bson:"abandoned_at,omitempty"`
	ConvertedAt           *time.Time        `bson:"converted_at,omitempty"`
	ExpiresAt             *time.Time        `bson:"expires_at,omitempty"`
	Revision              int64             `bson:"revision"`
	CreatedAt             time.Time         `bson:"created_at"`
	UpdatedAt             time.Time         `bson:"updated_at"`
}

type itemDocument struct {
	ID          string              `bson:"id"`
	ProductID   string              `bson:"product_id"`
	SellerID    string              `bson:"seller_id,omitempty"`
	ProductName string              `bson:"product_name,omitempty"`
	Quantity    int                 `bson:"quantity"`
	UnitPrice   int64               `bson:"unit_price"`
	Attributes  []attributeDocument `bson:"attributes,omitempty"`
	Notes       string              `bson:"notes,omitempty"`
	AddedAt     time.Time           `bson:"added_at"`
	UpdatedAt   time.Time           `bson:"updated_at"`
}

type attributeDocument struct {
	Name  string `bson:"name"`
	Value string `bson:"value"`
}

type summaryDocument struct {
	TotalItems    int   `bson:"total_items"`
	TotalQuantity int   `bson:"total_quantity"`
	Subtotal      int64 `bson:"subtotal"`
	Shipping      int64 `bson:"shipping"`
	Tax           int64 `bson:"tax"`
	Discount      int64 `bson:"discount"`
	Total         int64 `bson:"total"`
}

type addressDocument struct {
	Recipient  string `bson:"recipient,omitempty"`
	Phone      string `bson:"phone,omitempty"`
	Address    string `bson:"address"`
	Address2   string `bson:"address2,omitempty"`
	City       string `bson:"city"`
	State      string `bson:"state,omitempty"`
	PostalCode string `bson:"postal_code,omitempty"`
	Country    string `bson:"country"`
}

type couponDocument struct {
	Code          string     `bson:"code"`
	DiscountType  string     `bson:"discount_type"`
	DiscountValue int64      `bson:"discount_value"`
	MaxDiscount   *int64     `bson:"max_discount,omitempty"`
	MinPurchase   int64      `bson:"min_purchase"`
	ExpiresAt     *time.Time `bson:"expires_at,omitempty"`
	AppliedAt     time.Time  `bson:"applied_at"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		ID:                    strings.TrimSpace(cart.ID),
		UserID:                strings.TrimSpace(cart.UserID),
		Currency:              cart.Currency,
		Items:                 make([]itemDocument, 0, len(cart.Items)),
		Summary:               summaryDocument(cart.Summary),
		BillingSameAsShipping: cart.BillingSameAsShipping,
		ShippingMethod:        string(cart.ShippingMethod),
		ShippingProvider:      cart.ShippingProvider,
		EstimatedDelivery:     truncPtr(cart.EstimatedDelivery),
		PaymentMethod:         string(cart.PaymentMethod),
		PaymentDetails:        cart.PaymentDetails,
		Status:                string(cart.Status),
		LastActivity:          trunc(cart.LastActivity),
		AbandonedAt:           truncPtr(cart.AbandonedAt),
		ConvertedAt:           truncPtr(cart.ConvertedAt),
		ExpiresAt:             truncPtr(cart.ExpiresAt),
		CreatedAt:             trunc(cart.CreatedAt),
		UpdatedAt:             trunc(cart.UpdatedAt),
	}
	if cart.Status.IsOpen() {
		doc.OpenUserID = doc.UserID
	}
	if cart.ShippingAddress != nil {
		addr := addressDocument(*cart.ShippingAddress)
		doc.ShippingAddress = &addr
	}
	if cart.BillingAddress != nil {
		addr := addressDocument(*cart.BillingAddress)
		doc.BillingAddress = &addr
	}
	for _, item := range cart.Items {
		line := itemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			SellerID:    item.SellerID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Notes:       item.Notes,
			AddedAt:     trunc(item.AddedAt),
			UpdatedAt:   trunc(item.UpdatedAt),
		}
		for _, attr := range item.SelectedAttributes {
			line.Attributes = append(line.Attributes, attributeDocument(attr))
		}
		doc.Items = append(doc.Items, line)
	}
	if c := cart.AppliedCoupon; c != nil {
		doc.Coupon = &couponDocument{
			Code:          c.Code,
			DiscountType:  string(c.DiscountType),
			DiscountValue: c.DiscountValue,
			MaxDiscount:   c.MaxDiscount,
			MinPurchase:   c.MinPurchase,
			ExpiresAt:     truncPtr(c.ExpiresAt),
			AppliedAt:     trunc(c.AppliedAt),
		}
	}
	return doc
}

func (d cartDocument) toDomain() domain.Cart {
	cart := domain.Cart{
		ID:                    d.ID,
		UserID:                d.UserID,
		Currency:              d.Currency,
		Items:                 make([]domain.CartLineItem, 0, len(d.Items)),
		Summary:               domain.CartSummary(d.Summary),
		BillingSameAsShipping: d.BillingSameAsShipping,
		ShippingMethod:        domain.ShippingMethod(d.ShippingMethod),
		ShippingProvider:      d.ShippingProvider,
		EstimatedDelivery:     truncPtr(d.EstimatedDelivery),
		PaymentMethod:         domain.PaymentMethod(d.PaymentMethod),
		Status:                domain.CartStatus(d.Status),
		LastActivity:          trunc(d.LastActivity),
		AbandonedAt:           truncPtr(d.AbandonedAt),
		ConvertedAt:           truncPtr(d.ConvertedAt),
		ExpiresAt:             truncPtr(d.ExpiresAt),
		Revision:              d.Revision,
		CreatedAt:             trunc(d.CreatedAt),
		UpdatedAt:             trunc(d.UpdatedAt),
	}
	if len(d.PaymentDetails) > 0 {
		cart.PaymentDetails = make(map[string]string, len(d.PaymentDetails))
		for k, v := range d.PaymentDetails {
			cart.PaymentDetails[k] = v
		}
	}
	if d.ShippingAddress != nil {
		addr := domain.Address(*d.ShippingAddress)
		cart.ShippingAddress = &addr
	}
	if d.BillingAddress != nil {
		addr := domain.Address(*d.BillingAddress)
		cart.BillingAddress = &addr
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
			AddedAt:     trunc(item.AddedAt),
			UpdatedAt:   trunc(item.UpdatedAt),
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
			ExpiresAt:     truncPtr(c.ExpiresAt),
			AppliedAt:     trunc(c.AppliedAt),
		}
	}
	return cart
}

// BSON dates carry millisecond precision.
func trunc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func truncPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := trunc(*t)
	return &v
}
