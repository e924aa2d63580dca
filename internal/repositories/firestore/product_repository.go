package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/cart/internal/domain"
	pfirestore "github.com/hanko-field/cart/internal/platform/firestore"
)

const productCollection = "products"

// ProductRepository reads catalog products owned by the catalog service from the shared project.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a Firestore-backed product reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{products: pfirestore.NewCollection[productDocument](provider, productCollection)}, nil
}

// GetProduct loads the product document with the given id.
func (r *ProductRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, pfirestore.NotFound("products.get", "product id is required")
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:       doc.ID,
		SellerID: strings.TrimSpace(doc.Data.SellerID),
		Name:     strings.TrimSpace(doc.Data.Name),
		Price:    doc.Data.Price,
		Currency: strings.ToUpper(strings.TrimSpace(doc.Data.Currency)),
		Stock:    doc.Data.Stock,
		Status:   strings.ToLower(strings.TrimSpace(doc.Data.Status)),
	}, nil
}

type productDocument struct {
	SellerID string `firestore:"sellerId"`
	Name     string `firestore:"name"`
	Price    int64  `firestore:"price"`
	Currency string `firestore:"currency"`
	Stock    int    `firestore:"stock"`
	Status   string `firestore:"status"`
}
