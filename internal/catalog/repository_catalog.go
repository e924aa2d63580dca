package catalog

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/repositories"
	"github.com/hanko-field/cart/internal/services"
)

// RepositoryCatalog serves products read straight from the shared document store.
type RepositoryCatalog struct {
	products repositories.ProductRepository
}

func NewRepositoryCatalog(products repositories.ProductRepository) (*RepositoryCatalog, error) {
	if products == nil {
		return nil, errors.New("catalog: product repository is required")
	}
	return &RepositoryCatalog{products: products}, nil
}

func (c *RepositoryCatalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := c.products.GetProduct(ctx, productID)
	if err == nil {
		return product, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return domain.Product{}, services.ErrProductNotFound
	}
	if errors.Is(err, context.Canceled) {
		return domain.Product{}, err
	}
	return domain.Product{}, fmt.Errorf("%w: %v", services.ErrCatalogUnavailable, err)
}
