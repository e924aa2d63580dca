package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/services"
)

// StaticCatalog serves a fixed product list, used with the in-memory cart store.
type StaticCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewStaticCatalog(products ...domain.Product) *StaticCatalog {
	c := &StaticCatalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.Put(p)
	}
	return c
}

// LoadStaticCatalog reads a JSON array of products in the HTTP catalog's wire format.
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var payload []productPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	c := NewStaticCatalog()
	for _, p := range payload {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("catalog: %s contains a product without id", path)
		}
		c.Put(productResponse{productPayload: p}.toDomain(p.ID))
	}
	return c, nil
}

// Put inserts or replaces a product.
func (c *StaticCatalog) Put(product domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[product.ID] = product
}

func (c *StaticCatalog) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	product, ok := c.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, services.ErrProductNotFound
	}
	return product, nil
}
