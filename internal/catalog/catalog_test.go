package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	domain "github.com/hanko-field/cart/internal/domain"
	pfirestore "github.com/hanko-field/cart/internal/platform/firestore"
	"github.com/hanko-field/cart/internal/services"
)

func TestHTTPGateway_GetProduct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/products/p1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"p1","sellerId":"s1","name":" Mug ","price":1250,"currency":"usd","stock":4,"status":"ACTIVE"}`))
		case "/v1/products/p2":
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":"p2","price":300,"stock":1,"status":"active"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	gateway, err := NewHTTPGateway(HTTPConfig{BaseURL: server.URL + "/v1/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, err := gateway.GetProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.Product{ID: "p1", SellerID: "s1", Name: "Mug", Price: 1250, Currency: "USD", Stock: 4, Status: "active"}
	if product != want {
		t.Fatalf("expected %+v, got %+v", want, product)
	}

	wrapped, err := gateway.GetProduct(context.Background(), "p2")
	if err != nil || wrapped.Price != 300 {
		t.Fatalf("expected enveloped product, got %+v %v", wrapped, err)
	}

	if _, err := gateway.GetProduct(context.Background(), "missing"); !errors.Is(err, services.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestHTTPGateway_BreakerOpensOnFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/products/gone" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	var transitions []gobreaker.State
	gateway, err := NewHTTPGateway(HTTPConfig{
		BaseURL:          server.URL,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		OnStateChange: func(_ string, _, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := gateway.GetProduct(context.Background(), "gone"); !errors.Is(err, services.ErrProductNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if gateway.State() != gobreaker.StateClosed {
		t.Fatalf("not found responses must not trip the breaker")
	}

	for i := 0; i < 2; i++ {
		if _, err := gateway.GetProduct(context.Background(), "p1"); !errors.Is(err, services.ErrCatalogUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	}
	if gateway.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker to open, got %s", gateway.State())
	}

	before := hits.Load()
	_, err = gateway.GetProduct(context.Background(), "p1")
	if !errors.Is(err, services.ErrCatalogUnavailable) {
		t.Fatalf("expected unavailable while open, got %v", err)
	}
	if hits.Load() != before {
		t.Fatalf("open breaker must not reach the catalog")
	}
	if len(transitions) != 1 || transitions[0] != gobreaker.StateOpen {
		t.Fatalf("expected a single transition to open, got %v", transitions)
	}
}

func TestHTTPGateway_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	gateway, err := NewHTTPGateway(HTTPConfig{BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := gateway.GetProduct(context.Background(), "slow"); !errors.Is(err, services.ErrCatalogUnavailable) {
		t.Fatalf("expected unavailable on timeout, got %v", err)
	}
}

func TestNewHTTPGatewayRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPGateway(HTTPConfig{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

type stubProductRepository struct {
	product domain.Product
	err     error
}

func (s stubProductRepository) GetProduct(context.Context, string) (domain.Product, error) {
	return s.product, s.err
}

func TestRepositoryCatalog_MapsErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "not found", err: pfirestore.NotFound("products.get", "missing"), want: services.ErrProductNotFound},
		{name: "backend", err: errors.New("unavailable"), want: services.ErrCatalogUnavailable},
		{name: "canceled", err: context.Canceled, want: context.Canceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewRepositoryCatalog(stubProductRepository{err: tc.err})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := c.GetProduct(context.Background(), "p1"); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	c, _ := NewRepositoryCatalog(stubProductRepository{product: domain.Product{ID: "p1"}})
	if product, err := c.GetProduct(context.Background(), "p1"); err != nil || product.ID != "p1" {
		t.Fatalf("expected product, got %+v %v", product, err)
	}
}

func TestLoadStaticCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	body := `[{"id":"p1","sellerId":"s1","name":"Mug","price":1250,"currency":"usd","stock":3,"status":"active"}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadStaticCatalog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	product, err := c.GetProduct(context.Background(), "p1")
	if err != nil || product.Currency != "USD" || product.Stock != 3 {
		t.Fatalf("unexpected product %+v %v", product, err)
	}
	if _, err := c.GetProduct(context.Background(), "p2"); !errors.Is(err, services.ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := os.WriteFile(path, []byte(`[{"name":"no id"}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadStaticCatalog(path); err == nil {
		t.Fatalf("expected error for product without id")
	}
}
