// Package catalog adapts the external product catalog to services.ProductCatalog.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/services"
)

const (
	defaultTimeout          = 3 * time.Second
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
	breakerName             = "catalog"
)

// HTTPConfig configures the HTTP catalog gateway.
type HTTPConfig struct {
	BaseURL string
	// Timeout bounds a single product lookup.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// OnStateChange observes breaker transitions.
	OnStateChange func(name string, from, to gobreaker.State)
	Transport     http.RoundTripper
}

// HTTPGateway fetches products from GET {base}/products/{id} behind a circuit breaker.
type HTTPGateway struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[domain.Product]
}

func NewHTTPGateway(cfg HTTPConfig) (*HTTPGateway, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("catalog: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("catalog: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Unknown products and callers giving up say nothing about catalog health.
			return err == nil || errors.Is(err, services.ErrProductNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: cfg.OnStateChange,
	}

	return &HTTPGateway{
		baseURL: base,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		breaker: gobreaker.NewCircuitBreaker[domain.Product](settings),
	}, nil
}

// GetProduct implements services.ProductCatalog.
func (g *HTTPGateway) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, services.ErrProductNotFound
	}
	product, err := g.breaker.Execute(func() (domain.Product, error) {
		return g.fetch(ctx, id)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Product{}, fmt.Errorf("%w: %v", services.ErrCatalogUnavailable, err)
	}
	return product, err
}

// State exposes the breaker state for readiness reporting.
func (g *HTTPGateway) State() gobreaker.State {
	return g.breaker.State()
}

func (g *HTTPGateway) fetch(ctx context.Context, id string) (domain.Product, error) {
	endpoint, err := url.JoinPath(g.baseURL, "products", id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", services.ErrCatalogUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", services.ErrCatalogUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return domain.Product{}, ctxErr
		}
		return domain.Product{}, fmt.Errorf("%w: %v", services.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.Product{}, services.ErrProductNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		return domain.Product{}, fmt.Errorf("%w: status %d: %s", services.ErrCatalogUnavailable, resp.StatusCode, drainError(resp.Body))
	}

	var payload productResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return domain.Product{}, fmt.Errorf("%w: decode product: %v", services.ErrCatalogUnavailable, err)
	}
	return payload.toDomain(id), nil
}

// productResponse accepts either a bare product or one wrapped in {"data": ...}.
type productResponse struct {
	productPayload
	Data *productPayload `json:"data"`
}

type productPayload struct {
	ID       string `json:"id"`
	SellerID string `json:"sellerId"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
	Stock    int    `json:"stock"`
	Status   string `json:"status"`
}

func (r productResponse) toDomain(requestedID string) domain.Product {
	p := r.productPayload
	if r.Data != nil {
		p = *r.Data
	}
	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = requestedID
	}
	return domain.Product{
		ID:       id,
		SellerID: strings.TrimSpace(p.SellerID),
		Name:     strings.TrimSpace(p.Name),
		Price:    p.Price,
		Currency: strings.ToUpper(strings.TrimSpace(p.Currency)),
		Stock:    p.Stock,
		Status:   strings.ToLower(strings.TrimSpace(p.Status)),
	}
}

func drainError(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 512))
	return strings.TrimSpace(string(data))
}
