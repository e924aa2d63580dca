package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/cart/internal/platform/httpx"
)

const (
	apiPrefix         = "/api/v1"
	requestTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

// RouteRegistrar attaches one route group to its sub-router.
type RouteRegistrar func(r chi.Router)

// Option customises NewRouter.
type Option func(*routerConfig)

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	metrics     http.Handler
	cart        RouteRegistrar
	admin       RouteRegistrar
}

// NewRouter builds the service router: probes and /metrics at the root, the cart and admin
// groups under /api/v1. A group without a registrar answers 501 so clients can tell a
// disabled surface from a typo.
func NewRouter(opts ...Option) chi.Router {
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(apiPrefix, func(api chi.Router) {
		api.Route("/cart", group("cart", cfg.cart))
		api.Route("/admin", group("admin", cfg.admin))
	})
	return r
}

func group(name string, registrar RouteRegistrar) func(chi.Router) {
	if registrar != nil {
		return registrar
	}
	return func(r chi.Router) {
		stub := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes are not enabled", http.StatusNotImplemented))
		}
		r.HandleFunc("/", stub)
		r.HandleFunc("/*", stub)
	}
}

func routeNotFound(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	msg := fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path)
	httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", msg, http.StatusMethodNotAllowed))
}

// WithMiddlewares appends middleware after the request id, real ip and timeout defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithMetricsHandler exposes the Prometheus scrape endpoint; /metrics is 404 without it.
func WithMetricsHandler(handler http.Handler) Option {
	return func(cfg *routerConfig) { cfg.metrics = handler }
}

func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.cart = reg }
}

func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.admin = reg }
}
