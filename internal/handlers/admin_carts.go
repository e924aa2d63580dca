package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/cart/internal/platform/auth"
	"github.com/hanko-field/cart/internal/platform/httpx"
	"github.com/hanko-field/cart/internal/platform/pagination"
	"github.com/hanko-field/cart/internal/services"
)

const defaultAbandonedDays = 7

// AdminCartHandlers exposes store-wide cart maintenance to operators holding the carts capability.
type AdminCartHandlers struct {
	authn     *auth.Authenticator
	lifecycle services.CartLifecycleService
}

// NewAdminCartHandlers constructs the admin cart handlers.
func NewAdminCartHandlers(authn *auth.Authenticator, lifecycle services.CartLifecycleService) *AdminCartHandlers {
	return &AdminCartHandlers{authn: authn, lifecycle: lifecycle}
}

// Routes wires the /admin/carts endpoints. Every route requires CapabilityManageCarts.
func (h *AdminCartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/carts", func(carts chi.Router) {
		if h.authn != nil {
			carts.Use(h.authn.RequireFirebaseAuth())
		}
		carts.Use(auth.RequireCapability(auth.CapabilityManageCarts))

		carts.Get("/abandoned", h.listAbandoned)
		carts.Post("/cleanup", h.cleanupExpired)
		carts.Post("/mark-abandoned", h.markAbandoned)
	})
}

type abandonedCartsResponse struct {
	Items         []cartPayload `json:"items"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

type cleanupResponse struct {
	Deleted int `json:"deleted"`
}

type lifecycleReportResponse struct {
	Scanned    int    `json:"scanned"`
	Abandoned  int    `json:"abandoned"`
	Skipped    int    `json:"skipped"`
	Conflicts  int    `json:"conflicts"`
	StartedAt  string `json:"startedAt"`
	DurationMS int64  `json:"durationMs"`
}

func (h *AdminCartHandlers) listAbandoned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}

	days := defaultAbandonedDays
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "days must be a positive integer", http.StatusBadRequest))
			return
		}
		days = parsed
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.lifecycle.FindAbandoned(ctx, services.AbandonedCartFilter{
		Days:      days,
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	resp := abandonedCartsResponse{
		Items:         make([]cartPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, cart := range page.Items {
		resp.Items = append(resp.Items, buildCartPayload(cart, nil))
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteSuccess(ctx, w, http.StatusOK, "", resp)
}

func (h *AdminCartHandlers) cleanupExpired(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	deleted, err := h.lifecycle.CleanupExpired(ctx)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(ctx, w, http.StatusOK, "expired carts removed", cleanupResponse{Deleted: deleted})
}

func (h *AdminCartHandlers) markAbandoned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	report, err := h.lifecycle.MarkAbandoned(ctx)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(ctx, w, http.StatusOK, "abandonment sweep completed", lifecycleReportResponse{
		Scanned:    report.Scanned,
		Abandoned:  report.Abandoned,
		Skipped:    report.Skipped,
		Conflicts:  report.Conflicts,
		StartedAt:  formatTime(report.StartedAt),
		DurationMS: report.Duration.Milliseconds(),
	})
}

func (h *AdminCartHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.lifecycle == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_service_unavailable", "cart lifecycle service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}
