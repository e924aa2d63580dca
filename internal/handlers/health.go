package handlers

import (
	"net/http"
	"time"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/platform/httpx"
	"github.com/hanko-field/cart/internal/repositories"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	readiness repositories.HealthRepository
	version   string
	startedAt time.Time
	now       func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthRepository sets the dependency probes evaluated by /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.readiness = repo
	}
}

// WithHealthVersion records the build version reported by both probes.
func WithHealthVersion(version string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
	}
}

// WithHealthClock overrides the clock, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.startedAt = h.now()
	return h
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	httpx.WriteSuccess(r.Context(), w, http.StatusOK, "", healthResponse{
		Status:    string(domain.HealthStatusOK),
		Version:   h.version,
		Uptime:    now.Sub(h.startedAt).Round(time.Second).String(),
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// Readyz probes the store and cache. Degraded dependencies still report ready; errors do not.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now()
	resp := healthResponse{
		Status:    string(domain.HealthStatusOK),
		Version:   h.version,
		Uptime:    now.Sub(h.startedAt).Round(time.Second).String(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if h.readiness == nil {
		httpx.WriteSuccess(ctx, w, http.StatusOK, "", resp)
		return
	}

	report, err := h.readiness.Collect(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", err.Error(), http.StatusServiceUnavailable))
		return
	}
	resp.Status = string(report.Status)
	resp.Checks = make(map[string]checkResult, len(report.Checks))
	for name, check := range report.Checks {
		resp.Checks[name] = checkResult{
			Status:    string(check.Status),
			Detail:    check.Detail,
			LatencyMS: check.Latency.Milliseconds(),
		}
	}

	if report.Status == domain.HealthStatusError {
		httpx.WriteEnvelope(ctx, w, http.StatusServiceUnavailable, httpx.Envelope{Success: false, Message: "dependencies unavailable", Data: resp})
		return
	}
	httpx.WriteSuccess(ctx, w, http.StatusOK, "", resp)
}
