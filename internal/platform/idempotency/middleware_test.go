package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/cart/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func checkoutRequest(key, body, uid string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/checkout", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(DefaultHeader, key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleUser}}))
	}
	return req
}

func TestMiddleware_MissingHeader(t *testing.T) {
	t.Run("optional key passes through", func(t *testing.T) {
		calls := 0
		handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
		}))
		for i := 0; i < 2; i++ {
			handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("", `{}`, "u1"))
		}
		if calls != 2 {
			t.Fatalf("expected handler to run for every keyless request, got %d", calls)
		}
	})

	t.Run("required key rejects", func(t *testing.T) {
		handler := Middleware(NewMemoryStore(), WithRequiredKey())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler should not be invoked when header is missing")
		}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, checkoutRequest("", `{}`, "u1"))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
	})
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, checkoutRequest("abc-123", `{}`, "u1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, checkoutRequest("abc-123", `{}`, "u1"))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected response body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}

	// The same key from another shopper is a different reservation.
	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("abc-123", `{}`, "u2"))
	if calls != 2 {
		t.Fatalf("expected keys to be scoped per user, got %d calls", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("same-key", `{"a":1}`, "u1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("same-key", `{"a":2}`, "u1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when reservation pending")
	}))

	req := checkoutRequest("pending-key", `{}`, "u1")
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	fingerprint := requestFingerprint(req, body, "u1")
	if _, err := store.Reserve(req.Context(), "u1|pending-key", fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, checkoutRequest("retry-key", `{}`, "u1"))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 passthrough, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected retry after server error to reach handler, got %d calls", calls)
	}
	if store.Len() != 0 {
		t.Fatalf("expected reservation to be released, got %d records", store.Len())
	}
}

func TestMiddleware_SaveFailureStillResponds(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("fail-key", `{}`, "u1"))

	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected handler response to be delivered, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on save failure")
	}
}

func TestMemoryStore_ExpiredRecordIsReplaced(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "k", "f1", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	res, err := store.Reserve(ctx, "k", "f2", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("expected expired record to be replaced, got %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", res.State)
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Success bool `json:"success"`
		Errors  []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Success || len(body.Errors) == 0 || body.Errors[0].Code != expected {
		t.Fatalf("expected error code %s, got %+v", expected, body)
	}
}
