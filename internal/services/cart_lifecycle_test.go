package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/repositories"
	"github.com/hanko-field/cart/internal/repositories/memory"
)

type lifecycleFixture struct {
	service CartLifecycleService
	repo    *memory.CartRepository
	clock   *testClock
	stages  map[string]int
}

func newLifecycleFixture(t *testing.T, repo repositories.CartRepository) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		repo:   memory.NewCartRepository(),
		clock:  &testClock{now: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)},
		stages: map[string]int{},
	}
	if repo == nil {
		repo = f.repo
	}
	service, err := NewCartLifecycleService(CartLifecycleDeps{
		Repository:   repo,
		Clock:        f.clock.Now,
		AbandonAfter: 24 * time.Hour,
		BatchSize:    2,
		Observer:     func(stage string, count int) { f.stages[stage] += count },
	})
	if err != nil {
		t.Fatalf("NewCartLifecycleService: %v", err)
	}
	f.service = service
	return f
}

func (f *lifecycleFixture) seed(t *testing.T, repo repositories.CartRepository, id string, status domain.CartStatus, items int, idle time.Duration, expiresIn time.Duration) domain.Cart {
	t.Helper()
	cart := domain.Cart{
		ID:           id,
		UserID:       "user-" + id,
		Status:       status,
		LastActivity: f.clock.now.Add(-idle),
		CreatedAt:    f.clock.now.Add(-idle),
	}
	for i := 0; i < items; i++ {
		cart.Items = append(cart.Items, domain.CartLineItem{ID: fmt.Sprintf("%s-item-%d", id, i), ProductID: "p1", Quantity: 1, UnitPrice: 100})
	}
	expires := f.clock.now.Add(expiresIn)
	cart.ExpiresAt = &expires
	saved, err := repo.Save(context.Background(), cart, 0)
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return saved
}

func TestCartLifecycleMarkAbandoned(t *testing.T) {
	f := newLifecycleFixture(t, nil)
	ctx := context.Background()

	f.seed(t, f.repo, "idle-1", domain.CartStatusActive, 1, 30*time.Hour, 24*time.Hour)
	f.seed(t, f.repo, "idle-2", domain.CartStatusActive, 2, 48*time.Hour, 24*time.Hour)
	f.seed(t, f.repo, "idle-3", domain.CartStatusActive, 1, 72*time.Hour, 24*time.Hour)
	f.seed(t, f.repo, "idle-empty", domain.CartStatusActive, 0, 72*time.Hour, 24*time.Hour)
	f.seed(t, f.repo, "recent", domain.CartStatusActive, 1, time.Hour, 24*time.Hour)
	f.seed(t, f.repo, "done", domain.CartStatusConverted, 0, 96*time.Hour, 24*time.Hour)

	report, err := f.service.MarkAbandoned(ctx)
	if err != nil {
		t.Fatalf("MarkAbandoned: %v", err)
	}
	if report.Abandoned != 3 || report.Skipped != 1 || report.Scanned != 4 {
		t.Fatalf("unexpected report %+v", report)
	}
	if f.stages["abandoned"] != 3 {
		t.Fatalf("expected observer to see 3 abandoned, got %d", f.stages["abandoned"])
	}

	for _, id := range []string{"idle-1", "idle-2", "idle-3"} {
		cart, err := f.repo.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("FindByID %s: %v", id, err)
		}
		if cart.Status != domain.CartStatusAbandoned || cart.AbandonedAt == nil {
			t.Fatalf("expected %s abandoned, got %s", id, cart.Status)
		}
	}
	for _, id := range []string{"recent", "idle-empty"} {
		cart, _ := f.repo.FindByID(ctx, id)
		if cart.Status != domain.CartStatusActive {
			t.Fatalf("expected %s to stay active, got %s", id, cart.Status)
		}
	}

	again, err := f.service.MarkAbandoned(ctx)
	if err != nil {
		t.Fatalf("MarkAbandoned again: %v", err)
	}
	if again.Abandoned != 0 {
		t.Fatalf("expected second sweep to be a no-op, got %+v", again)
	}
}

// racingRepository bumps the cart revision between the lifecycle read and its write.
type racingRepository struct {
	repositories.CartRepository
	raced bool
}

func (r *racingRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	cart, err := r.CartRepository.FindByID(ctx, cartID)
	if err != nil || r.raced {
		return cart, err
	}
	r.raced = true
	bumped := cart
	bumped.LastActivity = bumped.LastActivity.Add(time.Minute)
	if _, err := r.CartRepository.Save(ctx, bumped, cart.Revision); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func TestCartLifecycleMarkAbandonedSkipsConcurrentWrites(t *testing.T) {
	base := memory.NewCartRepository()
	racing := &racingRepository{CartRepository: base}
	f := newLifecycleFixture(t, racing)
	f.seed(t, base, "idle", domain.CartStatusActive, 1, 48*time.Hour, 24*time.Hour)

	report, err := f.service.MarkAbandoned(context.Background())
	if err != nil {
		t.Fatalf("MarkAbandoned: %v", err)
	}
	if report.Conflicts != 1 || report.Abandoned != 0 {
		t.Fatalf("expected conflict to be skipped, got %+v", report)
	}
	cart, _ := base.FindByID(context.Background(), "idle")
	if cart.Status != domain.CartStatusActive {
		t.Fatalf("concurrent owner write must win, got %s", cart.Status)
	}
}

func TestCartLifecycleFindAbandoned(t *testing.T) {
	f := newLifecycleFixture(t, nil)
	ctx := context.Background()

	f.seed(t, f.repo, "a-old", domain.CartStatusAbandoned, 1, 5*24*time.Hour, 24*time.Hour)
	f.seed(t, f.repo, "a-new", domain.CartStatusAbandoned, 1, 30*time.Hour, 24*time.Hour)
	f.seed(t, f.repo, "active", domain.CartStatusActive, 1, 5*24*time.Hour, 24*time.Hour)

	page, err := f.service.FindAbandoned(ctx, AbandonedCartFilter{Days: 3})
	if err != nil {
		t.Fatalf("FindAbandoned: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "a-old" {
		t.Fatalf("expected only a-old, got %+v", page.Items)
	}

	page, err = f.service.FindAbandoned(ctx, AbandonedCartFilter{Days: 1, PageSize: 1})
	if err != nil {
		t.Fatalf("FindAbandoned: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken == "" {
		t.Fatalf("expected first page with token, got %+v", page)
	}
	next, err := f.service.FindAbandoned(ctx, AbandonedCartFilter{Days: 1, PageSize: 1, PageToken: page.NextPageToken})
	if err != nil {
		t.Fatalf("FindAbandoned next: %v", err)
	}
	if len(next.Items) != 1 || next.Items[0].ID == page.Items[0].ID || next.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", next)
	}

	for _, days := range []int{-1, 0} {
		_, err = f.service.FindAbandoned(ctx, AbandonedCartFilter{Days: days})
		expectCartError(t, err, ErrCartValidation, CodeInvalidInput)
	}
	_, err = f.service.FindAbandoned(ctx, AbandonedCartFilter{Days: 1, PageToken: "garbage!"})
	expectCartError(t, err, ErrCartValidation, CodeInvalidInput)
}

func TestCartLifecycleCleanupExpired(t *testing.T) {
	f := newLifecycleFixture(t, nil)
	ctx := context.Background()

	f.seed(t, f.repo, "gone-1", domain.CartStatusActive, 1, time.Hour, -time.Hour)
	f.seed(t, f.repo, "gone-2", domain.CartStatusAbandoned, 1, time.Hour, -2*time.Hour)
	f.seed(t, f.repo, "gone-3", domain.CartStatusExpired, 0, time.Hour, -3*time.Hour)
	f.seed(t, f.repo, "history", domain.CartStatusConverted, 0, time.Hour, -time.Hour)
	f.seed(t, f.repo, "alive", domain.CartStatusActive, 1, time.Hour, time.Hour)

	deleted, err := f.service.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deletions, got %d", deleted)
	}
	for _, id := range []string{"gone-1", "gone-2", "gone-3"} {
		if _, err := f.repo.FindByID(ctx, id); err == nil {
			t.Fatalf("expected %s deleted", id)
		}
	}
	for _, id := range []string{"history", "alive"} {
		if _, err := f.repo.FindByID(ctx, id); err != nil {
			t.Fatalf("expected %s kept: %v", id, err)
		}
	}
	if _, err := f.repo.FindOpenByUser(ctx, "user-gone-1"); err == nil {
		t.Fatalf("expected owner released for deleted cart")
	}

	again, err := f.service.CleanupExpired(ctx)
	if err != nil || again != 0 {
		t.Fatalf("expected idempotent cleanup, got %d %v", again, err)
	}
}

type failingListRepository struct {
	repositories.CartRepository
}

func (failingListRepository) List(context.Context, repositories.CartListFilter) (domain.CursorPage[domain.Cart], error) {
	return domain.CursorPage[domain.Cart]{}, errors.New("store offline")
}

func TestCartLifecycleSurfacesStoreErrors(t *testing.T) {
	f := newLifecycleFixture(t, failingListRepository{CartRepository: memory.NewCartRepository()})
	if _, err := f.service.MarkAbandoned(context.Background()); err == nil {
		t.Fatalf("expected error from MarkAbandoned")
	}
	if _, err := f.service.CleanupExpired(context.Background()); err == nil {
		t.Fatalf("expected error from CleanupExpired")
	}
	_, err := f.service.FindAbandoned(context.Background(), AbandonedCartFilter{Days: 7})
	expectCartError(t, err, ErrCartUnavailable, CodeStoreUnavailable)
}
