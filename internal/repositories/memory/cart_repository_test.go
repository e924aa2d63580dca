package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/repositories"
)

func isConflict(err error) bool {
	repoErr, ok := err.(repositories.RepositoryError)
	return ok && repoErr.IsConflict()
}

func isNotFound(err error) bool {
	repoErr, ok := err.(repositories.RepositoryError)
	return ok && repoErr.IsNotFound()
}

func TestCartRepositorySaveEnforcesRevisions(t *testing.T) {
	repo := NewCartRepository()
	ctx := context.Background()

	saved, err := repo.Save(ctx, domain.Cart{ID: "c1", UserID: "u1", Status: domain.CartStatusActive}, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if saved.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", saved.Revision)
	}

	if _, err := repo.Save(ctx, saved, 0); !isConflict(err) {
		t.Fatalf("expected conflict re-creating, got %v", err)
	}

	saved.Currency = "USD"
	updated, err := repo.Save(ctx, saved, 1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", updated.Revision)
	}

	if _, err := repo.Save(ctx, saved, 1); !isConflict(err) {
		t.Fatalf("expected stale write conflict, got %v", err)
	}
	if _, err := repo.Save(ctx, domain.Cart{ID: "missing", UserID: "u9"}, 3); !isNotFound(err) {
		t.Fatalf("expected not found for unknown cart, got %v", err)
	}
}

func TestCartRepositoryOneOpenCartPerUser(t *testing.T) {
	repo := NewCartRepository()
	ctx := context.Background()

	first, err := repo.Save(ctx, domain.Cart{ID: "c1", UserID: "u1", Status: domain.CartStatusActive}, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Save(ctx, domain.Cart{ID: "c2", UserID: "u1", Status: domain.CartStatusActive}, 0); !isConflict(err) {
		t.Fatalf("expected duplicate open cart conflict, got %v", err)
	}

	first.Status = domain.CartStatusConverted
	if _, err := repo.Save(ctx, first, first.Revision); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := repo.FindOpenByUser(ctx, "u1"); !isNotFound(err) {
		t.Fatalf("expected no open cart after conversion, got %v", err)
	}

	if _, err := repo.Save(ctx, domain.Cart{ID: "c2", UserID: "u1", Status: domain.CartStatusActive}, 0); err != nil {
		t.Fatalf("expected fresh cart after conversion, got %v", err)
	}
	open, err := repo.FindOpenByUser(ctx, "u1")
	if err != nil || open.ID != "c2" {
		t.Fatalf("expected c2 to be open, got %v %v", open.ID, err)
	}
	if history, err := repo.FindByID(ctx, "c1"); err != nil || history.Status != domain.CartStatusConverted {
		t.Fatalf("expected converted cart retained, got %v %v", history.Status, err)
	}
}

func TestCartRepositoryDeleteReleasesOwner(t *testing.T) {
	repo := NewCartRepository()
	ctx := context.Background()

	if _, err := repo.Save(ctx, domain.Cart{ID: "c1", UserID: "u1", Status: domain.CartStatusActive}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Delete(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindOpenByUser(ctx, "u1"); !isNotFound(err) {
		t.Fatalf("expected owner released, got %v", err)
	}
	if err := repo.Delete(ctx, "c1"); !isNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCartRepositoryListPagesByOrderKey(t *testing.T) {
	repo := NewCartRepository()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		cart := domain.Cart{
			ID:           fmt.Sprintf("c%d", i),
			UserID:       fmt.Sprintf("u%d", i),
			Status:       domain.CartStatusActive,
			LastActivity: base.Add(time.Duration(4-i) * time.Hour),
		}
		if _, err := repo.Save(ctx, cart, 0); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	// A converted cart never matches an active-status filter.
	if _, err := repo.Save(ctx, domain.Cart{ID: "done", UserID: "u9", Status: domain.CartStatusConverted, LastActivity: base}, 0); err != nil {
		t.Fatalf("seed converted: %v", err)
	}

	cutoff := base.Add(4 * time.Hour)
	filter := repositories.CartListFilter{
		Statuses:           []domain.CartStatus{domain.CartStatusActive},
		LastActivityBefore: &cutoff,
		PageSize:           2,
	}

	var ids []string
	for {
		page, err := repo.List(ctx, filter)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, cart := range page.Items {
			ids = append(ids, cart.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		filter.PageToken = page.NextPageToken
	}

	want := []string{"c4", "c3", "c2", "c1"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
}
