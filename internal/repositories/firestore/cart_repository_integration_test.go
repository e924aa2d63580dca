//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/cart/internal/domain"
	pconfig "github.com/hanko-field/cart/internal/platform/config"
	pfirestore "github.com/hanko-field/cart/internal/platform/firestore"
	"github.com/hanko-field/cart/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestCartRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "cart-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close() })

	repo, err := NewCartRepository(provider)
	if err != nil {
		t.Fatalf("new cart repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(30 * 24 * time.Hour)
	cart := domain.Cart{
		ID:             "cart-1",
		UserID:         "user-1",
		Currency:       "USD",
		Status:         domain.CartStatusActive,
		ShippingMethod: domain.ShippingMethodStandard,
		Items: []domain.CartLineItem{{
			ID: "item-1", ProductID: "p1", SellerID: "s1", Quantity: 2, UnitPrice: 1000,
			SelectedAttributes: []domain.SelectedAttribute{{Name: "size", Value: "M"}},
			AddedAt:            now, UpdatedAt: now,
		}},
		Summary:      domain.CartSummary{TotalItems: 1, TotalQuantity: 2, Subtotal: 2000, Shipping: 500, Tax: 200, Total: 2700},
		LastActivity: now,
		ExpiresAt:    &expires,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	saved, err := repo.Save(ctx, cart, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if saved.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", saved.Revision)
	}

	open, err := repo.FindOpenByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if open.ID != "cart-1" || len(open.Items) != 1 || open.Items[0].SelectedAttributes[0].Value != "M" {
		t.Fatalf("unexpected open cart %+v", open)
	}

	if _, err := repo.Save(ctx, cart, 0); !isConflict(err) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	second := cart
	second.ID = "cart-2"
	if _, err := repo.Save(ctx, second, 0); !isConflict(err) {
		t.Fatalf("expected conflict for second open cart, got %v", err)
	}

	converted := saved
	converted.Status = domain.CartStatusConverted
	if _, err := repo.Save(ctx, converted, 1); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := repo.Save(ctx, converted, 1); !isConflict(err) {
		t.Fatalf("expected stale revision conflict, got %v", err)
	}
	if _, err := repo.FindOpenByUser(ctx, "user-1"); !isNotFound(err) {
		t.Fatalf("expected owner released after conversion, got %v", err)
	}
	if _, err := repo.Save(ctx, second, 0); err != nil {
		t.Fatalf("expected new open cart after conversion: %v", err)
	}

	cutoff := now.Add(time.Hour)
	page, err := repo.List(ctx, repositories.CartListFilter{
		Statuses:           []domain.CartStatus{domain.CartStatusActive},
		LastActivityBefore: &cutoff,
		PageSize:           10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "cart-2" {
		t.Fatalf("unexpected list page %+v", page.Items)
	}

	if err := repo.Delete(ctx, "cart-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindOpenByUser(ctx, "user-1"); !isNotFound(err) {
		t.Fatalf("expected owner released after delete, got %v", err)
	}
}

func isConflict(err error) bool {
	repoErr, ok := err.(repositories.RepositoryError)
	return ok && repoErr.IsConflict()
}

func isNotFound(err error) bool {
	repoErr, ok := err.(repositories.RepositoryError)
	return ok && repoErr.IsNotFound()
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
