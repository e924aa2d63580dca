//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	pconfig "github.com/hanko-field/cart/internal/platform/config"
	pfirestore "github.com/hanko-field/cart/internal/platform/firestore"
	"github.com/hanko-field/cart/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type stockEntry struct {
	SellerID string `firestore:"sellerId"`
	Stock    int    `firestore:"stock"`
}

func startEmulator(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        firestoreEmulatorImage,
			ExposedPorts: []string{"8080/tcp"},
			Cmd:          []string{"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet"},
			WaitingFor:   wait.ForLog("Dev App Server is now running").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestProviderCollectionsAndTransactions(t *testing.T) {
	endpoint := startEmulator(t)

	provider := pfirestore.NewProvider(
		pconfig.FirestoreConfig{ProjectID: "cart-test", EmulatorHost: endpoint},
		pfirestore.WithTransactionLimits(3, 10*time.Second),
	)
	t.Cleanup(func() { _ = provider.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, provider.Ping(ctx, "products"), "ping on an empty collection")

	products := pfirestore.NewCollection[stockEntry](provider, "products")
	ref, err := products.Doc(ctx, "prod-1")
	require.NoError(t, err)
	_, err = ref.Set(ctx, stockEntry{SellerID: "seller-a", Stock: 4})
	require.NoError(t, err)

	doc, err := products.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "prod-1", doc.ID)
	assert.Equal(t, 4, doc.Data.Stock)

	docs, err := products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sellerId", "==", "seller-a")
	})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = products.Get(ctx, "missing")
	var storeErr *repositories.StoreError
	require.True(t, errors.As(err, &storeErr), "expected store error, got %v", err)
	assert.True(t, storeErr.IsNotFound())

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var entry stockEntry
		if err := snap.DataTo(&entry); err != nil {
			return err
		}
		entry.Stock--
		return tx.Set(ref, entry)
	})
	require.NoError(t, err)

	doc, err = products.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Data.Stock)

	err = provider.RunTransaction(ctx, func(context.Context, *firestore.Transaction) error {
		return pfirestore.Conflict("carts.save", "stale revision")
	})
	require.True(t, errors.As(err, &storeErr), "conflict must survive the transaction wrapper, got %v", err)
	assert.True(t, storeErr.IsConflict())

	canceled, cancelTx := context.WithCancel(context.Background())
	cancelTx()
	err = provider.RunTransaction(canceled, func(context.Context, *firestore.Transaction) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, provider.Close())
	_, err = provider.Client(ctx)
	assert.ErrorIs(t, err, pfirestore.ErrProviderClosed)
}
