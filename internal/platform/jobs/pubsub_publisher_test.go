package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/hanko-field/cart/internal/domain"
)

func sampleSnapshot() domain.CheckoutSnapshot {
	converted := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	return domain.CheckoutSnapshot{
		HandoffID: "6f1c2b1e-8d4a-4f5e-9a57-0e1f2a3b4c5d",
		CartID:    "01HZCART",
		UserID:    "user-1",
		Currency:  "USD",
		Items: []domain.CartLineItem{{
			ID: "01HZITEM", ProductID: "p1", SellerID: "s1", ProductName: "Mug", Quantity: 2, UnitPrice: 1250,
			SelectedAttributes: []domain.SelectedAttribute{{Name: "color", Value: "blue"}},
		}},
		Summary:         domain.CartSummary{Subtotal: 2500, Shipping: 500, Tax: 250, Total: 3250},
		ShippingAddress: &domain.Address{Recipient: "Ada", Address: "1 Main St", City: "Springfield", Country: "US"},
		ShippingMethod:  domain.ShippingMethodStandard,
		PaymentMethod:   domain.PaymentMethodCard,
		PaymentDetails:  map[string]string{"last4": "4242"},
		Coupon:          &domain.Coupon{Code: "SAVE10"},
		ConvertedAt:     converted,
	}
}

func TestPubSubCheckoutPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "cart-checkouts")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	publisher, err := NewPubSubCheckoutPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubCheckoutPublisher: %v", err)
	}

	snapshot := sampleSnapshot()
	id, err := publisher.PublishCheckout(ctx, snapshot)
	if err != nil {
		t.Fatalf("PublishCheckout: %v", err)
	}
	if id == "" {
		t.Fatalf("expected server message id")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload CheckoutMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.CartID != snapshot.CartID || payload.Summary.Total != 3250 || payload.CouponCode != "SAVE10" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if len(payload.Items) != 1 || payload.Items[0].Attributes["color"] != "blue" {
		t.Fatalf("unexpected items %#v", payload.Items)
	}
	attrs := messages[0].Attributes
	if attrs["eventType"] != CheckoutEventType || attrs["handoffId"] != snapshot.HandoffID || attrs["userId"] != "user-1" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestNewPubSubCheckoutPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubCheckoutPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
