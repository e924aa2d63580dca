package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/cart/internal/domain"
)

// PubSubCheckoutPublisher publishes checkout hand-offs to a Pub/Sub topic.
type PubSubCheckoutPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubCheckoutPublisher(topic *pubsub.Topic) (*PubSubCheckoutPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub checkout publisher: topic is required")
	}
	return &PubSubCheckoutPublisher{topic: topic}, nil
}

// PublishCheckout publishes the snapshot and waits for the server-assigned message id.
func (p *PubSubCheckoutPublisher) PublishCheckout(ctx context.Context, snapshot domain.CheckoutSnapshot) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub checkout publisher: not initialised")
	}
	data, err := encodeCheckout(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal checkout: %w", err)
	}

	attrs := map[string]string{"eventType": CheckoutEventType}
	setAttr(attrs, "handoffId", snapshot.HandoffID)
	setAttr(attrs, "cartId", snapshot.CartID)
	setAttr(attrs, "userId", snapshot.UserID)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish checkout: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
