package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	domain "github.com/hanko-field/cart/internal/domain"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCheckoutPublisher writes checkout hand-offs to a Kafka topic keyed by cart id,
// so every event for a cart lands on the same partition.
type KafkaCheckoutPublisher struct {
	writer messageWriter
}

func NewKafkaCheckoutPublisher(topic string, brokers ...string) (*KafkaCheckoutPublisher, error) {
	if topic == "" {
		return nil, errors.New("kafka checkout publisher: topic is required")
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka checkout publisher: at least one broker is required")
	}
	return &KafkaCheckoutPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}}, nil
}

// PublishCheckout returns the hand-off id; Kafka does not assign message ids.
func (p *KafkaCheckoutPublisher) PublishCheckout(ctx context.Context, snapshot domain.CheckoutSnapshot) (string, error) {
	data, err := encodeCheckout(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal checkout: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(snapshot.CartID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(CheckoutEventType)},
			{Key: "handoff_id", Value: []byte(snapshot.HandoffID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("publish checkout: %w", err)
	}
	return snapshot.HandoffID, nil
}

func (p *KafkaCheckoutPublisher) Close() error {
	return p.writer.Close()
}
