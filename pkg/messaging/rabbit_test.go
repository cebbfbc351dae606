package messaging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

func TestRabbitPublishReachesTransientConsumer(t *testing.T) {
	url := os.Getenv("ORDERS_TEST_RABBIT_URL")
	if url == "" {
		t.Skip("ORDERS_TEST_RABBIT_URL not set")
	}
	exchange := "checkout.test." + uuid.NewString()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	consumer, err := NewRabbitConsumer(url, exchange, QueueOptions{Transient: true}, logger)
	if err != nil {
		t.Fatalf("NewRabbitConsumer: %v", err)
	}
	defer consumer.Close()
	if consumer.Queue() == "" {
		t.Fatalf("transient queue has no server-generated name")
	}

	publisher, err := NewRabbitPublisher(url, exchange)
	if err != nil {
		t.Fatalf("NewRabbitPublisher: %v", err)
	}
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan amqp091.Delivery, 1)
	go func() {
		_ = consumer.Start(ctx, func(_ context.Context, d amqp091.Delivery) {
			_ = d.Ack(false)
			got <- d
		})
	}()

	msg := Message{ID: uuid.NewString(), Type: "orders.submitted", Payload: []byte(`{"order_id":"order-1"}`)}
	if err := publisher.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case d := <-got:
		if d.MessageId != msg.ID || d.Type != msg.Type || string(d.Body) != string(msg.Payload) {
			t.Fatalf("delivery: id=%s type=%s body=%s", d.MessageId, d.Type, d.Body)
		}
	case <-ctx.Done():
		t.Fatalf("no delivery before timeout")
	}
}
