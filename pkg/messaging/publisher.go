package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

type Message struct {
	ID      string
	Type    string
	Payload []byte
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type RabbitPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, exchange); err != nil {
		conn.Close()
		return nil, err
	}

	return &RabbitPublisher{conn: conn, exchange: exchange}, nil
}

// Publish sends msg with publisher confirms and waits for the broker ack.
func (p *RabbitPublisher) Publish(ctx context.Context, msg Message) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, msg.Type, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Type,
		Body:         msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", msg.Type, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: nacked by broker", msg.Type)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.conn.Close()
}

func declareExchange(ch *amqp091.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}
