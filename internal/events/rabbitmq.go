package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/pavelanni/leaveportal/internal/model"
)

// RoutingKeyPrefix prefixes the routing key of every decision event; the
// leave status is appended, e.g. "leave.decided.approved".
const RoutingKeyPrefix = "leave.decided."

// RabbitMQ publishes events to a durable topic exchange.
type RabbitMQ struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// NewRabbitMQ connects to url and declares exchange.
func NewRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	slog.Info("connected to RabbitMQ", "exchange", exchange)
	return &RabbitMQ{conn: conn, channel: channel, exchange: exchange}, nil
}

// PublishLeaveDecided publishes ev as a persistent JSON message.
func (r *RabbitMQ) PublishLeaveDecided(ctx context.Context, ev model.LeaveDecidedEvent) error {
	msg, err := decidedMessage(ev)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = r.channel.PublishWithContext(
		publishCtx,
		r.exchange,
		RoutingKeyPrefix+string(ev.Status),
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	slog.Debug("leave decided event published", "message_id", msg.MessageId,
		"leave_id", ev.LeaveID, "status", ev.Status, "source", ev.Source)
	return nil
}

// decidedMessage builds the AMQP message for ev. A leave can be decided
// more than once, so every message gets its own ID and the leave ID
// travels in the body and the leave_id header.
func decidedMessage(ev model.LeaveDecidedEvent) (amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Headers:      amqp091.Table{"leave_id": ev.LeaveID, "source": ev.Source},
		Timestamp:    ev.At,
	}, nil
}

// Close closes the channel and connection.
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			slog.Error("failed to close RabbitMQ channel", "error", err)
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			slog.Error("failed to close RabbitMQ connection", "error", err)
		}
	}
	return nil
}
