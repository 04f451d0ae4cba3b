package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeKind = "topic"

// Broker publishes to and consumes from durable RabbitMQ topic exchanges.
type Broker struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	subCh  *amqp.Channel
	logger *slog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewBroker dials RabbitMQ with a bounded timeout.
func NewBroker(amqpURL string, logger *slog.Logger) (*Broker, error) {
	if amqpURL == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("parse rabbitmq url: %w", err)
	}
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return &Broker{conn: conn, pubCh: ch, logger: logger.With("component", "rabbitmq")}, nil
}

// Publish sends a JSON body. A failed publish reopens the channel and is retried once.
func (b *Broker) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.publishLocked(ctx, exchange, routingKey, body)
	if err == nil {
		return nil
	}
	b.logger.Warn("publish failed; reopening channel", "exchange", exchange, "routing_key", routingKey, "error", err)
	ch, chErr := b.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("reopen channel: %w", chErr)
	}
	if b.pubCh != nil {
		b.pubCh.Close()
	}
	b.pubCh = ch
	return b.publishLocked(ctx, exchange, routingKey, body)
}

func (b *Broker) publishLocked(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := b.pubCh.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return err
	}
	return b.pubCh.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Consume binds queueName to exchange for every routing key in bindings and
// dispatches deliveries until ctx is done. Handlers returning false are requeued.
func (b *Broker) Consume(ctx context.Context, exchange, queueName string, bindings map[string]func([]byte) bool) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	b.mu.Lock()
	ch, err := b.conn.Channel()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.subCh = ch
	b.mu.Unlock()

	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return err
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for routingKey := range bindings {
		if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return err
	}
	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			handler, found := bindings[d.RoutingKey]
			if !found {
				b.logger.Warn("no handler for routing key; dropping", "routing_key", d.RoutingKey)
				_ = d.Ack(false)
				continue
			}
			if handler(d.Body) {
				_ = d.Ack(false)
			} else {
				b.logger.Warn("handler failed; requeueing", "routing_key", d.RoutingKey)
				_ = d.Nack(false, true)
			}
		}
	}
}

// Close closes the channels and the connection.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subCh != nil {
		b.subCh.Close()
	}
	if b.pubCh != nil {
		b.pubCh.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}

// Ping reports an error once the connection has been lost.
func (b *Broker) Ping() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}
