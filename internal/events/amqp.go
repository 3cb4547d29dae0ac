package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Publisher sends an encoded message under a routing key
type Publisher interface {
	PublishWithRoutingKey(routingKey string, message interface{}) error
	Close() error
}

// AMQPPublisher publishes JSON messages to a durable direct exchange
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange
func NewAMQPPublisher(amqpURL, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
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
		"direct", // type
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

	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// PublishWithRoutingKey marshals message to JSON and publishes it persistently
func (p *AMQPPublisher) PublishWithRoutingKey(routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Publish(p.exchange, routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close closes the channel and the connection
func (p *AMQPPublisher) Close() error {
	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
	}
	return err
}

// Forwarder is an EventHandler that relays bus events to a Publisher using
// the event type as routing key.
type Forwarder struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewForwarder creates a Forwarder
func NewForwarder(publisher Publisher, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{publisher: publisher, logger: logger}
}

func (f *Forwarder) GetHandlerID() string { return "amqp-forwarder" }

func (f *Forwarder) Handle(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.publisher.PublishWithRoutingKey(event.GetEventType(), event); err != nil {
		return err
	}
	f.logger.Debug("Event forwarded",
		zap.String("event_id", event.GetEventID()),
		zap.String("event_type", event.GetEventType()),
	)
	return nil
}
