package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/eshaffer321/receipt-reconciler/internal/infrastructure/config"
)

// HandlerFunc processes one decoded batch. A returned error requeues it.
type HandlerFunc func(ctx context.Context, msg *BankFeedMessage) error

// Client owns one AMQP connection and channel bound to the feed queue.
type Client struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	cfg     config.FeedConfig
	logger  *slog.Logger
}

// NewClient dials the broker and declares the exchange, queue and binding.
func NewClient(cfg config.FeedConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("feed url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{conn: conn, channel: channel, cfg: cfg, logger: logger}
	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) routingKey() string {
	if c.cfg.RoutingKey != "" {
		return c.cfg.RoutingKey
	}
	return c.cfg.Queue
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.cfg.Exchange, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := c.channel.QueueBind(c.cfg.Queue, c.routingKey(), c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	if c.cfg.Prefetch > 0 {
		if err := c.channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	return nil
}

// Publish sends a batch to the feed exchange.
func (c *Client) Publish(ctx context.Context, msg *BankFeedMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(ctx,
		c.cfg.Exchange,
		c.routingKey(),
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msg.BatchID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	c.logger.InfoContext(ctx, "published bank feed batch",
		"batch_id", msg.BatchID,
		"account_id", msg.AccountID,
		"records", len(msg.Records))
	return nil
}

// Consume delivers batches to handler until ctx is cancelled or the
// broker closes the channel.
func (c *Client) Consume(ctx context.Context, handler HandlerFunc) error {
	msgs, err := c.channel.Consume(
		c.cfg.Queue, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "consuming bank feed", "queue", c.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "stopping bank feed consumer", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			deliver(ctx, c.logger, delivery.Body, delivery, handler)
		}
	}
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// acknowledger is the part of amqp091.Delivery that settles a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Outcome records how a delivery was settled.
type Outcome int

const (
	Acked Outcome = iota
	Rejected
	Requeued
)

func deliver(ctx context.Context, logger *slog.Logger, body []byte, ack acknowledger, handler HandlerFunc) Outcome {
	msg, err := BankFeedMessageFromJSON(body)
	if err != nil {
		logger.ErrorContext(ctx, "dropping malformed bank feed message", "error", err)
		ack.Nack(false, false)
		return Rejected
	}

	if err := handler(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "bank feed batch failed",
			"error", err,
			"batch_id", msg.BatchID,
			"account_id", msg.AccountID)
		ack.Nack(false, true)
		return Requeued
	}

	ack.Ack(false)
	return Acked
}
