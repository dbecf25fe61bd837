package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrNotConnected = errors.New("not connected to RabbitMQ")
	ErrNoQueue      = errors.New("no queue configured")
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	BindingKeys        []string
	DeadLetterExchange string
	DeadLetterQueue    string
	PrefetchCount      int
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URL renders the AMQP connection URL
func (c *Config) URL() string {
	u := amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    strings.TrimPrefix(c.VHost, "/"),
	}
	if u.Vhost == "" {
		u.Vhost = "/"
	}
	return u.String()
}

// Client represents a RabbitMQ client bound to one exchange
type Client struct {
	config    *Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *slog.Logger
	connected atomic.Bool
}

// NewClient dials RabbitMQ and declares the topology in config
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

func (c *Client) dial() (*amqp.Connection, error) {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := amqp.DialConfig(c.config.URL(), amqpConfig)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		c.logger.Warn("RabbitMQ dial failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)
		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

// connect opens the connection and channel, then declares the topology
func (c *Client) connect() (err error) {
	if c.conn, err = c.dial(); err != nil {
		return err
	}

	if c.channel, err = c.conn.Channel(); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err = c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.connected.Store(true)
	go c.watch(c.channel.NotifyClose(make(chan *amqp.Error, 1)))

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.Any("bindings", c.config.BindingKeys),
	)
	return nil
}

// watch flips the client to disconnected once the broker closes the channel.
// A graceful Close delivers no error.
func (c *Client) watch(closed <-chan *amqp.Error) {
	if amqpErr, ok := <-closed; ok && amqpErr != nil {
		c.logger.Error("RabbitMQ channel closed",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason),
		)
	}
	c.connected.Store(false)
}

// setup declares the exchange and, when a queue is configured, the queue,
// its bindings and its dead-letter target
func (c *Client) setup() error {
	// Declare exchange
	err := c.channel.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Publishers do not own a queue
	if c.config.QueueName == "" {
		return nil
	}

	var queueArgs amqp.Table
	if c.config.DeadLetterExchange != "" {
		if err := c.setupDeadLetter(); err != nil {
			return err
		}
		queueArgs = amqp.Table{"x-dead-letter-exchange": c.config.DeadLetterExchange}
	}

	// Declare queue
	_, err = c.channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		queueArgs,                // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	for _, key := range c.config.BindingKeys {
		err = c.channel.QueueBind(
			c.config.QueueName,    // queue name
			key,                   // routing key
			c.config.ExchangeName, // exchange
			false,                 // no-wait
			nil,                   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue to %q: %w", key, err)
		}
	}

	if c.config.PrefetchCount > 0 {
		if err := c.channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	return nil
}

// setupDeadLetter declares a fanout exchange and a queue catching every
// rejected message
func (c *Client) setupDeadLetter() error {
	err := c.channel.ExchangeDeclare(
		c.config.DeadLetterExchange, // name
		amqp.ExchangeFanout,         // type
		true,                        // durable
		false,                       // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	queue := c.config.DeadLetterQueue
	if queue == "" {
		queue = c.config.QueueName + ".dead"
	}

	if _, err := c.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if err := c.channel.QueueBind(queue, "", c.config.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}
	return nil
}

// publish sends one persistent message to the exchange
func (c *Client) publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	return c.channel.PublishWithContext(ctx, c.config.ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  contentType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         routingKey,
		Timestamp:    time.Now().UTC(),
	})
}

// PublishWithRetry publishes to the exchange under routingKey, retrying
// failed publishes with exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	retries := c.config.PublishRetries
	if retries <= 0 {
		retries = 3
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	mult := c.config.PublishBackoffMult
	if mult < 1 {
		mult = 2
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = c.publish(ctx, routingKey, body, contentType); err == nil {
			c.logger.Debug("Event published",
				slog.String("routing_key", routingKey),
				slog.Int("attempt", attempt),
				slog.Int("body_size", len(body)),
			)
			return nil
		}
		if attempt > retries {
			break
		}

		c.logger.Warn("Publish failed, retrying",
			slog.String("routing_key", routingKey),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * mult)
	}

	c.logger.Error("Failed to publish event",
		slog.String("routing_key", routingKey),
		slog.Int("attempts", retries+1),
		slog.Any("error", err),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", retries+1, err)
}

// Consume starts a manual-ack consumer on the configured queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if c.config.QueueName == "" {
		return nil, ErrNoQueue
	}

	deliveries, err := c.channel.Consume(c.config.QueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Consuming job events",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)
	return deliveries, nil
}

// HealthCheck reports whether the broker connection is usable
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.conn != nil && !c.conn.IsClosed()
}

// Close closes the channel and the connection
func (c *Client) Close() error {
	c.connected.Store(false)

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}
