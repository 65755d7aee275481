package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const (
	publishTimeout   = 5 * time.Second
	publishQueueSize = 256
	confirmBuffer    = 64
)

var (
	// ErrPublisherClosed is returned for events handed over after Close.
	ErrPublisherClosed = errors.New("publisher closed")
	// ErrPublishQueueFull is returned when the broker falls behind and the
	// outgoing queue has no room left. The event is dropped.
	ErrPublishQueueFull = errors.New("publish queue full")
)

// RabbitMQConfig describes where sale events are published.
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// amqpChannel is the part of *amqp.Channel the publisher drives.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher publishes events to a durable topic exchange with publisher
// confirms. Callers only enqueue; a single goroutine publishes and waits for
// each confirm, so a slow broker never holds up a request.
type RabbitMQPublisher struct {
	cfg       RabbitMQConfig
	logger    zerolog.Logger
	channel   amqpChannel
	confirms  <-chan amqp.Confirmation
	closeConn func() error
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan amqp.Publishing
	done   chan struct{}

	// nextTag is the delivery tag the broker assigns to the next publish.
	// Only the run goroutine touches it.
	nextTag uint64
}

// NewRabbitMQPublisher dials the broker and declares the outgoing exchange.
func NewRabbitMQPublisher(cfg RabbitMQConfig, logger zerolog.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open producer channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	logger.Info().Str("exchange", cfg.Exchange).Str("routingKey", cfg.RoutingKey).Msg("rabbitmq publisher ready")
	return newRabbitMQPublisher(cfg, logger, ch, confirms, conn.Close, publishQueueSize, publishTimeout), nil
}

func newRabbitMQPublisher(cfg RabbitMQConfig, logger zerolog.Logger, ch amqpChannel, confirms <-chan amqp.Confirmation, closeConn func() error, queueSize int, timeout time.Duration) *RabbitMQPublisher {
	p := &RabbitMQPublisher{
		cfg:       cfg,
		logger:    logger.With().Str("component", "rabbitmq").Logger(),
		channel:   ch,
		confirms:  confirms,
		closeConn: closeConn,
		timeout:   timeout,
		queue:     make(chan amqp.Publishing, queueSize),
		done:      make(chan struct{}),
		nextTag:   1,
	}
	go p.run()
	return p
}

// PublishSaleCompleted hands the event to the background publisher. It never
// waits for the broker.
func (p *RabbitMQPublisher) PublishSaleCompleted(ctx context.Context, event SaleCompleted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sale event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Body:         body,
		Timestamp:    event.Timestamp,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return ErrPublishQueueFull
	}
}

func (p *RabbitMQPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		if err := p.deliver(msg); err != nil {
			p.logger.Warn().Err(err).Str("eventId", msg.MessageId).Msg("sale event not delivered")
		}
	}
}

// deliver publishes one message and waits for its confirm. Confirms for
// earlier messages that timed out arrive late and are skipped by tag.
func (p *RabbitMQPublisher) deliver(msg amqp.Publishing) error {
	err := p.channel.Publish(
		p.cfg.Exchange,   // exchange
		p.cfg.RoutingKey, // routing key
		false,            // mandatory
		false,            // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("publish sale event: %w", err)
	}
	tag := p.nextTag
	p.nextTag++

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return errors.New("publisher channel closed before confirmation")
			}
			if confirm.DeliveryTag < tag {
				continue
			}
			if !confirm.Ack {
				return errors.New("sale event not confirmed by broker")
			}
			p.logger.Debug().Uint64("tag", confirm.DeliveryTag).Str("eventId", msg.MessageId).Msg("sale event confirmed")
			return nil
		case <-timer.C:
			return errors.New("publish confirmation timeout")
		}
	}
}

// Close stops accepting events, drains the queue and shuts the channel and
// connection down.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done

	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.closeConn != nil {
		errs = append(errs, p.closeConn())
	}
	return errors.Join(errs...)
}
