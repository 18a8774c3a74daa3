// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/relabs-tech/sensorsend/internal/dispatch"
	"github.com/relabs-tech/sensorsend/internal/sample"
)

// publisher is the part of *amqp.Channel the transport publishes through.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPTransport publishes payloads to a fanout exchange.
type AMQPTransport struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	pub      publisher
	exchange string
	mu       sync.Mutex // amqp.Channel is not safe for concurrent publishing
}

// DialAMQP connects to url and declares exchange as a durable fanout.
func DialAMQP(url, exchange string) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPTransport{conn: conn, channel: ch, pub: ch, exchange: exchange}, nil
}

func (t *AMQPTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.pub.PublishWithContext(ctx,
		t.exchange, // exchange
		"",         // routing key, ignored by fanout
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now(),
			Body:         payload,
		})
	if err != nil {
		return fmt.Errorf("amqp: publish to %s: %w", t.exchange, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (t *AMQPTransport) Close() error {
	t.channel.Close()
	return t.conn.Close()
}

// Forwarder republishes received samples as JSON through a transport on its
// own goroutine. Offer never blocks the listener; a full buffer drops.
type Forwarder struct {
	name      string
	transport dispatch.Transport
	queue     chan sample.Sample
	logger    *zap.Logger

	forwarded atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewForwarder buffers up to size samples for transport.
func NewForwarder(name string, transport dispatch.Transport, size int, logger *zap.Logger) *Forwarder {
	if size <= 0 {
		size = 256
	}
	return &Forwarder{
		name:      name,
		transport: transport,
		queue:     make(chan sample.Sample, size),
		logger:    logger.Named(name),
	}
}

// Offer queues s for forwarding.
func (f *Forwarder) Offer(s sample.Sample) {
	select {
	case f.queue <- s:
	default:
		f.dropped.Add(1)
	}
}

// Run forwards queued samples until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-f.queue:
			payload, err := json.Marshal(s)
			if err != nil {
				f.failed.Add(1)
				continue
			}
			if err := f.transport.Send(ctx, payload); err != nil {
				f.failed.Add(1)
				f.logger.Warn("republish failed", zap.Error(err))
				continue
			}
			f.forwarded.Add(1)
		}
	}
}

// Counts returns forwarded, failed and dropped totals.
func (f *Forwarder) Counts() (forwarded, failed, dropped uint64) {
	return f.forwarded.Load(), f.failed.Load(), f.dropped.Load()
}

// Name identifies the forwarder in logs.
func (f *Forwarder) Name() string {
	return f.name
}
