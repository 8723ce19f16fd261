// Package memory provides an in-process broker adapter for tests and
// development. A publish with the redundant option enqueues two deliveries
// carrying the same message id, mimicking what a consumer of two real
// brokers would see.
package memory

import (
	"context"
	"sync"

	"github.com/joevandyk/beetle/pkg/broker"
	"github.com/joevandyk/beetle/pkg/envelope"
)

// Config holds configuration for the memory broker.
type Config struct {
	// BufferSize is the per-queue delivery buffer.
	BufferSize int `env:"MEMORY_BROKER_BUFFER" env-default:"128"`
}

// Broker is an in-process broker.
type Broker struct {
	codec *envelope.Codec

	mu     sync.Mutex
	queues map[string]chan *Delivery
	closed bool
	buffer int
}

// New creates an empty in-process broker.
func New(cfg Config) *Broker {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 128
	}
	return &Broker{
		codec:  envelope.New(),
		queues: make(map[string]chan *Delivery),
		buffer: buffer,
	}
}

func (b *Broker) queue(name string) chan *Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = make(chan *Delivery, b.buffer)
		b.queues[name] = q
	}
	return q
}

// Publish stamps the envelope and enqueues the message: one delivery
// normally, two identical ones when the redundant option is set. Returns
// the generated message id.
func (b *Broker) Publish(ctx context.Context, queue string, payload []byte, opts map[string]interface{}) (string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", broker.ErrClosed(nil)
	}
	b.mu.Unlock()

	props := b.codec.PublishingOptions(opts)

	copies := 1
	if props.Redundant {
		copies = 2
	}
	q := b.queue(queue)
	for i := 0; i < copies; i++ {
		d := &Delivery{
			messageID: props.MessageID,
			headers:   props.Headers,
			body:      payload,
		}
		select {
		case q <- d:
		default:
			return "", broker.ErrPublishFailed(nil)
		}
	}
	return props.MessageID, nil
}

// Subscribe consumes the queue until the context is canceled.
func (b *Broker) Subscribe(ctx context.Context, queue string, fn broker.DeliveryHandler) error {
	q := b.queue(queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-q:
			if !ok {
				return nil
			}
			fn(ctx, d)
		}
	}
}

// Close drops all queues.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	return nil
}

// Healthy reports whether the broker accepts publishes.
func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Delivery is an in-process delivery. It records acks and rejects so tests
// can assert on them.
type Delivery struct {
	messageID string
	headers   map[string]string
	body      []byte

	mu       sync.Mutex
	acked    bool
	rejected bool
	requeued bool
}

// NewDelivery builds a delivery directly, bypassing Publish. Tests use it
// to inject crafted envelopes (malformed headers, stale expiries).
func NewDelivery(messageID string, headers map[string]string, body []byte) *Delivery {
	return &Delivery{messageID: messageID, headers: headers, body: body}
}

func (d *Delivery) MessageID() string {
	return d.messageID
}

func (d *Delivery) Headers() map[string]string {
	return d.headers
}

func (d *Delivery) Body() []byte {
	return d.body
}

func (d *Delivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *Delivery) Reject(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejected = true
	d.requeued = requeue
	return nil
}

// Acked reports whether Ack was called.
func (d *Delivery) Acked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}

// Rejected reports whether Reject was called.
func (d *Delivery) Rejected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rejected
}
