package rabbitmq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joevandyk/beetle/pkg/broker"
)

// Subscriber consumes a queue with manual acknowledgment. Deliveries left
// unacked return to the broker when the channel closes, which is what the
// processing state machine's reject-by-not-acking relies on.
type Subscriber struct {
	broker *Broker
	conn   *amqp.Connection

	mu     sync.Mutex
	ch     *amqp.Channel
	closed bool
}

// Subscriber creates a subscriber on the broker's n-th server connection.
// A redundant setup runs one subscriber per server so both copies of each
// message are seen.
func (b *Broker) Subscriber(server int) (*Subscriber, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, broker.ErrClosed(nil)
	}
	if server < 0 || server >= len(b.conns) {
		return nil, broker.ErrInvalidConfig("no such server", nil)
	}
	return &Subscriber{broker: b, conn: b.conns[server]}, nil
}

// Subscribe consumes the queue and calls fn for each delivery. It blocks
// until the context is canceled or the channel dies. Acking is entirely up
// to fn (via the processing state machine).
func (s *Subscriber) Subscribe(ctx context.Context, queue string, fn broker.DeliveryHandler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return broker.ErrClosed(nil)
	}
	ch, err := s.conn.Channel()
	if err != nil {
		s.mu.Unlock()
		return broker.ErrConnectionFailed(err)
	}
	s.ch = ch
	s.mu.Unlock()

	if err := ch.Qos(s.broker.config.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return broker.ErrConnectionFailed(err)
	}
	if err := s.broker.declare(ch, queue); err != nil {
		ch.Close()
		return broker.ErrConnectionFailed(err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return broker.ErrConsumeFailed(err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil // channel closed
			}
			fn(ctx, &delivery{d: d})
		}
	}
}

// Close stops consuming.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.ch != nil {
		return s.ch.Close()
	}
	return nil
}

// delivery adapts amqp.Delivery to broker.Delivery.
type delivery struct {
	d amqp.Delivery
}

func (d *delivery) MessageID() string {
	return d.d.MessageId
}

func (d *delivery) Headers() map[string]string {
	headers := make(map[string]string, len(d.d.Headers))
	for k, v := range d.d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}

func (d *delivery) Body() []byte {
	return d.d.Body
}

func (d *delivery) Ack() error {
	if err := d.d.Ack(false); err != nil {
		return broker.ErrAckFailed(err)
	}
	return nil
}

func (d *delivery) Reject(requeue bool) error {
	if err := d.d.Nack(false, requeue); err != nil {
		return broker.ErrNackFailed(err)
	}
	return nil
}
