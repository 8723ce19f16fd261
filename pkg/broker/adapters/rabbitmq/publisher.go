package rabbitmq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joevandyk/beetle/pkg/broker"
	"github.com/joevandyk/beetle/pkg/envelope"
)

// Publisher publishes envelope-stamped messages. A redundant publish goes
// to two servers with the same message id; the consumer-side deduplication
// collapses the copies back into one handler execution.
type Publisher struct {
	broker *Broker
	codec  *envelope.Codec

	mu       sync.Mutex
	channels []*pubChannel
	closed   bool
}

type pubChannel struct {
	ch       *amqp.Channel
	confirms <-chan amqp.Confirmation
}

// Publisher creates a publisher over this broker's connections.
func (b *Broker) Publisher() (*Publisher, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, broker.ErrClosed(nil)
	}

	p := &Publisher{broker: b, codec: envelope.New()}
	for _, conn := range b.conns {
		ch, err := conn.Channel()
		if err != nil {
			p.Close()
			return nil, broker.ErrConnectionFailed(err)
		}
		pc := &pubChannel{ch: ch}
		if b.config.PublisherConfirms {
			if err := ch.Confirm(false); err != nil {
				ch.Close()
				p.Close()
				return nil, broker.ErrConnectionFailed(err)
			}
			pc.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
		}
		p.channels = append(p.channels, pc)
	}
	return p, nil
}

// Publish stamps the envelope and sends the message. With the redundant
// option it publishes one copy to each of the first two servers; otherwise
// only the first configured server receives it, whatever its health.
// Returns the generated message id.
func (p *Publisher) Publish(ctx context.Context, queue string, payload []byte, opts map[string]interface{}) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", broker.ErrClosed(nil)
	}

	props := p.codec.PublishingOptions(opts)

	headers := amqp.Table{}
	for k, v := range props.Headers {
		headers[k] = v
	}

	deliveryMode := amqp.Transient
	if props.Persistent {
		deliveryMode = amqp.Persistent
	}

	routingKey := queue
	if props.Key != "" {
		routingKey = props.Key
	}

	publishing := amqp.Publishing{
		ContentType:  "application/octet-stream",
		MessageId:    props.MessageID,
		Headers:      headers,
		Body:         payload,
		DeliveryMode: deliveryMode,
		ReplyTo:      props.ReplyTo,
	}

	targets := p.channels[:1]
	if props.Redundant && len(p.channels) > 1 {
		targets = p.channels[:2]
	}

	exchange := p.broker.exchangeFor(queue)
	published := 0
	var lastErr error
	for _, pc := range targets {
		if err := pc.ch.PublishWithContext(ctx, exchange, routingKey, props.Mandatory, props.Immediate, publishing); err != nil {
			lastErr = err
			continue
		}
		if pc.confirms != nil {
			select {
			case confirm := <-pc.confirms:
				if !confirm.Ack {
					lastErr = broker.ErrPublishFailed(nil)
					continue
				}
			case <-ctx.Done():
				return "", broker.ErrTimeout("publish confirm", ctx.Err())
			}
		}
		published++
	}

	// At-least-once to at least one server is the publisher guarantee;
	// a redundant publish that reached one server still succeeds.
	if published == 0 {
		return "", broker.ErrPublishFailed(lastErr)
	}
	return props.MessageID, nil
}

// DeclareQueue sets up the exchange, queue and binding on every server so
// publishes are routable before any consumer attaches.
func (p *Publisher) DeclareQueue(queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pc := range p.channels {
		if err := p.broker.declare(pc.ch, queue); err != nil {
			return broker.ErrConnectionFailed(err)
		}
	}
	return nil
}

// Close releases the publisher's channels.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for _, pc := range p.channels {
		if pc.ch != nil {
			if err := pc.ch.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
