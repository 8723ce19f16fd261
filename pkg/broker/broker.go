// Package broker provides a unified abstraction over AMQP-style message
// brokers.
//
// The package follows the adapter pattern with decoupled dependencies:
//   - Core interfaces are defined here (zero external dependencies)
//   - Each adapter lives in its own sub-package (pkg/broker/adapters/{driver})
//   - Users import only the adapter they need, pulling only that SDK
//
// Publishers may send the same logical message to two independent brokers
// for redundancy; consumers then receive two deliveries carrying the same
// message id and rely on the processing state machine (pkg/consumer) to run
// the handler exactly once.
package broker

import "context"

// Delivery is one message handed to a consumer by a broker.
// A delivery is owned exclusively by the task processing it.
type Delivery interface {
	// MessageID returns the logical message id, identical across the
	// redundant copies of one message.
	MessageID() string

	// Headers returns the string-valued message headers.
	Headers() map[string]string

	// Body returns the payload, handed to handlers verbatim.
	Body() []byte

	// Ack marks this delivery consumed. The broker will not redeliver it.
	Ack() error

	// Reject returns the delivery to the broker. With requeue the broker
	// redelivers it later; without, it is dropped or dead-lettered.
	// Callers may instead simply not ack and rely on redelivery semantics.
	Reject(requeue bool) error
}

// Publisher sends messages to a queue.
type Publisher interface {
	// Publish sends one message. The option map is interpreted by
	// envelope.PublishingOptions: redundant publishes go to two brokers,
	// ttl stamps the expiration header, unknown keys are ignored.
	// Returns the generated message id.
	Publish(ctx context.Context, queue string, payload []byte, opts map[string]interface{}) (string, error)

	// Close releases resources associated with the publisher.
	Close() error
}

// DeliveryHandler processes one delivery. Implementations decide whether to
// ack through the delivery itself; the subscription loop neither acks nor
// rejects on their behalf.
type DeliveryHandler func(ctx context.Context, d Delivery)

// Subscriber consumes deliveries from a queue.
type Subscriber interface {
	// Subscribe consumes the queue and calls fn for each delivery.
	// It blocks until the context is canceled or the broker channel dies.
	Subscribe(ctx context.Context, queue string, fn DeliveryHandler) error

	// Close stops consuming and releases resources.
	Close() error
}
