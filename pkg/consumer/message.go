package consumer

import (
	"time"

	"github.com/joevandyk/beetle/pkg/broker"
	"github.com/joevandyk/beetle/pkg/envelope"
)

// Message is the in-process state of a single delivery. It is created when
// the delivery arrives, owned exclusively by one Process call, and
// discarded after Process returns.
type Message struct {
	// ID is the logical message id from the envelope.
	ID string

	// Queue is the queue the delivery arrived on.
	Queue string

	// FormatVersion, Flags and ExpiresAt are the decoded envelope fields.
	FormatVersion int
	Flags         envelope.Flags
	ExpiresAt     int64

	// Payload is the message body, verbatim.
	Payload []byte

	// DecodeErr holds the envelope decode error, if any. A message with a
	// decode error is still constructed and later acked-and-dropped.
	DecodeErr error

	opts       Options
	delivery   broker.Delivery
	handlerErr error
}

// NewMessage decodes a delivery into a Message. Construction never fails;
// a malformed envelope is captured in DecodeErr.
func NewMessage(queue string, d broker.Delivery, opts Options) *Message {
	m := &Message{
		Queue:    queue,
		Payload:  d.Body(),
		opts:     opts.normalized(),
		delivery: d,
	}

	codec := envelope.New()
	fields, err := codec.Decode(d.MessageID(), d.Headers())
	m.ID = fields.MessageID
	m.FormatVersion = fields.FormatVersion
	m.Flags = fields.Flags
	m.ExpiresAt = fields.ExpiresAt
	m.DecodeErr = err

	return m
}

// Options returns the normalized handler policy for this message.
func (m *Message) Options() Options {
	return m.opts
}

// Redundant reports whether the publisher sent this message to two brokers.
func (m *Message) Redundant() bool {
	return m.Flags.Redundant()
}

// Simple reports whether the message is eligible for the no-store fast
// path: non-redundant with a single-attempt policy.
func (m *Message) Simple() bool {
	return !m.Redundant() && m.opts.AttemptsLimit == 1
}

// Expired reports whether the message is stale at the given instant.
// The expiry tie goes to the message: expires_at == now is not expired.
func (m *Message) Expired(now time.Time) bool {
	return now.Unix() > m.ExpiresAt
}

// HandlerErr returns the error captured from the last handler run in this
// Process call, or nil.
func (m *Message) HandlerErr() error {
	return m.handlerErr
}
