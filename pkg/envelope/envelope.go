// Package envelope implements the wire contract carried in broker message
// properties: a message id, a format version, a flags bitfield and an
// expiration timestamp, all encoded as string headers.
//
// Encoding is used by publishers to stamp outgoing messages; decoding is
// best-effort and never fails construction of a message — a malformed
// envelope is reported through the returned error and handled downstream
// as an undecodable message.
package envelope

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joevandyk/beetle/pkg/errors"
)

// FormatVersion is the current envelope format version.
const FormatVersion = 1

// DefaultTTL is applied when a publisher does not specify one.
const DefaultTTL = 24 * time.Hour

// Header names used in broker message properties.
// All header values are strings (broker header codec constraint).
const (
	HeaderFormatVersion = "format_version"
	HeaderFlags         = "flags"
	HeaderExpiresAt     = "expires_at"
)

// Flags is the envelope flags bitfield.
type Flags uint32

// FlagRedundant marks a message published to two independent brokers.
const FlagRedundant Flags = 1 << 0

// Redundant reports whether the redundant bit is set.
func (f Flags) Redundant() bool {
	return f&FlagRedundant != 0
}

// Publishing option keys recognized by PublishingOptions.
// Unknown keys are silently dropped.
const (
	OptKey        = "key"
	OptMandatory  = "mandatory"
	OptImmediate  = "immediate"
	OptPersistent = "persistent"
	OptReplyTo    = "reply_to"
	OptRedundant  = "redundant"
	OptTTL        = "ttl"
)

// Properties is the broker-publish descriptor produced by PublishingOptions.
type Properties struct {
	// MessageID is a freshly generated time-based (v1) UUID, identical
	// across the redundant copies of one logical message.
	MessageID string

	// Headers carries the envelope fields, every value a string.
	Headers map[string]string

	// Passthrough broker-level options.
	Key        string
	Mandatory  bool
	Immediate  bool
	Persistent bool
	ReplyTo    string

	// Redundant mirrors the flags bit for the caller, which publishes to
	// two brokers when set.
	Redundant bool
}

// Fields is the decoded envelope of an incoming delivery.
type Fields struct {
	MessageID     string
	FormatVersion int
	Flags         Flags
	ExpiresAt     int64 // unix epoch seconds
}

// Codec encodes and decodes envelopes. The clock is injectable so tests can
// pin expiration timestamps.
type Codec struct {
	Now func() time.Time
}

// New returns a Codec using the system clock.
func New() *Codec {
	return &Codec{Now: time.Now}
}

// PublishingOptions turns a loose option map into a broker-publish
// descriptor. It generates a fresh message id, stamps the envelope headers
// and copies the allowlisted passthrough options. Any other key is ignored.
func (c *Codec) PublishingOptions(opts map[string]interface{}) Properties {
	p := Properties{
		Headers: map[string]string{},
	}

	ttl := DefaultTTL
	var flags Flags

	for k, v := range opts {
		switch k {
		case OptKey:
			p.Key, _ = v.(string)
		case OptMandatory:
			p.Mandatory, _ = v.(bool)
		case OptImmediate:
			p.Immediate, _ = v.(bool)
		case OptPersistent:
			p.Persistent, _ = v.(bool)
		case OptReplyTo:
			p.ReplyTo, _ = v.(string)
		case OptRedundant:
			if b, ok := v.(bool); ok && b {
				flags |= FlagRedundant
				p.Redundant = true
			}
		case OptTTL:
			switch t := v.(type) {
			case time.Duration:
				ttl = t
			case int:
				ttl = time.Duration(t) * time.Second
			case int64:
				ttl = time.Duration(t) * time.Second
			}
		}
	}

	id, err := uuid.NewUUID()
	if err != nil {
		// NewUUID only fails when the clock source is unusable; fall back
		// to a random id rather than refusing to publish.
		id = uuid.New()
	}
	p.MessageID = id.String()

	p.Headers[HeaderFormatVersion] = strconv.Itoa(FormatVersion)
	p.Headers[HeaderFlags] = strconv.FormatUint(uint64(flags), 10)
	p.Headers[HeaderExpiresAt] = strconv.FormatInt(c.Now().Add(ttl).Unix(), 10)

	return p
}

// Decode extracts the envelope fields from a delivery's message id and
// headers. Decoding is best-effort: the returned Fields are valid as far as
// parsing got, and the error describes the first malformed field.
func (c *Codec) Decode(messageID string, headers map[string]string) (Fields, error) {
	f := Fields{MessageID: messageID}

	v, err := strconv.Atoi(headers[HeaderFormatVersion])
	if err != nil {
		return f, errors.New(errors.CodeInvalidArgument, "malformed format_version header", err)
	}
	f.FormatVersion = v

	fl, err := strconv.ParseUint(headers[HeaderFlags], 10, 32)
	if err != nil {
		return f, errors.New(errors.CodeInvalidArgument, "malformed flags header", err)
	}
	f.Flags = Flags(fl)

	exp, err := strconv.ParseInt(headers[HeaderExpiresAt], 10, 64)
	if err != nil {
		return f, errors.New(errors.CodeInvalidArgument, "malformed expires_at header", err)
	}
	f.ExpiresAt = exp

	return f, nil
}
