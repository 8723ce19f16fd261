// Package dedup defines the deduplication store contract used to coordinate
// message processing across consumers.
//
// For each logical message id the store holds independently addressable
// sub-keys under a compound key "msgid:<queue>:<uuid>:<sub>". All operations
// are atomic and linearizable per message id; ordering across message ids is
// irrelevant.
//
// This package supports the following backends:
//   - Memory: in-process store for testing and single-node deployments
//   - Redis: production store shared by a consumer fleet
package dedup

import (
	"context"
	"strings"
	"time"
)

// Sub-keys kept per message id.
const (
	SubStatus     = "status"
	SubExpires    = "expires"
	SubTimeout    = "timeout"
	SubAttempts   = "attempts"
	SubExceptions = "exceptions"
	SubMutex      = "mutex"
	SubDelay      = "delay"
	SubAckCount   = "ack_count"
)

// Values of the status sub-key.
const (
	StatusIncomplete = "incomplete"
	StatusCompleted  = "completed"
)

// Store is the deduplication store contract. A Store instance is scoped to
// one queue; the queue name is part of the key namespace.
type Store interface {
	// Get returns the stored value for a sub-key.
	// The second return is false if the sub-key is absent.
	Get(ctx context.Context, msgID, sub string) (string, bool, error)

	// Set stores a value unconditionally.
	Set(ctx context.Context, msgID, sub, value string) error

	// SetNX stores a value iff the sub-key is absent.
	// Returns true iff it created the key.
	SetNX(ctx context.Context, msgID, sub, value string) (bool, error)

	// MSetNX stores all given sub-keys iff none of them exist.
	// The write is all-or-nothing; returns true iff it created the keys.
	MSetNX(ctx context.Context, msgID string, values map[string]string) (bool, error)

	// Incr atomically increments an integer counter and returns the new value.
	// An absent sub-key counts as zero.
	Incr(ctx context.Context, msgID, sub string) (int64, error)

	// Del removes one sub-key. Removing an absent sub-key is not an error.
	Del(ctx context.Context, msgID, sub string) error

	// DelKeys removes every sub-key of a message id.
	DelKeys(ctx context.Context, msgID string) error

	// Exists reports whether a sub-key is present.
	Exists(ctx context.Context, msgID, sub string) (bool, error)

	// Keys enumerates the sub-keys currently present for a message id.
	Keys(ctx context.Context, msgID string) ([]string, error)

	// GarbageCollect scans expires sub-keys and removes every sub-key of
	// any message id whose expiry is at or before the cutoff. Returns the
	// number of message ids collected. Implementations may skip the scan
	// probabilistically to bound cost.
	GarbageCollect(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases all resources.
	Close() error
}

// Config holds configuration for the deduplication store.
type Config struct {
	// Driver names the store backend: "memory" or "redis". No code in
	// this module reads it; cmd/beetle always uses the Redis adapter.
	Driver string `env:"DEDUP_DRIVER" env-default:"memory"`

	// Host is the store server hostname.
	Host string `env:"DEDUP_HOST" env-default:"localhost"`

	// Port is the store server port.
	Port string `env:"DEDUP_PORT" env-default:"6379"`

	// Password is the authentication password (optional).
	Password string `env:"DEDUP_PASSWORD"`

	// DB is the database number (Redis only).
	DB int `env:"DEDUP_DB" env-default:"0"`

	// GCSampleRate is the probability that a GarbageCollect call actually
	// scans; 1.0 scans always.
	GCSampleRate float64 `env:"DEDUP_GC_SAMPLE_RATE" env-default:"1.0"`
}

const keyPrefix = "msgid:"

// Key builds the compound store key for one sub-key of a message id.
// The scheme is externally visible because operator-run GC scans rely on it.
func Key(queue, msgID, sub string) string {
	return keyPrefix + queue + ":" + msgID + ":" + sub
}

// KeyPattern returns the match pattern for a queue's sub-keys, for scans.
func KeyPattern(queue, sub string) string {
	return keyPrefix + queue + ":*:" + sub
}

// MsgIDFromKey is the inverse of Key: it extracts the message id from a
// compound store key. The second return is false for keys outside the
// naming scheme.
func MsgIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", false
	}
	parts := strings.Split(key, ":")
	// msgid:<queue>:<uuid>:<sub>
	if len(parts) < 4 {
		return "", false
	}
	return strings.Join(parts[2:len(parts)-1], ":"), true
}
