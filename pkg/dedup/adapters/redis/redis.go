// Package redis provides the Redis deduplication store adapter.
//
// Every operation the processing state machine uses maps onto a single
// Redis command (SETNX, MSETNX, INCR, DEL, ...), which gives the
// per-message-id atomicity it relies on. Keys and GarbageCollect issue
// several commands and are not atomic. A single-primary Redis satisfies the
// linearizability requirement; failover election is out of scope here.
//
// # Dependencies
//
// This package requires: github.com/redis/go-redis/v9
package redis

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joevandyk/beetle/pkg/dedup"
	"github.com/joevandyk/beetle/pkg/errors"
)

// subKeys is the full set of sub-keys a message id may own; DelKeys and
// Keys address them explicitly so no scan is needed on the hot path.
var subKeys = []string{
	dedup.SubStatus,
	dedup.SubExpires,
	dedup.SubTimeout,
	dedup.SubAttempts,
	dedup.SubExceptions,
	dedup.SubMutex,
	dedup.SubDelay,
	dedup.SubAckCount,
}

// Store is a Redis-backed deduplication store scoped to one queue.
type Store struct {
	client       redis.Cmdable
	queue        string
	gcSampleRate float64
	closer       func() error
}

// New creates a Store from dedup.Config, owning the underlying client.
func New(cfg dedup.Config, queue string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Check connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to deduplication store")
	}

	s := NewWithClient(client, queue)
	s.gcSampleRate = cfg.GCSampleRate
	s.closer = client.Close
	return s, nil
}

// NewWithClient creates a Store on an existing client. The caller keeps
// ownership of the client; Close is a no-op.
func NewWithClient(client redis.Cmdable, queue string) *Store {
	return &Store{
		client:       client,
		queue:        queue,
		gcSampleRate: 1.0,
	}
}

func (s *Store) key(msgID, sub string) string {
	return dedup.Key(s.queue, msgID, sub)
}

func (s *Store) Get(ctx context.Context, msgID, sub string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(msgID, sub)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "failed to get from deduplication store")
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, msgID, sub, value string) error {
	if err := s.client.Set(ctx, s.key(msgID, sub), value, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to set in deduplication store")
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, msgID, sub, value string) (bool, error) {
	created, err := s.client.SetNX(ctx, s.key(msgID, sub), value, 0).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to setnx in deduplication store")
	}
	return created, nil
}

func (s *Store) MSetNX(ctx context.Context, msgID string, values map[string]string) (bool, error) {
	pairs := make([]interface{}, 0, len(values)*2)
	for sub, v := range values {
		pairs = append(pairs, s.key(msgID, sub), v)
	}
	created, err := s.client.MSetNX(ctx, pairs...).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to msetnx in deduplication store")
	}
	return created, nil
}

func (s *Store) Incr(ctx context.Context, msgID, sub string) (int64, error) {
	val, err := s.client.Incr(ctx, s.key(msgID, sub)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to incr in deduplication store")
	}
	return val, nil
}

func (s *Store) Del(ctx context.Context, msgID, sub string) error {
	if err := s.client.Del(ctx, s.key(msgID, sub)).Err(); err != nil {
		return errors.Wrap(err, "failed to del in deduplication store")
	}
	return nil
}

func (s *Store) DelKeys(ctx context.Context, msgID string) error {
	keys := make([]string, len(subKeys))
	for i, sub := range subKeys {
		keys[i] = s.key(msgID, sub)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "failed to purge message keys")
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, msgID, sub string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(msgID, sub)).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check existence in deduplication store")
	}
	return n > 0, nil
}

func (s *Store) Keys(ctx context.Context, msgID string) ([]string, error) {
	var present []string
	for _, sub := range subKeys {
		ok, err := s.Exists(ctx, msgID, sub)
		if err != nil {
			return nil, err
		}
		if ok {
			present = append(present, sub)
		}
	}
	return present, nil
}

// GarbageCollect scans expires sub-keys for this queue and purges every
// message id whose expiry is at or before the cutoff. The scan is skipped
// with probability 1-gcSampleRate to bound cost when many consumers GC.
func (s *Store) GarbageCollect(ctx context.Context, cutoff time.Time) (int, error) {
	if s.gcSampleRate < 1.0 && rand.Float64() >= s.gcSampleRate {
		return 0, nil
	}

	collected := 0
	pattern := dedup.KeyPattern(s.queue, dedup.SubExpires)
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		msgID, ok := dedup.MsgIDFromKey(key)
		if !ok {
			continue
		}
		val, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return collected, errors.Wrap(err, "failed to read expiry during gc")
		}
		expires, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		if expires <= cutoff.Unix() {
			if err := s.DelKeys(ctx, msgID); err != nil {
				return collected, err
			}
			collected++
		}
	}
	if err := iter.Err(); err != nil {
		return collected, errors.Wrap(err, "failed to scan deduplication store")
	}
	return collected, nil
}

func (s *Store) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// Healthy reports whether the store answers a ping.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}
