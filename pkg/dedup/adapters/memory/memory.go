// Package memory provides an in-process deduplication store adapter.
//
// It mirrors the Redis adapter's semantics under a single mutex, which
// trivially satisfies the per-message-id atomicity contract. Suitable for
// tests and single-node deployments; cross-process coordination requires
// the Redis adapter.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/joevandyk/beetle/pkg/dedup"
	"github.com/joevandyk/beetle/pkg/errors"
)

// Store is an in-memory deduplication store scoped to one queue.
type Store struct {
	mu    sync.Mutex
	queue string
	data  map[string]map[string]string // msgID -> sub -> value
}

// New creates an empty in-memory store for the given queue.
func New(queue string) *Store {
	return &Store{
		queue: queue,
		data:  make(map[string]map[string]string),
	}
}

func (s *Store) Get(ctx context.Context, msgID, sub string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.data[msgID]
	if !ok {
		return "", false, nil
	}
	val, ok := subs[sub]
	return val, ok, nil
}

func (s *Store) Set(ctx context.Context, msgID, sub, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subsLocked(msgID)[sub] = value
	return nil
}

func (s *Store) SetNX(ctx context.Context, msgID, sub, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subsLocked(msgID)
	if _, exists := subs[sub]; exists {
		return false, nil
	}
	subs[sub] = value
	return true, nil
}

func (s *Store) MSetNX(ctx context.Context, msgID string, values map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subsLocked(msgID)
	for sub := range values {
		if _, exists := subs[sub]; exists {
			return false, nil
		}
	}
	for sub, v := range values {
		subs[sub] = v
	}
	return true, nil
}

func (s *Store) Incr(ctx context.Context, msgID, sub string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subsLocked(msgID)
	var cur int64
	if raw, exists := subs[sub]; exists {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, errors.New(errors.CodeInvalidArgument, "counter holds a non-integer value", err)
		}
		cur = n
	}
	cur++
	subs[sub] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *Store) Del(ctx context.Context, msgID, sub string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subs, ok := s.data[msgID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(s.data, msgID)
		}
	}
	return nil
}

func (s *Store) DelKeys(ctx context.Context, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, msgID)
	return nil
}

func (s *Store) Exists(ctx context.Context, msgID, sub string) (bool, error) {
	_, ok, err := s.Get(ctx, msgID, sub)
	return ok, err
}

func (s *Store) Keys(ctx context.Context, msgID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.data[msgID]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(subs))
	for sub := range subs {
		keys = append(keys, sub)
	}
	return keys, nil
}

func (s *Store) GarbageCollect(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	collected := 0
	for msgID, subs := range s.data {
		raw, ok := subs[dedup.SubExpires]
		if !ok {
			continue
		}
		expires, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if expires <= cutoff.Unix() {
			delete(s.data, msgID)
			collected++
		}
	}
	return collected, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) subsLocked(msgID string) map[string]string {
	subs, ok := s.data[msgID]
	if !ok {
		subs = make(map[string]string)
		s.data[msgID] = subs
	}
	return subs
}
