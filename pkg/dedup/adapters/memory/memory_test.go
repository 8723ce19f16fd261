package memory_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joevandyk/beetle/pkg/dedup"
	"github.com/joevandyk/beetle/pkg/dedup/adapters/memory"
)

func TestSetNX(t *testing.T) {
	ctx := context.Background()
	s := memory.New("orders")

	created, err := s.SetNX(ctx, "m1", dedup.SubMutex, "100")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.SetNX(ctx, "m1", dedup.SubMutex, "200")
	require.NoError(t, err)
	assert.False(t, created)

	val, ok, err := s.Get(ctx, "m1", dedup.SubMutex)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "100", val, "losing setnx must not overwrite")
}

func TestMSetNXAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := memory.New("orders")

	created, err := s.MSetNX(ctx, "m1", map[string]string{
		dedup.SubStatus:  dedup.StatusIncomplete,
		dedup.SubExpires: "1700000000",
	})
	require.NoError(t, err)
	assert.True(t, created)

	// One key already present blocks the whole write.
	created, err = s.MSetNX(ctx, "m1", map[string]string{
		dedup.SubStatus:  dedup.StatusCompleted,
		dedup.SubTimeout: "42",
	})
	require.NoError(t, err)
	assert.False(t, created)

	_, ok, err := s.Get(ctx, "m1", dedup.SubTimeout)
	require.NoError(t, err)
	assert.False(t, ok, "failed msetnx must write nothing")

	status, _, err := s.Get(ctx, "m1", dedup.SubStatus)
	require.NoError(t, err)
	assert.Equal(t, dedup.StatusIncomplete, status)
}

func TestIncr(t *testing.T) {
	ctx := context.Background()
	s := memory.New("orders")

	n, err := s.Incr(ctx, "m1", dedup.SubAttempts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Incr(ctx, "m1", dedup.SubAttempts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDelAndDelKeys(t *testing.T) {
	ctx := context.Background()
	s := memory.New("orders")

	require.NoError(t, s.Set(ctx, "m1", dedup.SubStatus, dedup.StatusIncomplete))
	require.NoError(t, s.Set(ctx, "m1", dedup.SubMutex, "1"))

	require.NoError(t, s.Del(ctx, "m1", dedup.SubMutex))
	ok, err := s.Exists(ctx, "m1", dedup.SubMutex)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent sub-key is not an error.
	require.NoError(t, s.Del(ctx, "m1", dedup.SubMutex))

	require.NoError(t, s.DelKeys(ctx, "m1"))
	keys, err := s.Keys(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	s := memory.New("orders")

	keys, err := s.Keys(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Set(ctx, "m1", dedup.SubStatus, dedup.StatusIncomplete))
	require.NoError(t, s.Set(ctx, "m1", dedup.SubAttempts, "1"))

	keys, err = s.Keys(ctx, "m1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dedup.SubStatus, dedup.SubAttempts}, keys)
}

func TestGarbageCollect(t *testing.T) {
	ctx := context.Background()
	s := memory.New("orders")
	cutoff := time.Unix(1_700_000_000, 0)

	seed := func(msgID string, expires int64) {
		require.NoError(t, s.Set(ctx, msgID, dedup.SubStatus, dedup.StatusIncomplete))
		require.NoError(t, s.Set(ctx, msgID, dedup.SubExpires, strconv.FormatInt(expires, 10)))
	}
	seed("old", cutoff.Unix()-100)
	seed("tie", cutoff.Unix())
	seed("fresh", cutoff.Unix()+100)

	collected, err := s.GarbageCollect(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, collected, "expiry at the cutoff is collected")

	keys, err := s.Keys(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.Keys(ctx, "tie")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.Keys(ctx, "fresh")
	require.NoError(t, err)
	assert.NotEmpty(t, keys)
}
