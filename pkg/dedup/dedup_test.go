package dedup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joevandyk/beetle/pkg/dedup"
)

func TestKeyScheme(t *testing.T) {
	key := dedup.Key("orders", "9f2c8a50-1111-2222-3333-444455556666", dedup.SubStatus)
	assert.Equal(t, "msgid:orders:9f2c8a50-1111-2222-3333-444455556666:status", key)
}

func TestMsgIDFromKey(t *testing.T) {
	key := dedup.Key("orders", "9f2c8a50-1111-2222-3333-444455556666", dedup.SubExpires)

	msgID, ok := dedup.MsgIDFromKey(key)
	assert.True(t, ok)
	assert.Equal(t, "9f2c8a50-1111-2222-3333-444455556666", msgID)

	_, ok = dedup.MsgIDFromKey("unrelated:key")
	assert.False(t, ok)

	_, ok = dedup.MsgIDFromKey("msgid:short")
	assert.False(t, ok)
}

func TestKeyPattern(t *testing.T) {
	assert.Equal(t, "msgid:orders:*:expires", dedup.KeyPattern("orders", dedup.SubExpires))
}
