package envelope_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joevandyk/beetle/pkg/envelope"
)

func fixedCodec() (*envelope.Codec, time.Time) {
	now := time.Unix(1_700_000_000, 0)
	return &envelope.Codec{Now: func() time.Time { return now }}, now
}

func TestPublishingOptionsDefaults(t *testing.T) {
	codec, now := fixedCodec()

	props := codec.PublishingOptions(nil)

	require.NotEmpty(t, props.MessageID)
	assert.Equal(t, "1", props.Headers[envelope.HeaderFormatVersion])
	assert.Equal(t, "0", props.Headers[envelope.HeaderFlags])
	assert.Equal(t,
		strconv.FormatInt(now.Add(envelope.DefaultTTL).Unix(), 10),
		props.Headers[envelope.HeaderExpiresAt],
		"default ttl is one day")
	assert.False(t, props.Redundant)
}

func TestPublishingOptionsRoundTrip(t *testing.T) {
	codec, now := fixedCodec()

	props := codec.PublishingOptions(map[string]interface{}{
		"redundant":  true,
		"ttl":        time.Hour,
		"key":        "routing.key",
		"mandatory":  true,
		"immediate":  true,
		"persistent": true,
		"reply_to":   "replies",
	})

	assert.Equal(t, "routing.key", props.Key)
	assert.True(t, props.Mandatory)
	assert.True(t, props.Immediate)
	assert.True(t, props.Persistent)
	assert.Equal(t, "replies", props.ReplyTo)
	assert.True(t, props.Redundant)

	fields, err := codec.Decode(props.MessageID, props.Headers)
	require.NoError(t, err)
	assert.Equal(t, props.MessageID, fields.MessageID)
	assert.Equal(t, envelope.FormatVersion, fields.FormatVersion)
	assert.True(t, fields.Flags.Redundant())
	assert.Equal(t, now.Add(time.Hour).Unix(), fields.ExpiresAt)
}

func TestPublishingOptionsIgnoresUnknownKeys(t *testing.T) {
	codec, _ := fixedCodec()

	with := codec.PublishingOptions(map[string]interface{}{"frobnicate": 42, "ttl": time.Hour})
	without := codec.PublishingOptions(map[string]interface{}{"ttl": time.Hour})

	assert.Equal(t, without.Headers[envelope.HeaderExpiresAt], with.Headers[envelope.HeaderExpiresAt])
	assert.Equal(t, without.Headers[envelope.HeaderFlags], with.Headers[envelope.HeaderFlags])
	assert.Equal(t, without.Key, with.Key)
	assert.Equal(t, without.Mandatory, with.Mandatory)
}

func TestPublishingOptionsFreshIDs(t *testing.T) {
	codec, _ := fixedCodec()

	a := codec.PublishingOptions(map[string]interface{}{"redundant": true})
	b := codec.PublishingOptions(map[string]interface{}{"redundant": true})

	assert.NotEqual(t, a.MessageID, b.MessageID)
}

func TestPublishingOptionsTTLSeconds(t *testing.T) {
	codec, now := fixedCodec()

	props := codec.PublishingOptions(map[string]interface{}{"ttl": 60})

	assert.Equal(t,
		strconv.FormatInt(now.Add(time.Minute).Unix(), 10),
		props.Headers[envelope.HeaderExpiresAt])
}

func TestDecodeMalformedHeaders(t *testing.T) {
	codec, _ := fixedCodec()

	cases := map[string]map[string]string{
		"missing headers": {},
		"bad version": {
			envelope.HeaderFormatVersion: "one",
			envelope.HeaderFlags:         "0",
			envelope.HeaderExpiresAt:     "1700000000",
		},
		"bad flags": {
			envelope.HeaderFormatVersion: "1",
			envelope.HeaderFlags:         "redundant",
			envelope.HeaderExpiresAt:     "1700000000",
		},
		"bad expiry": {
			envelope.HeaderFormatVersion: "1",
			envelope.HeaderFlags:         "1",
			envelope.HeaderExpiresAt:     "tomorrow",
		},
	}

	for name, headers := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode("msg-1", headers)
			assert.Error(t, err)
		})
	}
}

func TestFlags(t *testing.T) {
	assert.False(t, envelope.Flags(0).Redundant())
	assert.True(t, envelope.FlagRedundant.Redundant())
	assert.True(t, envelope.Flags(3).Redundant())
}
