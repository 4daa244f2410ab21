package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannelKeyNormalizes(t *testing.T) {
	key := NewChannelKey(" btcusdt ", " 1m")

	assert.Equal(t, "BTCUSDT", key.Symbol)
	assert.Equal(t, "1m", key.Interval)
	assert.Equal(t, "BTCUSDT@1m", key.String())
	assert.Equal(t, "btcusdt@kline_1m", key.StreamName())
	assert.Equal(t, key, NewChannelKey("BTCUSDT", "1m"))
}

func TestChannelKeyValidate(t *testing.T) {
	assert.NoError(t, NewChannelKey("ethusdt", "5m").Validate())
	assert.ErrorIs(t, NewChannelKey("", "5m").Validate(), ErrInvalidChannel)
	assert.ErrorIs(t, NewChannelKey("ETHUSDT", "  ").Validate(), ErrInvalidChannel)
}

func TestParseChannelKey(t *testing.T) {
	key, err := ParseChannelKey("solusdt@15m")
	require.NoError(t, err)
	assert.Equal(t, ChannelKey{Symbol: "SOLUSDT", Interval: "15m"}, key)

	_, err = ParseChannelKey("SOLUSDT")
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = ParseChannelKey("@1m")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}
