package binance

import (
	"encoding/json"
	"testing"

	"marketstream/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFrame = `{"e":"kline","E":1717000000123,"s":"BTCUSDT","k":{"t":1717000000000,"T":1717000059999,"s":"BTCUSDT","i":"1m","o":"67000.10","c":"67010.50","h":"67020.00","l":"66990.00","v":"12.345","n":100,"x":false}}`

// go test -v --run TestParseKlineFrame
func TestParseKlineFrame(t *testing.T) {
	key := market.NewChannelKey("btcusdt", "1m")

	bar, err := ParseKlineFrame(key, []byte(sampleFrame))
	require.NoError(t, err)

	assert.Equal(t, market.Bar{
		Symbol:   "BTCUSDT",
		Interval: "1m",
		OpenTime: 1717000000000,
		Open:     67000.10,
		High:     67020.00,
		Low:      66990.00,
		Close:    67010.50,
		Volume:   12.345,
		Closed:   false,
	}, bar)
}

func TestParseKlineFrameRejectsMalformed(t *testing.T) {
	key := market.NewChannelKey("BTCUSDT", "1m")

	_, err := ParseKlineFrame(key, []byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseKlineFrame(key, []byte(`{"result":null,"id":1}`))
	assert.ErrorIs(t, err, ErrNotKline)

	_, err = ParseKlineFrame(key, []byte(`{"e":"kline","k":{"t":1,"o":"abc","h":"1","l":"1","c":"1","v":"1"}}`))
	assert.Error(t, err)

	for _, v := range []string{"NaN", "Inf", "+Inf", "-Inf", "1e999"} {
		frame := `{"e":"kline","k":{"t":1,"o":"` + v + `","h":"1","l":"1","c":"1","v":"1"}}`
		_, err = ParseKlineFrame(key, []byte(frame))
		assert.Error(t, err, v)
	}
}

func TestParseKlineRows(t *testing.T) {
	body := `[
		[1717000000000,"1.0","2.0","0.5","1.5","100.0",1717000059999,"150.0",10,"50.0","75.0","0"],
		[1717000060000,"1.5","2.5","1.0","2.0","200.0",1717000119999,"400.0",20,"90.0","180.0","0"],
		[1717000120000,"bad","2.5","1.0","2.0","200.0"],
		[1717000180000,"1.0"],
		[1717000240000,"NaN","2.5","1.0","2.0","200.0"],
		[1717000300000,"1.0","+Inf","1.0","2.0","200.0"],
		[1717000360000,"1.0","2.5","1.0","2.0","-Inf"]
	]`
	var rows []klineRow
	require.NoError(t, json.Unmarshal([]byte(body), &rows))

	bars := ParseKlineRows(market.NewChannelKey("ethusdt", "1m"), rows)

	require.Len(t, bars, 2)
	assert.Equal(t, "ETHUSDT", bars[0].Symbol)
	assert.Equal(t, int64(1717000060000), bars[1].OpenTime)
	assert.Equal(t, 2.5, bars[1].High)
	assert.Equal(t, 200.0, bars[1].Volume)
	for _, b := range bars {
		assert.True(t, b.Closed, "historical bars must be closed")
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(-5))
	assert.Equal(t, 500, ClampLimit(500))
	assert.Equal(t, MaxKlineLimit, ClampLimit(1500))
}
