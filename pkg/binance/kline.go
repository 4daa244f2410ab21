package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"marketstream/internal/market"
)

// ParseKlineRows converts /api/v3/klines rows to bars.
// It skips incomplete or unparseable rows and marks every bar closed,
// since historical klines are always final.
func ParseKlineRows(key market.ChannelKey, raw []klineRow) []market.Bar {
	out := make([]market.Bar, 0, len(raw))

	for _, row := range raw {
		if len(row) < 6 {
			continue // skip incomplete row
		}

		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}

		var prices [5]float64
		ok := true
		for i := range prices {
			v, err := parseDecimal(row[i+1])
			if err != nil {
				ok = false
				break
			}
			prices[i] = v
		}
		if !ok {
			continue
		}

		out = append(out, market.Bar{
			Symbol:   key.Symbol,
			Interval: key.Interval,
			OpenTime: openTime,
			Open:     prices[0],
			High:     prices[1],
			Low:      prices[2],
			Close:    prices[3],
			Volume:   prices[4],
			Closed:   true,
		})
	}
	return out
}

// ParseKlineFrame decodes one stream frame into a bar for key.
// The bar carries the key's symbol and interval rather than the frame's,
// so subscribers always see the normalized channel identity.
func ParseKlineFrame(key market.ChannelKey, msg []byte) (market.Bar, error) {
	var ev KlineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return market.Bar{}, fmt.Errorf("decode frame: %w", err)
	}
	if ev.EventType != klineEventType || ev.Kline == nil {
		return market.Bar{}, fmt.Errorf("%w: event type %q", ErrNotKline, ev.EventType)
	}

	k := ev.Kline
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var vals [5]float64
	for i, s := range fields {
		v, err := parseFinite(s)
		if err != nil {
			return market.Bar{}, fmt.Errorf("parse kline field %d: %w", i, err)
		}
		vals[i] = v
	}

	return market.Bar{
		Symbol:   key.Symbol,
		Interval: key.Interval,
		OpenTime: k.OpenTime,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Closed:   k.Closed,
	}, nil
}

var errNotFinite = errors.New("not a finite number")

// parseFinite parses a decimal string, rejecting NaN and infinities.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", errNotFinite, s)
	}
	return v, nil
}

// parseDecimal accepts either a quoted decimal string or a bare JSON number.
func parseDecimal(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFinite(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
