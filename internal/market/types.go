package market

import (
	"errors"
	"strings"
)

// ErrInvalidChannel is returned when a symbol or interval is missing.
var ErrInvalidChannel = errors.New("symbol and interval are required")

// Bar represents a single candlestick for one symbol and interval.
// Historical bars are always Closed; the live in-progress bar toggles
// to Closed once its period ends.
type Bar struct {
	Symbol   string  `json:"symbol"`   // Trading symbol, uppercase (e.g., "BTCUSDT")
	Interval string  `json:"interval"` // Interval token (e.g., "1m", "4h")
	OpenTime int64   `json:"openTime"` // Start of the bar (milliseconds since epoch)
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"` // Base asset volume
	Closed   bool    `json:"closed"` // Whether the bar is final
}

// ChannelKey identifies one upstream kline stream and its fan-out channel.
type ChannelKey struct {
	Symbol   string
	Interval string
}

// NewChannelKey normalizes symbol to uppercase and trims both parts.
func NewChannelKey(symbol, interval string) ChannelKey {
	return ChannelKey{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Interval: strings.TrimSpace(interval),
	}
}

// ParseChannelKey parses the "SYMBOL@interval" form produced by String.
func ParseChannelKey(s string) (ChannelKey, error) {
	symbol, interval, ok := strings.Cut(s, "@")
	if !ok {
		return ChannelKey{}, ErrInvalidChannel
	}
	key := NewChannelKey(symbol, interval)
	return key, key.Validate()
}

func (k ChannelKey) Validate() error {
	if k.Symbol == "" || k.Interval == "" {
		return ErrInvalidChannel
	}
	return nil
}

func (k ChannelKey) String() string {
	return k.Symbol + "@" + k.Interval
}

// StreamName returns the exchange stream name, e.g. "btcusdt@kline_1m".
func (k ChannelKey) StreamName() string {
	return strings.ToLower(k.Symbol) + "@kline_" + k.Interval
}
