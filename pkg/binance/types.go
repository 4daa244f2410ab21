package binance

import (
	"encoding/json"
	"errors"
)

var (
	// ErrUpstream wraps every non-200 response from the REST API.
	ErrUpstream = errors.New("binance upstream error")
	// ErrNotKline is returned for frames that are valid JSON but not kline events.
	ErrNotKline = errors.New("not a kline event")
)

// APIError is the error envelope returned by the REST API (e.g. {"code":-1121,"msg":"Invalid symbol."}).
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// KlineEvent is the envelope of a raw kline stream frame.
type KlineEvent struct {
	EventType string      `json:"e"` // "kline"
	EventTime int64       `json:"E"` // Event time (ms)
	Symbol    string      `json:"s"` // e.g. "BTCUSDT"
	Kline     *KlineFrame `json:"k"`
}

// KlineFrame is the kline payload of a stream event. Prices arrive as decimal strings.
type KlineFrame struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Trades    int64  `json:"n"`
	Closed    bool   `json:"x"` // Whether this kline is closed
}

// klineRow is one row of /api/v3/klines:
//
//	[0] open time (int64 ms)  [1] open  [2] high  [3] low  [4] close  [5] volume
//	[6] close time            [7..11] quote volume, trades, taker volumes, ignore
type klineRow []json.RawMessage
