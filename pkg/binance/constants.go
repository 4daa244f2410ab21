package binance

const (
	// DefaultRESTBaseURL is the spot REST API root.
	DefaultRESTBaseURL = "https://api.binance.com"
	// DefaultWSBaseURL is the raw-stream WebSocket root; stream names are appended as "/<name>".
	DefaultWSBaseURL = "wss://stream.binance.com:9443/ws"

	klinesPath       = "/api/v3/klines"
	klineEventType   = "kline"
	symbolStatusLive = "TRADING"

	// MaxKlineLimit is the most rows /api/v3/klines returns per request.
	MaxKlineLimit = 1000
)

// ClampLimit bounds a requested row count to [1, MaxKlineLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxKlineLimit {
		return MaxKlineLimit
	}
	return limit
}
