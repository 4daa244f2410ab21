package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchangeInfoBody = `{
	"timezone": "UTC",
	"serverTime": 1717000000000,
	"rateLimits": [],
	"exchangeFilters": [],
	"symbols": [
		{"symbol": "BTCUSDT", "status": "TRADING", "baseAsset": "BTC", "quoteAsset": "USDT"},
		{"symbol": "ETHBTC", "status": "TRADING", "baseAsset": "ETH", "quoteAsset": "BTC"},
		{"symbol": "LUNAUSDT", "status": "BREAK", "baseAsset": "LUNA", "quoteAsset": "USDT"}
	]
}`

// go test -v --run TestTradingSymbols
func TestTradingSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, exchangeInfoBody)
	}))
	defer srv.Close()

	source := NewSymbolSource(NewRESTClient(srv.URL, 5*time.Second))

	got, err := source.TradingSymbols(context.Background(), []string{"usdt"})
	require.NoError(t, err)
	assert.Equal(t, []SymbolInfo{
		{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "TRADING"},
	}, got)

	all, err := source.TradingSymbols(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTradingSymbolsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-1000,"msg":"unknown"}`)
	}))
	defer srv.Close()

	source := NewSymbolSource(NewRESTClient(srv.URL, 5*time.Second))

	_, err := source.TradingSymbols(context.Background(), nil)
	assert.Error(t, err)
}
