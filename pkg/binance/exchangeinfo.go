package binance

import (
	"context"
	"fmt"
	"strings"

	gobinance "github.com/adshao/go-binance/v2"
)

// SymbolInfo is the subset of exchangeInfo used by the symbol catalog.
type SymbolInfo struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Status     string
}

// SymbolSource lists tradable spot symbols through the go-binance SDK.
type SymbolSource struct {
	client *gobinance.Client
}

// NewSymbolSource reuses the REST client's base URL and HTTP client so
// timeouts and test servers apply to exchangeInfo as well.
func NewSymbolSource(rest *RESTClient) *SymbolSource {
	client := gobinance.NewClient("", "")
	client.BaseURL = rest.BaseURL()
	client.HTTPClient = rest.HTTPClient()
	return &SymbolSource{client: client}
}

// TradingSymbols returns symbols in TRADING status whose quote asset is in
// quoteAssets. An empty quoteAssets keeps every quote asset.
func (s *SymbolSource) TradingSymbols(ctx context.Context, quoteAssets []string) ([]SymbolInfo, error) {
	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	allowed := make(map[string]bool, len(quoteAssets))
	for _, q := range quoteAssets {
		allowed[strings.ToUpper(q)] = true
	}

	// Collect live symbols for the wanted quote assets
	var out []SymbolInfo
	for _, sym := range info.Symbols {
		if sym.Status != symbolStatusLive {
			continue
		}
		if len(allowed) > 0 && !allowed[sym.QuoteAsset] {
			continue
		}
		out = append(out, SymbolInfo{
			Symbol:     sym.Symbol,
			BaseAsset:  sym.BaseAsset,
			QuoteAsset: sym.QuoteAsset,
			Status:     sym.Status,
		})
	}
	return out, nil
}
