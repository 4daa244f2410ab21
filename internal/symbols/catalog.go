package symbols

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultPageSize = 12
	MaxPageSize     = 100

	SortByName = "name"
	SortByCode = "code"

	SortAsc  = "asc"
	SortDesc = "desc"
)

const logoURLFormat = "https://s3-symbol-logo.tradingview.com/crypto/XTVC%s.svg"

// Symbol is one tradable pair shown in the catalog.
type Symbol struct {
	Code  string   `json:"code"`
	Name  string   `json:"name"`
	Logos []string `json:"logos"`
}

// PageRequest selects one page of the catalog.
type PageRequest struct {
	Page          int    `form:"page"`
	Size          int    `form:"size"`
	SortBy        string `form:"sortBy"`
	SortDirection string `form:"sortDirection"`
}

// Normalize fills defaults and rejects out-of-range values.
func (r PageRequest) Normalize() (PageRequest, error) {
	if r.Page < 0 {
		return r, fmt.Errorf("page must be >= 0, got %d", r.Page)
	}
	if r.Size == 0 {
		r.Size = DefaultPageSize
	}
	if r.Size < 1 || r.Size > MaxPageSize {
		return r, fmt.Errorf("size must be in [1, %d], got %d", MaxPageSize, r.Size)
	}
	if r.Page > math.MaxInt/r.Size {
		return r, fmt.Errorf("page %d out of range", r.Page)
	}

	switch strings.ToLower(r.SortBy) {
	case "", SortByName:
		r.SortBy = SortByName
	case SortByCode:
		r.SortBy = SortByCode
	default:
		return r, fmt.Errorf("unsupported sortBy %q", r.SortBy)
	}

	if strings.EqualFold(r.SortDirection, SortDesc) {
		r.SortDirection = SortDesc
	} else {
		r.SortDirection = SortAsc
	}
	return r, nil
}

func (r PageRequest) Offset() int {
	return r.Page * r.Size
}

// Page is one slice of the catalog plus paging metadata.
type Page struct {
	Content       []Symbol `json:"content"`
	Page          int      `json:"page"`
	Size          int      `json:"size"`
	TotalElements int64    `json:"totalElements"`
	TotalPages    int      `json:"totalPages"`
	HasNext       bool     `json:"hasNext"`
	HasPrevious   bool     `json:"hasPrevious"`
}

func newPage(req PageRequest, content []Symbol, total int64) Page {
	pages := int((total + int64(req.Size) - 1) / int64(req.Size))
	if content == nil {
		content = []Symbol{}
	}
	return Page{
		Content:       content,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    pages,
		HasNext:       req.Page+1 < pages,
		HasPrevious:   req.Page > 0,
	}
}

// Repository persists the catalog.
type Repository interface {
	Count(ctx context.Context) (int64, error)
	// Insert adds symbols whose code is not yet present.
	Insert(ctx context.Context, symbols []Symbol) error
	// Upsert adds new symbols and refreshes name and logos of existing ones.
	Upsert(ctx context.Context, symbols []Symbol) error
	List(ctx context.Context, req PageRequest) ([]Symbol, int64, error)
}

// Listing is a symbol as reported by the exchange.
type Listing struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
}

// Exchange lists the symbols currently trading.
type Exchange interface {
	TradingSymbols(ctx context.Context, quoteAssets []string) ([]Listing, error)
}

type Catalog struct {
	repo        Repository
	exchange    Exchange
	quoteAssets []string
	logger      *zap.Logger
}

// NewCatalog builds a catalog. exchange may be nil, in which case Sync is a no-op.
func NewCatalog(repo Repository, exchange Exchange, quoteAssets []string, logger *zap.Logger) *Catalog {
	return &Catalog{
		repo:        repo,
		exchange:    exchange,
		quoteAssets: quoteAssets,
		logger:      logger.With(zap.String("component", "symbols")),
	}
}

func (c *Catalog) List(ctx context.Context, req PageRequest) (Page, error) {
	req, err := req.Normalize()
	if err != nil {
		return Page{}, err
	}

	content, total, err := c.repo.List(ctx, req)
	if err != nil {
		return Page{}, fmt.Errorf("list symbols: %w", err)
	}
	return newPage(req, content, total), nil
}

// Seed inserts the default catalog when the repository is empty.
func (c *Catalog) Seed(ctx context.Context) error {
	n, err := c.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("count symbols: %w", err)
	}
	if n > 0 {
		c.logger.Debug("catalog already seeded", zap.Int64("symbols", n))
		return nil
	}

	if err := c.repo.Insert(ctx, DefaultSymbols()); err != nil {
		return fmt.Errorf("seed symbols: %w", err)
	}
	c.logger.Info("seeded default symbols", zap.Int("symbols", len(DefaultSymbols())))
	return nil
}

// Sync upserts every trading symbol quoted in one of the configured assets.
func (c *Catalog) Sync(ctx context.Context) error {
	if c.exchange == nil {
		return nil
	}

	listings, err := c.exchange.TradingSymbols(ctx, c.quoteAssets)
	if err != nil {
		return fmt.Errorf("fetch trading symbols: %w", err)
	}
	if len(listings) == 0 {
		c.logger.Warn("exchange returned no trading symbols", zap.Strings("quote_assets", c.quoteAssets))
		return nil
	}

	syms := make([]Symbol, 0, len(listings))
	for _, l := range listings {
		syms = append(syms, FromListing(l))
	}
	if err := c.repo.Upsert(ctx, syms); err != nil {
		return fmt.Errorf("upsert symbols: %w", err)
	}

	c.logger.Info("synced symbols", zap.Int("symbols", len(syms)))
	return nil
}

// FromListing derives display name and logos from an exchange listing.
func FromListing(l Listing) Symbol {
	return Symbol{
		Code:  strings.ToUpper(l.Symbol),
		Name:  fmt.Sprintf("%s / %s", l.BaseAsset, l.QuoteAsset),
		Logos: []string{logoURL(l.QuoteAsset), logoURL(l.BaseAsset)},
	}
}

func logoURL(asset string) string {
	return fmt.Sprintf(logoURLFormat, strings.ToUpper(asset))
}

// DefaultSymbols is the catalog a fresh install starts with.
func DefaultSymbols() []Symbol {
	pair := func(code, name, quote, base string) Symbol {
		return Symbol{Code: code, Name: name, Logos: []string{logoURL(quote), logoURL(base)}}
	}
	single := func(code, name, asset string) Symbol {
		return Symbol{Code: code, Name: name, Logos: []string{logoURL(asset)}}
	}

	return []Symbol{
		pair("BTCUSDT", "Bitcoin / TetherUS", "USDT", "BTC"),
		pair("ETHUSDT", "Ethereum / TetherUS", "USDT", "ETH"),
		pair("SOLUSDT", "SOL / TetherUS", "USDT", "SOL"),
		pair("XRPUSDT", "XRP / TetherUS", "USDT", "XRP"),
		single("BTCUSD", "Bitcoin / US Dollar", "BTC"),
		single("ETHUSD", "Ethereum / US Dollar", "ETH"),
		pair("DOGEUSDT", "Dogecoin / TetherUS", "USDT", "DOGE"),
		pair("ADAUSDT", "Cardano / TetherUS", "USDT", "ADA"),
		pair("LINKUSDT", "ChainLink / TetherUS", "USDT", "LINK"),
		pair("ETHBTC", "Ethereum / Bitcoin", "BTC", "ETH"),
	}
}
