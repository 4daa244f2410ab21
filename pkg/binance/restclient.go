package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketstream/internal/market"
)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultRESTBaseURL
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

// FetchKlines requests historical klines for symbol/interval.
// limit is clamped to [1, MaxKlineLimit]; startTime and endTime are optional
// epoch-millisecond bounds. It makes exactly one request and never retries.
func (c *RESTClient) FetchKlines(ctx context.Context, symbol, interval string, limit int,
	startTime, endTime *int64) ([]market.Bar, error) {
	key := market.NewChannelKey(symbol, interval)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", key.Symbol)
	q.Set("interval", key.Interval)
	q.Set("limit", strconv.Itoa(ClampLimit(limit)))
	if startTime != nil {
		q.Set("startTime", strconv.FormatInt(*startTime, 10))
	}
	if endTime != nil {
		q.Set("endTime", strconv.FormatInt(*endTime, 10))
	}
	endpoint := c.baseURL + klinesPath + "?" + q.Encode()

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("%w: status %d: code %d: %s", ErrUpstream, resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, body)
	}

	var rows []klineRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return ParseKlineRows(key, rows), nil
}
