package history

import (
	"context"
	"fmt"
	"slices"

	"marketstream/internal/market"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the upstream source of truth for historical bars.
type Fetcher interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int, startTime, endTime *int64) ([]market.Bar, error)
}

// Service answers history queries cache-aside: cache first, upstream on a
// miss. Concurrent misses for the same fingerprint share one upstream call.
type Service struct {
	cache    *Cache
	upstream Fetcher
	group    singleflight.Group
	logger   *zap.Logger
}

func NewService(cache *Cache, upstream Fetcher, logger *zap.Logger) *Service {
	return &Service{cache: cache, upstream: upstream, logger: logger}
}

// History returns bars for q. Upstream errors are returned as is; cache
// errors never are.
func (s *Service) History(ctx context.Context, q Query) ([]market.Bar, error) {
	key := market.NewChannelKey(q.Symbol, q.Interval)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	q.Symbol, q.Interval = key.Symbol, key.Interval

	if bars, ok := s.cache.Get(ctx, q); ok && len(bars) > 0 {
		return bars, nil
	}

	fp := q.Fingerprint()
	// The shared fetch must outlive any single caller's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(fp, func() (any, error) {
		bars, err := s.upstream.FetchKlines(fetchCtx, q.Symbol, q.Interval, q.Limit, q.StartTime, q.EndTime)
		if err != nil {
			return nil, err
		}
		if len(bars) > 0 {
			s.cache.Set(fetchCtx, q, bars)
		}
		return bars, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.logger.Warn("history fetch failed", zap.String("key", fp), zap.Error(res.Err))
			return nil, fmt.Errorf("fetch history %s: %w", key, res.Err)
		}
		bars := res.Val.([]market.Bar)
		if res.Shared {
			// Each coalesced caller gets its own copy.
			s.logger.Debug("history fetch coalesced", zap.String("key", fp))
			return slices.Clone(bars), nil
		}
		return bars, nil
	}
}
