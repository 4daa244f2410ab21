package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"marketstream/internal/market"
)

// fakeUpstream returns bars built from the query and counts calls.
type fakeUpstream struct {
	calls atomic.Int32
	err   error
	empty bool
	gate  chan struct{}

	mu   sync.Mutex
	last []int
}

func (f *fakeUpstream) FetchKlines(ctx context.Context, symbol, interval string, limit int, startTime, endTime *int64) ([]market.Bar, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.last = append(f.last, limit)
	f.mu.Unlock()
	if f.empty {
		return []market.Bar{}, nil
	}

	n := limit
	if n > 1000 {
		n = 1000
	}
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: int64(i) * 60000,
			Close:    float64(i),
			Closed:   true,
		}
	}
	return bars, nil
}

// brokenStore fails every operation.
type brokenStore struct{}

var errBackendDown = errors.New("backend down")

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errBackendDown
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}

// rawStore returns fixed bytes for every key.
type rawStore struct{ raw []byte }

func (s rawStore) Get(context.Context, string) ([]byte, bool, error) { return s.raw, true, nil }

func (rawStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

func ptr(v int64) *int64 { return &v }
