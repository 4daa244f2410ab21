package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketstream/internal/market"
	"marketstream/pkg/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(store Store, up Fetcher) *Service {
	return NewService(NewCache(store, DefaultTTL, zap.NewNop()), up, zap.NewNop())
}

// go test -v --run TestHistoryCachesWithinTTL
func TestHistoryCachesWithinTTL(t *testing.T) {
	now := time.Unix(1717000000, 0)
	store := memory.NewStore().WithClock(func() time.Time { return now })
	up := &fakeUpstream{}
	svc := newTestService(store, up)
	ctx := context.Background()
	q := Query{Symbol: "BTCUSDT", Interval: "1m", Limit: 1000}

	first, err := svc.History(ctx, q)
	require.NoError(t, err)
	assert.Len(t, first, 1000)
	for _, bar := range first {
		assert.True(t, bar.Closed)
	}

	now = now.Add(30 * time.Second)
	second, err := svc.History(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), up.calls.Load())

	now = now.Add(31 * time.Second)
	_, err = svc.History(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestHistoryNormalizesSymbol(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(memory.NewStore(), up)
	ctx := context.Background()

	_, err := svc.History(ctx, Query{Symbol: "btcusdt", Interval: "1m", Limit: 10})
	require.NoError(t, err)
	_, err = svc.History(ctx, Query{Symbol: " BTCUSDT ", Interval: "1m", Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, int32(1), up.calls.Load())
}

func TestHistoryDistinctWindowsAreDistinct(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(memory.NewStore(), up)
	ctx := context.Background()

	_, err := svc.History(ctx, Query{Symbol: "BTCUSDT", Interval: "1m", Limit: 10})
	require.NoError(t, err)
	_, err = svc.History(ctx, Query{Symbol: "BTCUSDT", Interval: "1m", Limit: 10, StartTime: ptr(0)})
	require.NoError(t, err)

	assert.Equal(t, int32(2), up.calls.Load())
}

func TestHistoryServesThroughBrokenCache(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(brokenStore{}, up)

	bars, err := svc.History(context.Background(), Query{Symbol: "BTCUSDT", Interval: "1m", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, bars, 5)

	_, err = svc.History(context.Background(), Query{Symbol: "BTCUSDT", Interval: "1m", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestHistoryUpstreamError(t *testing.T) {
	boom := errors.New("418 teapot")
	svc := newTestService(memory.NewStore(), &fakeUpstream{err: boom})

	_, err := svc.History(context.Background(), Query{Symbol: "BTCUSDT", Interval: "1m", Limit: 5})
	assert.ErrorIs(t, err, boom)
}

func TestHistoryEmptyResultNotCached(t *testing.T) {
	store := memory.NewStore()
	up := &fakeUpstream{empty: true}
	svc := newTestService(store, up)
	q := Query{Symbol: "NEWUSDT", Interval: "1m", Limit: 5}

	bars, err := svc.History(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.Equal(t, 0, store.Len())

	_, err = svc.History(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestHistoryRejectsEmptyKey(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(memory.NewStore(), up)

	_, err := svc.History(context.Background(), Query{Symbol: "", Interval: "1m", Limit: 5})
	assert.ErrorIs(t, err, market.ErrInvalidChannel)
	assert.Equal(t, int32(0), up.calls.Load())
}

func TestHistoryCoalescesConcurrentMisses(t *testing.T) {
	up := &fakeUpstream{gate: make(chan struct{})}
	svc := newTestService(memory.NewStore(), up)
	q := Query{Symbol: "BTCUSDT", Interval: "1h", Limit: 100}

	const callers = 20
	var wg sync.WaitGroup
	results := make([][]market.Bar, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bars, err := svc.History(context.Background(), q)
			assert.NoError(t, err)
			results[i] = bars
		}(i)
	}

	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(up.gate)
	wg.Wait()

	assert.Equal(t, int32(1), up.calls.Load())
	for _, bars := range results {
		assert.Len(t, bars, 100)
	}
}

// go test -v --run TestHistoryCoalescedResultsAreIndependent
func TestHistoryCoalescedResultsAreIndependent(t *testing.T) {
	up := &fakeUpstream{gate: make(chan struct{})}
	svc := newTestService(memory.NewStore(), up)
	q := Query{Symbol: "BTCUSDT", Interval: "1m", Limit: 5}

	const callers = 4
	var wg sync.WaitGroup
	results := make([][]market.Bar, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bars, err := svc.History(context.Background(), q)
			assert.NoError(t, err)
			results[i] = bars
		}(i)
	}

	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(up.gate)
	wg.Wait()
	require.Equal(t, int32(1), up.calls.Load())

	results[0][0].Close = -1
	results[0][1].Symbol = "MUTATED"
	for _, bars := range results[1:] {
		require.Len(t, bars, 5)
		assert.Equal(t, 0.0, bars[0].Close)
		assert.Equal(t, "BTCUSDT", bars[1].Symbol)
	}

	// The cached copy is untouched as well.
	cached, err := svc.History(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cached[0].Close)
	assert.Equal(t, "BTCUSDT", cached[1].Symbol)
}

func TestHistoryCallerCancelDoesNotAbortFetch(t *testing.T) {
	store := memory.NewStore()
	up := &fakeUpstream{gate: make(chan struct{})}
	svc := newTestService(store, up)
	q := Query{Symbol: "BTCUSDT", Interval: "1m", Limit: 3}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.History(ctx, q)
		errc <- err
	}()

	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(up.gate)
	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
}
