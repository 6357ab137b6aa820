package fetcher

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"albionflip/internal/aodp"
	"albionflip/internal/health"
	"albionflip/internal/ratelimit"
	"albionflip/internal/respcache"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   [][]string
	handler func(items []string) aodp.FetchResult
}

func (c *fakeClient) FetchPrices(ctx context.Context, items, locations []string, qualities []int) aodp.FetchResult {
	c.mu.Lock()
	call := make([]string, len(items))
	copy(call, items)
	c.calls = append(c.calls, call)
	c.mu.Unlock()
	return c.handler(items)
}

func (c *fakeClient) PricesURL(items, locations []string, qualities []int) string {
	return aodp.BuildPricesURL("https://test.invalid", items, locations, qualities)
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func rec(item string) aodp.RawRecord {
	return aodp.RawRecord{ItemID: item, City: "Martlock", Quality: 1}
}

func okResult(items []string) aodp.FetchResult {
	records := make([]aodp.RawRecord, len(items))
	for i, item := range items {
		records[i] = rec(item)
	}
	return aodp.FetchResult{Status: aodp.StatusOK, Records: records, Body: []byte("[]")}
}

func fastLimiter() *ratelimit.Limiter { return ratelimit.New(10000, 100) }

func fastOpts() Options {
	return Options{
		BackoffBase:    time.Millisecond,
		TailRetryDelay: time.Millisecond,
	}
}

func itemIDs(records []aodp.RawRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ItemID
	}
	return out
}

func TestFetch_AllChunksSucceed(t *testing.T) {
	t.Parallel()

	client := &fakeClient{handler: okResult}
	opts := fastOpts()
	opts.MaxItemsPerChunk = 2
	f := New(client, fastLimiter(), nil, nil, opts)

	var mu sync.Mutex
	var percents []float64
	progress := func(percent float64, message string) {
		mu.Lock()
		percents = append(percents, percent)
		mu.Unlock()
	}

	res, err := f.Fetch(t.Context(), []string{"A", "B", "C", "D", "E"}, nil, nil, progress)
	require.NoError(t, err)
	require.Zero(t, res.FailedChunks)
	require.Zero(t, res.DroppedItems)
	require.ElementsMatch(t, []string{"A", "B", "C", "D", "E"}, itemIDs(res.Records))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, percents, 3) // 5 items in chunks of 2
	max := 0.0
	for _, p := range percents {
		if p > max {
			max = p
		}
	}
	require.InEpsilon(t, 100.0, max, 0.0001)
}

func TestFetch_TooLargeSplitsAndMerges(t *testing.T) {
	t.Parallel()

	// The full 4-item request is rejected as too large; each half succeeds.
	client := &fakeClient{}
	client.handler = func(items []string) aodp.FetchResult {
		if len(items) > 2 {
			return aodp.FetchResult{Status: aodp.StatusTooLarge}
		}
		return okResult(items)
	}
	f := New(client, fastLimiter(), nil, nil, fastOpts())

	res, err := f.Fetch(t.Context(), []string{"A", "B", "C", "D"}, nil, nil, nil)
	require.NoError(t, err)
	require.Zero(t, res.FailedChunks)
	require.Zero(t, res.DroppedItems)

	// Each item exactly once; the halves did not overlap.
	require.ElementsMatch(t, []string{"A", "B", "C", "D"}, itemIDs(res.Records))
	require.Equal(t, 3, client.callCount())
}

func TestFetch_UnservableSingleItemDropped(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	client.handler = func(items []string) aodp.FetchResult {
		for _, item := range items {
			if item == "CURSED" {
				return aodp.FetchResult{Status: aodp.StatusTooLarge}
			}
		}
		return okResult(items)
	}
	f := New(client, fastLimiter(), nil, nil, fastOpts())

	res, err := f.Fetch(t.Context(), []string{"A", "CURSED"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.DroppedItems)
	require.Zero(t, res.FailedChunks)
	require.ElementsMatch(t, []string{"A"}, itemIDs(res.Records))
}

func TestFetch_ThrottledChunkRecoversInTailPass(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := &fakeClient{}
	client.handler = func(items []string) aodp.FetchResult {
		if calls.Add(1) <= 2 {
			return aodp.FetchResult{Status: aodp.StatusThrottled}
		}
		return okResult(items)
	}
	opts := fastOpts()
	opts.RetryAttempts = 2
	f := New(client, fastLimiter(), nil, nil, opts)

	res, err := f.Fetch(t.Context(), []string{"A"}, nil, nil, nil)
	require.NoError(t, err)
	require.Zero(t, res.FailedChunks)
	require.ElementsMatch(t, []string{"A"}, itemIDs(res.Records))
	require.Equal(t, int32(3), calls.Load()) // two throttled in the pool, one clean in the tail
}

func TestFetch_ServerErrorsExhaustRetries(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	client.handler = func(items []string) aodp.FetchResult {
		return aodp.FetchResult{Status: aodp.StatusServerError}
	}
	opts := fastOpts()
	opts.RetryAttempts = 3
	f := New(client, fastLimiter(), nil, nil, opts)

	res, err := f.Fetch(t.Context(), []string{"A"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.FailedChunks)
	require.Empty(t, res.Records)
	require.Equal(t, 3, client.callCount())
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	client := &fakeClient{handler: okResult}
	cache := respcache.New(16, time.Minute)
	f := New(client, fastLimiter(), cache, nil, fastOpts())

	key := client.PricesURL([]string{"A"}, nil, nil)
	cache.Put(key, []byte(`[{"item_id":"A","city":"Martlock","quality":1}]`))

	res, err := f.Fetch(t.Context(), []string{"A"}, nil, nil, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A"}, itemIDs(res.Records))
	require.Zero(t, client.callCount())
}

func TestFetch_FeedsHealthMonitor(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	client.handler = func(items []string) aodp.FetchResult {
		return aodp.FetchResult{Status: aodp.StatusServerError}
	}
	monitor := health.New(3, nil)
	opts := fastOpts()
	opts.RetryAttempts = 4
	f := New(client, fastLimiter(), nil, monitor, opts)

	_, err := f.Fetch(t.Context(), []string{"A"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, health.StateOffline, monitor.State())

	// A throttled response still proves the upstream is alive.
	client.handler = func(items []string) aodp.FetchResult {
		return aodp.FetchResult{Status: aodp.StatusThrottled}
	}
	_, err = f.Fetch(t.Context(), []string{"A"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, health.StateOnline, monitor.State())
}

func TestFetch_CancellationReturnsPartialResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{}
	client.handler = func(items []string) aodp.FetchResult {
		cancel()
		return okResult(items)
	}
	opts := fastOpts()
	opts.Concurrency = 1
	opts.MaxItemsPerChunk = 1
	f := New(client, fastLimiter(), nil, nil, opts)

	res, err := f.Fetch(ctx, []string{"A", "B", "C"}, nil, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, len(res.Records), 3)
}

func TestFetch_ChunkOutcomesReported(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	client.handler = func(items []string) aodp.FetchResult {
		if items[0] == "CURSED" {
			return aodp.FetchResult{Status: aodp.StatusTooLarge}
		}
		return okResult(items)
	}
	cache := respcache.New(16, time.Minute)
	cache.Put(client.PricesURL([]string{"C"}, nil, nil), []byte(`[{"item_id":"C","city":"Martlock","quality":1}]`))

	var mu sync.Mutex
	var outcomes []string
	opts := fastOpts()
	opts.MaxItemsPerChunk = 1
	opts.OnChunkOutcome = func(outcome string) {
		mu.Lock()
		outcomes = append(outcomes, outcome)
		mu.Unlock()
	}
	f := New(client, fastLimiter(), cache, nil, opts)

	res, err := f.Fetch(t.Context(), []string{"A", "CURSED", "C"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.DroppedItems)

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"fetched", "dropped", "cached"}, outcomes)
}

func TestFetch_ProgressCallbacksDoNotSerializeWorkers(t *testing.T) {
	t.Parallel()

	client := &fakeClient{handler: okResult}
	opts := fastOpts()
	opts.MaxItemsPerChunk = 1
	opts.Concurrency = 3
	f := New(client, fastLimiter(), nil, nil, opts)

	// The first report parks until a later report proves another worker got
	// through. A callback invoked under a run-wide lock would never see that
	// later report and the run would hang.
	release := make(chan struct{})
	var once sync.Once
	var calls atomic.Int32
	progress := func(percent float64, message string) {
		if calls.Add(1) == 1 {
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
			return
		}
		once.Do(func() { close(release) })
	}

	done := make(chan struct{})
	var fetchErr error
	go func() {
		defer close(done)
		_, fetchErr = f.Fetch(context.Background(), []string{"A", "B", "C"}, nil, nil, progress)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("a blocked progress callback stalled the other workers")
	}
	require.NoError(t, fetchErr)
}

func TestPlanChunks_ItemCountBound(t *testing.T) {
	t.Parallel()

	items := []string{"A", "B", "C", "D", "E"}
	chunks := planChunks(items, 2, 10000, func(items []string) int { return 0 })
	require.Equal(t, [][]string{{"A", "B"}, {"C", "D"}, {"E"}}, chunks)
}

func TestPlanChunks_URLLengthBound(t *testing.T) {
	t.Parallel()

	urlLen := func(items []string) int { return len(strings.Join(items, ",")) }
	items := []string{"AAAA", "BBBB", "CCCC"}
	// Two items joined are 9 chars, over the 8 limit, so one item per chunk.
	chunks := planChunks(items, 40, 8, urlLen)
	require.Equal(t, [][]string{{"AAAA"}, {"BBBB"}, {"CCCC"}}, chunks)
}

func TestPlanChunks_OversizedSingleItemStillPlanned(t *testing.T) {
	t.Parallel()

	urlLen := func(items []string) int { return len(strings.Join(items, ",")) }
	chunks := planChunks([]string{"FAR_TOO_LONG_FOR_ANY_CHUNK"}, 40, 8, urlLen)
	require.Equal(t, [][]string{{"FAR_TOO_LONG_FOR_ANY_CHUNK"}}, chunks)
}

func TestPlanChunks_Empty(t *testing.T) {
	t.Parallel()

	require.Nil(t, planChunks(nil, 40, 1800, func(items []string) int { return 0 }))
}

func TestAdaptiveTarget(t *testing.T) {
	t.Parallel()

	f := New(&fakeClient{handler: okResult}, fastLimiter(), nil, nil, Options{Concurrency: 3, CleanRunLength: 2})
	r := &run{f: f}
	r.target.Store(3)

	r.noteThrottle()
	r.noteThrottle()
	require.Equal(t, int64(1), r.target.Load())
	r.noteThrottle() // floor
	require.Equal(t, int64(1), r.target.Load())

	r.noteClean()
	require.Equal(t, int64(1), r.target.Load()) // run not complete yet
	r.noteClean()
	require.Equal(t, int64(2), r.target.Load())

	r.noteClean()
	r.noteClean()
	require.Equal(t, int64(3), r.target.Load())
	r.noteClean()
	r.noteClean()
	require.Equal(t, int64(3), r.target.Load()) // ceiling
}
