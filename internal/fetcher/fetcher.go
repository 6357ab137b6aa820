// Package fetcher orchestrates bulk price downloads: chunk planning, a
// worker pool over an explicit work stack, adaptive concurrency, retry with
// backoff, and binary splitting of requests the upstream rejects as too
// large. Partial failure is an expected outcome, not an abort.
package fetcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"albionflip/internal/aodp"
	"albionflip/internal/health"
	"albionflip/internal/ratelimit"
	"albionflip/internal/respcache"
)

// Client is the slice of the AODP client the orchestrator needs.
type Client interface {
	FetchPrices(ctx context.Context, items, locations []string, qualities []int) aodp.FetchResult
	PricesURL(items, locations []string, qualities []int) string
}

// Options tune one orchestrator. Zero values take the defaults below.
type Options struct {
	// MaxItemsPerChunk caps items per request.
	MaxItemsPerChunk int
	// MaxURLLen caps the estimated request URL length.
	MaxURLLen int
	// Concurrency is the worker ceiling; the live target adapts below it.
	Concurrency int
	// RetryAttempts bounds tries per chunk for throttled and 5xx responses.
	RetryAttempts int
	// BackoffBase is the first retry delay, doubled per attempt.
	BackoffBase time.Duration
	// TailRetryDelay spaces out the sequential end-of-run retry pass.
	TailRetryDelay time.Duration
	// CleanRunLength is how many consecutive clean responses earn one more
	// worker.
	CleanRunLength int
	// OnChunkOutcome, when set, receives the outcome of every chunk
	// (cached, fetched, dropped, deferred, failed). A deferred chunk
	// reports again when the tail pass resolves it. May be called from
	// several workers at once.
	OnChunkOutcome func(outcome string)
}

const (
	defaultMaxItemsPerChunk = 40
	defaultMaxURLLen        = 1800
	defaultConcurrency      = 6
	defaultRetryAttempts    = 4
	defaultBackoffBase      = 500 * time.Millisecond
	defaultTailRetryDelay   = 500 * time.Millisecond
	defaultCleanRunLength   = 5
)

func (o Options) withDefaults() Options {
	if o.MaxItemsPerChunk <= 0 {
		o.MaxItemsPerChunk = defaultMaxItemsPerChunk
	}
	if o.MaxURLLen <= 0 {
		o.MaxURLLen = defaultMaxURLLen
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.TailRetryDelay <= 0 {
		o.TailRetryDelay = defaultTailRetryDelay
	}
	if o.CleanRunLength <= 0 {
		o.CleanRunLength = defaultCleanRunLength
	}
	return o
}

// Progress reports completion after each finished chunk. percent is 0-100.
// It may be invoked from several workers at once.
type Progress func(percent float64, message string)

// Result is what a fetch run produced. FailedChunks counts chunks that
// exhausted every retry including the tail pass; DroppedItems counts single
// items the upstream would not serve at any size.
type Result struct {
	Records      []aodp.RawRecord
	FailedChunks int
	DroppedItems int
}

// Fetcher runs fetch cycles. Safe for concurrent use; each Fetch call gets
// its own pool and work stack, sharing only the limiter, cache and monitor.
type Fetcher struct {
	client  Client
	limiter *ratelimit.Limiter
	cache   *respcache.Cache
	monitor *health.Monitor
	opts    Options
}

// New creates a Fetcher. cache and monitor may be nil.
func New(client Client, limiter *ratelimit.Limiter, cache *respcache.Cache, monitor *health.Monitor, opts Options) *Fetcher {
	return &Fetcher{
		client:  client,
		limiter: limiter,
		cache:   cache,
		monitor: monitor,
		opts:    opts.withDefaults(),
	}
}

// workQueue is a LIFO stack of chunks plus an in-flight count, so workers
// can tell "momentarily empty while a split is pending" from "drained".
type workQueue struct {
	mu      sync.Mutex
	stack   [][]string
	pending int
}

func (q *workQueue) push(chunk []string) {
	q.mu.Lock()
	q.stack = append(q.stack, chunk)
	q.mu.Unlock()
}

func (q *workQueue) pop() ([]string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.stack) == 0 {
		return nil, false
	}
	chunk := q.stack[len(q.stack)-1]
	q.stack = q.stack[:len(q.stack)-1]
	q.pending++
	return chunk, true
}

func (q *workQueue) done() {
	q.mu.Lock()
	q.pending--
	q.mu.Unlock()
}

func (q *workQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.stack) == 0 && q.pending == 0
}

// run carries the mutable state of one Fetch call.
type run struct {
	f     *Fetcher
	queue workQueue

	// target is the live concurrency; workers whose index is at or above
	// it park until it rises again.
	target   atomic.Int64
	cleanRun atomic.Int64

	total     atomic.Int64
	completed atomic.Int64

	mu        sync.Mutex
	records   []aodp.RawRecord
	failed    int
	dropped   int
	throttled [][]string // chunks deferred to the tail pass
	progress  Progress

	locations []string
	qualities []int
}

// Fetch downloads current prices for items across locations and qualities.
// It returns every record it managed to get along with failure counts; the
// only error it returns is the context's. progress may be nil.
func (f *Fetcher) Fetch(ctx context.Context, items, locations []string, qualities []int, progress Progress) (Result, error) {
	chunks := planChunks(items, f.opts.MaxItemsPerChunk, f.opts.MaxURLLen, func(candidate []string) int {
		return len(f.client.PricesURL(candidate, locations, qualities))
	})
	if len(chunks) == 0 {
		return Result{}, nil
	}

	r := &run{f: f, progress: progress, locations: locations, qualities: qualities}
	r.target.Store(int64(f.opts.Concurrency))
	r.total.Store(int64(len(chunks)))
	for _, chunk := range chunks {
		r.queue.push(chunk)
	}

	var wg sync.WaitGroup
	for i := 0; i < f.opts.Concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r.worker(ctx, idx)
		}(i)
	}
	wg.Wait()

	r.tailPass(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		Records:      r.records,
		FailedChunks: r.failed,
		DroppedItems: r.dropped,
	}, ctx.Err()
}

func (r *run) worker(ctx context.Context, idx int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if int64(idx) >= r.target.Load() {
			// Parked by the adaptive target. Poll until it rises or the
			// run ends.
			if r.queue.drained() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(25 * time.Millisecond):
			}
			continue
		}
		chunk, ok := r.queue.pop()
		if !ok {
			if r.queue.drained() {
				return
			}
			// A sibling may still split its chunk back onto the stack.
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		r.processChunk(ctx, chunk)
		r.queue.done()
	}
}

// processChunk applies the per-chunk policy: cache, limiter, request, then
// split, back off, defer or fail depending on the outcome.
func (r *run) processChunk(ctx context.Context, chunk []string) {
	key := r.f.client.PricesURL(chunk, r.locations, r.qualities)
	if r.f.cache != nil {
		if body, ok := r.f.cache.Get(key); ok {
			records, _, err := aodp.ParseRecords(body)
			if err == nil {
				r.finishChunk(chunk, records, "cached")
				return
			}
		}
	}

	for attempt := 0; ; attempt++ {
		if !r.f.limiter.Acquire(ctx, 1) {
			return
		}
		res := r.f.client.FetchPrices(ctx, chunk, r.locations, r.qualities)
		r.reportHealth(res.Status)

		switch res.Status {
		case aodp.StatusOK:
			if r.f.cache != nil {
				r.f.cache.Put(key, res.Body)
			}
			r.noteClean()
			r.finishChunk(chunk, res.Records, "fetched")
			return

		case aodp.StatusTooLarge:
			if len(chunk) == 1 {
				log.Printf("dropping unservable item %s: %v", chunk[0], res.Err)
				r.mu.Lock()
				r.dropped++
				r.mu.Unlock()
				r.finishChunk(chunk, nil, "dropped")
				return
			}
			left, right := splitChunk(chunk)
			// The two halves replace this chunk as units of progress.
			r.total.Add(1)
			r.queue.push(left)
			r.queue.push(right)
			return

		case aodp.StatusThrottled:
			r.noteThrottle()
			if attempt+1 >= r.f.opts.RetryAttempts {
				// Out of inline retries; the sequential tail pass gets
				// one more shot after the pool drains.
				r.mu.Lock()
				r.throttled = append(r.throttled, chunk)
				r.mu.Unlock()
				r.completedChunk(chunk, "deferred")
				return
			}
			if !r.backoff(ctx, attempt) {
				return
			}

		case aodp.StatusServerError:
			if attempt+1 >= r.f.opts.RetryAttempts {
				log.Printf("chunk of %d items failed after %d attempts: %v", len(chunk), attempt+1, res.Err)
				r.failChunk(chunk)
				return
			}
			if !r.backoff(ctx, attempt) {
				return
			}

		default:
			if ctx.Err() != nil {
				return
			}
			log.Printf("chunk of %d items failed: %v", len(chunk), res.Err)
			r.failChunk(chunk)
			return
		}
	}
}

// tailPass retries throttled-out chunks one at a time with a fixed delay,
// once the pool has stopped hammering the upstream.
func (r *run) tailPass(ctx context.Context) {
	r.mu.Lock()
	deferred := r.throttled
	r.throttled = nil
	r.mu.Unlock()

	for _, chunk := range deferred {
		if ctx.Err() != nil {
			r.failChunkSilently()
			continue
		}
		select {
		case <-ctx.Done():
			r.failChunkSilently()
			continue
		case <-time.After(r.f.opts.TailRetryDelay):
		}
		if !r.f.limiter.Acquire(ctx, 1) {
			r.failChunkSilently()
			continue
		}
		res := r.f.client.FetchPrices(ctx, chunk, r.locations, r.qualities)
		r.reportHealth(res.Status)
		if res.Status == aodp.StatusOK {
			if r.f.cache != nil {
				r.f.cache.Put(r.f.client.PricesURL(chunk, r.locations, r.qualities), res.Body)
			}
			r.mu.Lock()
			r.records = append(r.records, res.Records...)
			r.mu.Unlock()
			r.noteOutcome("fetched")
			continue
		}
		log.Printf("tail retry for %d items failed: %v", len(chunk), res.Err)
		r.failChunkSilently()
	}
}

func (r *run) backoff(ctx context.Context, attempt int) bool {
	delay := r.f.opts.BackoffBase * (1 << attempt)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (r *run) reportHealth(status aodp.Status) {
	if r.f.monitor == nil {
		return
	}
	switch status {
	case aodp.StatusOK, aodp.StatusTooLarge, aodp.StatusThrottled:
		// The upstream answered, so it is reachable, even when it said no.
		r.f.monitor.RecordSuccess()
	default:
		r.f.monitor.RecordFailure()
	}
}

// noteClean counts consecutive clean responses and raises the concurrency
// target one step per full clean run, up to the ceiling.
func (r *run) noteClean() {
	if r.cleanRun.Add(1) < int64(r.f.opts.CleanRunLength) {
		return
	}
	r.cleanRun.Store(0)
	for {
		cur := r.target.Load()
		if cur >= int64(r.f.opts.Concurrency) {
			return
		}
		if r.target.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

// noteThrottle drops the concurrency target one step, floor one, and resets
// the clean run.
func (r *run) noteThrottle() {
	r.cleanRun.Store(0)
	for {
		cur := r.target.Load()
		if cur <= 1 {
			return
		}
		if r.target.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func (r *run) finishChunk(chunk []string, records []aodp.RawRecord, verb string) {
	r.mu.Lock()
	r.records = append(r.records, records...)
	r.mu.Unlock()
	r.completedChunk(chunk, verb)
}

func (r *run) failChunk(chunk []string) {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
	r.completedChunk(chunk, "failed")
}

// failChunkSilently counts a tail-pass failure; tail chunks were already
// reported as deferred, so progress does not move again.
func (r *run) failChunkSilently() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
	r.noteOutcome("failed")
}

func (r *run) noteOutcome(outcome string) {
	if r.f.opts.OnChunkOutcome != nil {
		r.f.opts.OnChunkOutcome(outcome)
	}
}

// completedChunk advances the counters and reports. The callbacks run
// without any run lock held so a slow consumer never stalls the workers.
func (r *run) completedChunk(chunk []string, verb string) {
	completed := r.completed.Add(1)
	total := r.total.Load()
	r.noteOutcome(verb)
	if r.progress == nil {
		return
	}
	percent := float64(completed) / float64(total) * 100
	msg := fmt.Sprintf("%s %d items (%d/%d chunks)", verb, len(chunk), completed, total)
	r.progress(percent, msg)
}
