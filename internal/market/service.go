// Package market is the consumer entry point: it wires the AODP client,
// limiter, cache, health monitor and catalogue into two operations, price
// refresh and flip finding.
package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"albionflip/internal/aodp"
	"albionflip/internal/catalog"
	"albionflip/internal/config"
	"albionflip/internal/fetcher"
	"albionflip/internal/flips"
	"albionflip/internal/health"
	"albionflip/internal/httpx"
	"albionflip/internal/metrics"
	"albionflip/internal/normalize"
	"albionflip/internal/ratelimit"
	"albionflip/internal/respcache"
	"albionflip/internal/store"
)

// Service runs the pipeline. Construct with NewService.
type Service struct {
	cfg     *config.Config
	client  *aodp.Client
	limiter *ratelimit.Limiter
	cache   *respcache.Cache
	monitor *health.Monitor
	catalog *catalog.Catalog
	store   *store.Store
	metrics *metrics.Collector
}

// Option is a configuration option for the Service.
type Option func(*Service)

// WithClient replaces the AODP client, mainly for tests.
func WithClient(client *aodp.Client) Option {
	return func(s *Service) {
		s.client = client
	}
}

// WithStore enables scan persistence.
func WithStore(st *store.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithCollector enables metrics.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Service) {
		s.metrics = c
	}
}

// WithCatalog replaces the item catalogue, mainly for tests.
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Service) {
		s.catalog = c
	}
}

// ctxDoer adapts httpx.Client to the AODP client's HTTPClient interface.
type ctxDoer struct {
	client *httpx.Client
}

func (d ctxDoer) Do(req *http.Request) (*http.Response, error) {
	return d.client.Do(req.Context(), req)
}

// NewService wires a Service from configuration.
func NewService(cfg *config.Config, options ...Option) *Service {
	hc := httpx.New(cfg.Upstream.Timeout)
	s := &Service{
		cfg:     cfg,
		client:  aodp.NewClient(cfg.Upstream.Server, aodp.WithHTTPClient(ctxDoer{client: hc})),
		limiter: ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		cache:   respcache.New(cfg.Cache.Entries, cfg.Cache.TTL),
		catalog: catalog.New(hc, cfg.Catalog.URL, cfg.Catalog.TTL),
	}
	for _, option := range options {
		option(s)
	}
	s.monitor = health.New(cfg.Health.Threshold, s.probe)
	if s.metrics != nil {
		s.metrics.SetUpstreamUp(true)
		s.monitor.Subscribe(func(state health.State) {
			s.metrics.SetUpstreamUp(state == health.StateOnline)
		})
	}
	return s
}

// probe is the cheap reachability check. It draws from the shared limiter
// so probing never budges the request budget.
func (s *Service) probe(ctx context.Context) error {
	if !s.limiter.Acquire(ctx, 1) {
		return ctx.Err()
	}
	res := s.client.Probe(ctx)
	switch res.Status {
	case aodp.StatusOK, aodp.StatusThrottled, aodp.StatusTooLarge:
		return nil
	default:
		return res.Err
	}
}

// ProbeOnce runs a single reachability check without the monitor's
// failure-threshold smoothing. For one-shot diagnostics.
func (s *Service) ProbeOnce(ctx context.Context) error {
	return s.probe(ctx)
}

// Monitor exposes the health monitor for serving mode and the CLI.
func (s *Service) Monitor() *health.Monitor {
	return s.monitor
}

// StartHealthLoop runs periodic probes until ctx is done.
func (s *Service) StartHealthLoop(ctx context.Context) {
	go s.monitor.Run(ctx, s.cfg.Health.ProbeInterval)
}

// RefreshRequest parameterizes one price refresh.
type RefreshRequest struct {
	// Items to fetch; empty means every marketable catalogue item.
	Items []string
	// Locations to read; empty means the royal cities and Black Market.
	Locations []string
	// Qualities to read; empty means all five.
	Qualities []int
	// MaxAge cuts quotes older than this during normalization; 0 keeps
	// everything, leaving freshness policy to the flip ladder.
	MaxAge time.Duration
	// Concurrency overrides the configured worker ceiling when positive.
	Concurrency int
	// RequestsPerSecond and Burst retune the shared limiter when positive.
	RequestsPerSecond float64
	Burst             int
	// Progress receives per-chunk completion updates; may be nil.
	Progress fetcher.Progress
}

// RefreshResult is what a refresh produced. A non-zero FailedChunks with a
// nil error is the partial-success case; callers decide how much failure
// they tolerate.
type RefreshResult struct {
	Quotes       []normalize.Quote
	Stale        int
	FailedChunks int
	DroppedItems int
	// Canceled marks a refresh cut short by its context; Quotes then hold
	// whatever had been accumulated before the cut.
	Canceled bool
	ScanID   string
	Duration time.Duration
}

// RefreshPrices downloads and canonicalizes current prices. The only error
// cases are an empty item universe and a canceled context.
func (s *Service) RefreshPrices(ctx context.Context, req RefreshRequest) (RefreshResult, error) {
	items := req.Items
	if len(items) == 0 {
		ids, err := s.catalog.MarketableIDs(ctx)
		if err != nil {
			return RefreshResult{}, fmt.Errorf("resolving item universe: %w", err)
		}
		items = ids
	}
	if len(items) == 0 {
		return RefreshResult{}, fmt.Errorf("nothing to fetch: no items given and the catalogue is empty")
	}

	locations := req.Locations
	if len(locations) == 0 {
		locations = aodp.DefaultLocations
	}
	qualities := req.Qualities
	if len(qualities) == 0 {
		qualities = []int{1, 2, 3, 4, 5}
	}

	if req.RequestsPerSecond > 0 {
		s.limiter.SetRate(req.RequestsPerSecond)
	}
	if req.Burst > 0 {
		s.limiter.SetBurst(req.Burst)
	}

	opts := fetcher.Options{
		MaxItemsPerChunk: s.cfg.Fetch.MaxItemsPerChunk,
		MaxURLLen:        s.cfg.Fetch.MaxURLLen,
		Concurrency:      s.cfg.Fetch.Concurrency,
		RetryAttempts:    s.cfg.Fetch.RetryAttempts,
		BackoffBase:      s.cfg.Fetch.BackoffBase,
		TailRetryDelay:   s.cfg.Fetch.TailRetryDelay,
	}
	if req.Concurrency > 0 {
		opts.Concurrency = req.Concurrency
	}
	if s.metrics != nil {
		opts.OnChunkOutcome = s.metrics.RecordChunkOutcome
	}
	f := fetcher.New(s.client, s.limiter, s.cache, s.monitor, opts)

	started := time.Now()
	fres, err := f.Fetch(ctx, items, locations, qualities, req.Progress)
	canceled := false
	if err != nil {
		// A cut context is not a failure: whatever the workers banked before
		// the cut still gets normalized and returned.
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return RefreshResult{}, err
		}
		canceled = true
	}
	quotes, stale := normalize.Canonicalize(fres.Records, req.MaxAge, time.Now().UTC())

	result := RefreshResult{
		Quotes:       quotes,
		Stale:        stale,
		FailedChunks: fres.FailedChunks,
		DroppedItems: fres.DroppedItems,
		Canceled:     canceled,
		Duration:     time.Since(started),
	}
	if s.metrics != nil {
		s.metrics.RecordScan(result.Duration.Seconds(), len(quotes), fres.FailedChunks)
	}
	if s.store != nil && !canceled {
		scan := store.NewScan(s.cfg.Upstream.Server)
		scan.StartedAt = started.UTC()
		scan.FinishedAt = time.Now().UTC()
		scan.QuoteCount = len(quotes)
		scan.FailedChunks = fres.FailedChunks
		scan.DroppedItems = fres.DroppedItems
		if err := s.store.SaveScan(ctx, scan, quotes); err != nil {
			return RefreshResult{}, fmt.Errorf("persisting scan: %w", err)
		}
		result.ScanID = scan.ID
	}
	return result, nil
}

// FlipsRequest overrides the configured strict-tier thresholds. Zero values
// keep the configuration.
type FlipsRequest struct {
	MinProfit int64
	MinROI    float64
	MaxAge    time.Duration
	Items     []string
	// SourceLocations and DestLocations restrict the buy and sell side
	// independently; empty means anywhere.
	SourceLocations []string
	DestLocations   []string
	// Qualities restricts flips to these quality levels; empty means all.
	Qualities  []int
	MaxResults int
}

// FindFlips runs the relaxation ladder over quotes. scanID associates the
// result with a persisted scan and may be empty.
func (s *Service) FindFlips(ctx context.Context, quotes []normalize.Quote, scanID string, req FlipsRequest) (flips.LadderResult, error) {
	base := flips.Params{
		MinProfit:       s.cfg.Flips.MinProfit,
		MinROI:          s.cfg.Flips.MinROI,
		MaxAge:          s.cfg.Flips.MaxAge,
		MaxResults:      s.cfg.Flips.MaxResults,
		Items:           req.Items,
		SourceLocations: req.SourceLocations,
		DestLocations:   req.DestLocations,
		Qualities:       req.Qualities,
	}
	if req.MinProfit > 0 {
		base.MinProfit = req.MinProfit
	}
	if req.MinROI > 0 {
		base.MinROI = req.MinROI
	}
	if req.MaxAge > 0 {
		base.MaxAge = req.MaxAge
	}
	if req.MaxResults > 0 {
		base.MaxResults = req.MaxResults
	}

	result := flips.RunLadder(quotes, flips.DefaultLadder(base), time.Now().UTC())

	if s.metrics != nil {
		for _, attempt := range result.Attempts {
			s.recordDropStats(attempt.Stats)
		}
	}
	if s.store != nil && scanID != "" && result.Winner != "" {
		if err := s.store.SaveFlips(ctx, scanID, result.Winner, result.Candidates); err != nil {
			return result, fmt.Errorf("persisting flips: %w", err)
		}
	}
	return result, nil
}

func (s *Service) recordDropStats(stats flips.DropStats) {
	s.metrics.RecordFlipDrops("stale", stats.Stale)
	s.metrics.RecordFlipDrops("no_buy", stats.NoBuy)
	s.metrics.RecordFlipDrops("no_sell", stats.NoSell)
	s.metrics.RecordFlipDrops("same_location", stats.SameLocation)
	s.metrics.RecordFlipDrops("non_positive_spread", stats.NonPositiveSpread)
	s.metrics.RecordFlipDrops("below_min_profit", stats.BelowMinProfit)
	s.metrics.RecordFlipDrops("below_min_roi", stats.BelowMinROI)
}
