package aodp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Status classifies the outcome of a single prices request so the caller can
// pick a policy (split, back off, count a failure) without inspecting errors.
type Status int

const (
	// StatusOK means the response parsed cleanly.
	StatusOK Status = iota
	// StatusTooLarge means the upstream rejected the request URL as too
	// long; the caller should split the item set and try again.
	StatusTooLarge
	// StatusThrottled means the upstream is reachable but rate limiting us.
	StatusThrottled
	// StatusServerError covers 5xx responses and transport failures; both
	// are worth retrying.
	StatusServerError
	// StatusFatal means retrying the same request cannot help.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTooLarge:
		return "too-large"
	case StatusThrottled:
		return "throttled"
	case StatusServerError:
		return "server-error"
	default:
		return "fatal"
	}
}

// FetchResult is the outcome of one FetchPrices call.
type FetchResult struct {
	Status Status
	// Records holds the parsed rows when Status is StatusOK.
	Records []RawRecord
	// Body is the raw response body when Status is StatusOK, suitable for
	// caching keyed by URL.
	Body []byte
	// Dropped counts rows discarded during parsing.
	Dropped    int
	HTTPStatus int
	Err        error
}

// BuildPricesURL assembles the prices endpoint URL for an item/location/
// quality selection. The same function backs request issuing and the chunk
// planner's length estimate, so the two can never disagree.
func BuildPricesURL(base string, items, locations []string, qualities []int) string {
	escaped := make([]string, len(items))
	for i, item := range items {
		escaped[i] = url.PathEscape(item)
	}

	query := url.Values{}
	if len(locations) > 0 {
		query.Set("locations", strings.Join(locations, ","))
	}
	if len(qualities) > 0 {
		qs := make([]string, len(qualities))
		for i, q := range qualities {
			qs[i] = strconv.Itoa(q)
		}
		query.Set("qualities", strings.Join(qs, ","))
	}

	u := fmt.Sprintf("%s/api/v2/stats/prices/%s.json", base, strings.Join(escaped, ","))
	if enc := query.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// PricesURL is BuildPricesURL against this client's base.
func (c *Client) PricesURL(items, locations []string, qualities []int) string {
	return BuildPricesURL(c.baseURL, items, locations, qualities)
}

// FetchPrices performs exactly one request for current prices and classifies
// the outcome. It never retries; splitting and backoff belong to the caller.
func (c *Client) FetchPrices(ctx context.Context, items, locations []string, qualities []int) FetchResult {
	reqURL := c.PricesURL(items, locations, qualities)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return FetchResult{Status: StatusFatal, Err: fmt.Errorf("creating request: %w", err)}
	}
	for key, values := range c.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{Status: StatusFatal, Err: ctx.Err()}
		}
		return FetchResult{Status: StatusServerError, Err: fmt.Errorf("performing request: %w", err)}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		break

	case res.StatusCode == http.StatusRequestURITooLong,
		res.StatusCode == http.StatusRequestEntityTooLarge:
		return FetchResult{
			Status:     StatusTooLarge,
			HTTPStatus: res.StatusCode,
			Err:        fmt.Errorf("request too large for %d items", len(items)),
		}

	case res.StatusCode == http.StatusTooManyRequests:
		return FetchResult{
			Status:     StatusThrottled,
			HTTPStatus: res.StatusCode,
			Err:        fmt.Errorf("rate limited"),
		}

	case res.StatusCode >= 500:
		return FetchResult{
			Status:     StatusServerError,
			HTTPStatus: res.StatusCode,
			Err:        fmt.Errorf("server error: status %d", res.StatusCode),
		}

	default:
		return FetchResult{
			Status:     StatusFatal,
			HTTPStatus: res.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d", res.StatusCode),
		}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return FetchResult{
			Status:     StatusServerError,
			HTTPStatus: res.StatusCode,
			Err:        fmt.Errorf("reading response body: %w", err),
		}
	}

	records, dropped, err := ParseRecords(body)
	if err != nil {
		return FetchResult{Status: StatusFatal, HTTPStatus: res.StatusCode, Err: err}
	}
	return FetchResult{
		Status:     StatusOK,
		Records:    records,
		Body:       body,
		Dropped:    dropped,
		HTTPStatus: res.StatusCode,
	}
}

// Probe settings. One cheap well-known item keeps the request tiny.
const (
	probeItem     = "T4_SWORD"
	probeLocation = "Martlock"
)

// Probe issues the lightweight reachability request used by the health
// monitor. A throttled response still proves the upstream is alive.
func (c *Client) Probe(ctx context.Context) FetchResult {
	return c.FetchPrices(ctx, []string{probeItem}, []string{probeLocation}, []int{1})
}
