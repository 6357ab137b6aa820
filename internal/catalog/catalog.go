// Package catalog downloads and caches the master item list, so "fetch
// everything" runs do not need the caller to enumerate item ids.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"albionflip/internal/httpx"
)

// DefaultURL is the community-maintained formatted items dump.
const DefaultURL = "https://raw.githubusercontent.com/ao-data/ao-bin-dumps/master/formatted/items.json"

const cacheKey = "items"

// Item is one catalogue entry.
type Item struct {
	UniqueName string
	Name       string
}

type itemJSON struct {
	UniqueName     string            `json:"UniqueName"`
	LocalizedNames map[string]string `json:"LocalizedNames"`
}

// Catalog fetches the item list on demand and keeps it for a TTL. One
// download serves every fetch cycle inside the window.
type Catalog struct {
	client *httpx.Client
	url    string
	cache  *gocache.Cache
}

// New creates a Catalog. url may be empty to use DefaultURL.
func New(client *httpx.Client, url string, ttl time.Duration) *Catalog {
	if url == "" {
		url = DefaultURL
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Catalog{
		client: client,
		url:    url,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// Items returns the full catalogue, downloading it if the cached copy has
// expired.
func (c *Catalog) Items(ctx context.Context) ([]Item, error) {
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]Item), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	res, err := c.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("downloading item list: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading item list: status %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading item list: %w", err)
	}
	var rows []itemJSON
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding item list: %w", err)
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		if row.UniqueName == "" {
			continue
		}
		name := row.LocalizedNames["EN-US"]
		items = append(items, Item{UniqueName: row.UniqueName, Name: name})
	}
	c.cache.Set(cacheKey, items, gocache.DefaultExpiration)
	return items, nil
}

// tieredName matches ids of items that exist on the market. Everything
// tradeable in game carries a tier prefix.
var tieredName = regexp.MustCompile(`^T[1-8]_`)

// nonMarketable marks id fragments for things the market never lists.
var nonMarketable = []string{
	"QUESTITEM",
	"SKIN",
	"TUTORIAL",
	"TEST",
	"TRASH",
	"UNIQUE_",
}

// Marketable reports whether an item id can appear on the market board.
func Marketable(uniqueName string) bool {
	if !tieredName.MatchString(uniqueName) {
		return false
	}
	for _, frag := range nonMarketable {
		if strings.Contains(uniqueName, frag) {
			return false
		}
	}
	return true
}

// MarketableIDs returns the ids of every marketable catalogue item.
func (c *Catalog) MarketableIDs(ctx context.Context) ([]string, error) {
	items, err := c.Items(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if Marketable(item.UniqueName) {
			ids = append(ids, item.UniqueName)
		}
	}
	return ids, nil
}
