package vast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultMaxDepth bounds wrapper chains per VAST guidance.
const DefaultMaxDepth = 5

// maxResponseBytes caps a single VAST document read.
const maxResponseBytes = 4 << 20

var (
	ErrDepthExceeded = errors.New("vast: wrapper depth exceeded")
	ErrWrapperCycle  = errors.New("vast: wrapper cycle detected")
	ErrNoAds         = errors.New("vast: no inline ads")
)

// BodyCache stores raw VAST documents keyed by URL hash. Implementations set
// their own TTL (5 minutes in production).
type BodyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, body []byte)
}

// Resolver fetches VAST documents and flattens wrapper chains into inline
// ads, merging every wrapper's trackers into the final ads.
type Resolver struct {
	Client   *http.Client
	Cache    BodyCache
	MaxDepth int
}

// NewResolver returns a resolver with the default depth limit. cache may be
// nil.
func NewResolver(client *http.Client, cache BodyCache) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &Resolver{Client: client, Cache: cache, MaxDepth: DefaultMaxDepth}
}

// CacheKey content-addresses a VAST URL.
func CacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "vast:" + hex.EncodeToString(sum[:])
}

// Resolve fetches the VAST document at url and follows wrappers until only
// inline ads remain. The returned ads carry trackers merged from the whole
// chain.
func (r *Resolver) Resolve(ctx context.Context, url string) ([]Ad, error) {
	visited := make(map[string]bool)
	ads, err := r.resolve(ctx, url, TrackerSet{}, 0, visited, 0)
	if err != nil {
		return nil, err
	}
	if len(ads) == 0 {
		return nil, ErrNoAds
	}
	return ads, nil
}

func (r *Resolver) resolve(ctx context.Context, url string, inherited TrackerSet, inheritedTier uint32, visited map[string]bool, depth int) ([]Ad, error) {
	if depth > r.MaxDepth {
		return nil, ErrDepthExceeded
	}
	if visited[url] {
		return nil, ErrWrapperCycle
	}
	visited[url] = true

	body, err := r.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := parse(body)
	if err != nil {
		return nil, err
	}

	var ads []Ad
	for _, ad := range resp.Inline {
		ad.Trackers.Merge(inherited)
		if ad.Tier == 0 {
			ad.Tier = inheritedTier
		}
		ads = append(ads, ad)
	}
	for _, w := range resp.Wrappers {
		chained := w.Trackers
		chained.Merge(inherited)
		tier := w.Tier
		if tier == 0 {
			tier = inheritedTier
		}
		inner, err := r.resolve(ctx, w.AdTagURI, chained, tier, visited, depth+1)
		if err != nil {
			// One dead wrapper does not void sibling inline ads.
			slog.Warn("wrapper resolution failed", "adTagUri", w.AdTagURI, "err", err)
			continue
		}
		ads = append(ads, inner...)
	}
	return ads, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	key := CacheKey(url)
	if r.Cache != nil {
		if body, ok := r.Cache.Get(ctx, key); ok {
			return body, nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("vast: bad URL %q: %w", url, err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vast: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vast: fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("vast: read %s: %w", url, err)
	}
	if r.Cache != nil {
		r.Cache.Set(ctx, key, body)
	}
	return body, nil
}
