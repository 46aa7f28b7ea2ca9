// Package catalog caches the upstream model listing so browsing the picker
// does not hammer the provider on every page load.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/avlachos/conclave/internal/llm"
)

const (
	cacheSize = 32
	cacheTTL  = 10 * time.Minute
)

// Catalog serves model listings from a TTL cache keyed per API key, so two
// users with different keys never see each other's entitlements. Expired
// entries are refetched; when the refetch fails the last good listing for
// that key is served stale rather than erroring the caller out.
type Catalog struct {
	client *llm.Client

	cache *expirable.LRU[string, []llm.Model]

	mu       sync.Mutex
	lastGood map[string][]llm.Model
	fallback []llm.Model
}

// New builds a Catalog around the given client. fallback is returned when a
// key has never produced a listing and the live fetch fails; pass the
// configured council so the picker is never empty.
func New(client *llm.Client, fallback []llm.Model) *Catalog {
	return &Catalog{
		client:   client,
		cache:    expirable.NewLRU[string, []llm.Model](cacheSize, nil, cacheTTL),
		lastGood: make(map[string][]llm.Model),
		fallback: fallback,
	}
}

// Models returns the model listing for the given API key. key "" uses the
// client's configured key; the cache entry is still scoped to it.
func (c *Catalog) Models(ctx context.Context, key string) ([]llm.Model, error) {
	ck := cacheKey(key)
	if models, ok := c.cache.Get(ck); ok {
		return models, nil
	}

	models, err := c.client.WithKey(key).ListModels(ctx)
	if err != nil {
		c.mu.Lock()
		stale, ok := c.lastGood[ck]
		c.mu.Unlock()
		if ok {
			slog.Warn("model listing fetch failed, serving stale", "error", err)
			return stale, nil
		}
		if len(c.fallback) > 0 {
			slog.Warn("model listing fetch failed, serving fallback", "error", err)
			return c.fallback, nil
		}
		return nil, err
	}

	c.cache.Add(ck, models)
	c.mu.Lock()
	c.lastGood[ck] = models
	c.mu.Unlock()
	return models, nil
}

// Has reports whether a model id is present in the listing for key. Errors
// count as present: the catalog is advisory and must never block a run over
// a listing hiccup.
func (c *Catalog) Has(ctx context.Context, key, id string) bool {
	models, err := c.Models(ctx, key)
	if err != nil {
		return true
	}
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// The raw key never sits in a map; only its digest does.
func cacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Fallback builds a minimal listing from bare model ids.
func Fallback(ids ...string) []llm.Model {
	out := make([]llm.Model, 0, len(ids))
	for _, id := range ids {
		out = append(out, llm.Model{ID: id, Name: id, Provider: llm.ProviderOf(id)})
	}
	return out
}
