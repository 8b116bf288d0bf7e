package accounts

import (
	"context"
	"time"

	"github.com/sebas/callbridge/internal/bridge/store"
)

// Cached wraps a Provider with a read-through TTL cache. Negative
// document lookups (ErrNotFound) are cached too, so a missing account
// does not hammer the backend on every emergency call.
type Cached struct {
	inner Provider
	ttl   time.Duration

	docs    *store.TTLCache[string, *Document]
	numbers *store.TTLCache[string, map[string]struct{}]
}

// NewCached creates the cache. ttl <= 0 selects 30 seconds.
func NewCached(inner Provider, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cached{
		inner:   inner,
		ttl:     ttl,
		docs:    store.NewTTLCache[string, *Document](ttl),
		numbers: store.NewTTLCache[string, map[string]struct{}](ttl),
	}
}

func (c *Cached) Account(ctx context.Context, accountID string) (*Document, error) {
	if doc, ok := c.docs.Get(accountID); ok {
		if doc == nil {
			return nil, ErrNotFound
		}
		copied := *doc
		return &copied, nil
	}

	doc, err := c.inner.Account(ctx, accountID)
	if err == ErrNotFound {
		c.docs.Set(accountID, nil, c.ttl)
		return nil, ErrNotFound
	}
	if err != nil {
		// Transient backend failures are not cached.
		return nil, err
	}
	c.docs.Set(accountID, doc, c.ttl)
	copied := *doc
	return &copied, nil
}

func (c *Cached) EmergencyNumbers(ctx context.Context, accountID string) (map[string]struct{}, error) {
	if set, ok := c.numbers.Get(accountID); ok {
		return copySet(set), nil
	}
	set, err := c.inner.EmergencyNumbers(ctx, accountID)
	if err != nil {
		return nil, err
	}
	c.numbers.Set(accountID, set, c.ttl)
	return copySet(set), nil
}

// Stop terminates the cache sweep loops.
func (c *Cached) Stop() {
	c.docs.Stop()
	c.numbers.Stop()
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
