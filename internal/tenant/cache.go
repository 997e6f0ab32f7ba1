package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/broker"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/keymutex"
)

// cacheTTL bounds how long a resolved tenant is trusted before the next
// lookup re-fetches it from Backing, independent of broker invalidation.
const cacheTTL = time.Hour

type cacheEntry struct {
	tenant    *Tenant
	expiresAt time.Time
}

// Cache wraps a Backing Resolver with an in-process, coalesced cache: the
// keyed mutex collapses concurrent cold-cache loads for the same key
// into a single call to Backing, and entries are invalidated either by TTL
// or by a broker notification naming the tenant ("Per-tenant JWKS cache
// ... invalidated by a broker message").
type Cache struct {
	Backing Resolver

	coalesce    *keymutex.KeyMutex
	mu          sync.RWMutex
	byID        map[string]cacheEntry
	byRef       map[string]cacheEntry
	byHost      map[string]cacheEntry
	byAccessKey map[string]cacheEntry
}

// NewCache constructs a Cache around backing. If b is non-nil, the cache
// subscribes to broker.ChannelJWKSUpdate and broker.ChannelS3CredentialsUpdate
// and evicts the named tenant on receipt, so key rotation on one node is
// visible to every other node without waiting out the TTL.
func NewCache(backing Resolver, b *broker.Broker) *Cache {
	c := &Cache{
		Backing:     backing,
		coalesce:    keymutex.New(),
		byID:        make(map[string]cacheEntry),
		byRef:       make(map[string]cacheEntry),
		byHost:      make(map[string]cacheEntry),
		byAccessKey: make(map[string]cacheEntry),
	}
	if b != nil {
		c.watchInvalidations(b)
	}
	return c
}

func (c *Cache) watchInvalidations(b *broker.Broker) {
	for _, ch := range []string{broker.ChannelJWKSUpdate, broker.ChannelS3CredentialsUpdate} {
		payloads, _ := b.Subscribe(ch)
		go func(payloads <-chan string) {
			for id := range payloads {
				c.Invalidate(id)
			}
		}(payloads)
	}
}

// Invalidate evicts any cached entry for tenant id, under whichever key it
// is currently indexed by.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
	for ref, e := range c.byRef {
		if e.tenant.ID == id {
			delete(c.byRef, ref)
		}
	}
	for host, e := range c.byHost {
		if e.tenant.ID == id {
			delete(c.byHost, host)
		}
	}
	for key, e := range c.byAccessKey {
		if e.tenant.ID == id {
			delete(c.byAccessKey, key)
		}
	}
}

func (c *Cache) lookup(table map[string]cacheEntry, key string) (*Tenant, bool) {
	c.mu.RLock()
	e, ok := table[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.tenant, true
}

func (c *Cache) store(t *Tenant) {
	entry := cacheEntry{tenant: t, expiresAt: time.Now().Add(cacheTTL)}
	c.mu.Lock()
	c.byID[t.ID] = entry
	if t.Ref != "" {
		c.byRef[t.Ref] = entry
	}
	if t.Host != "" {
		c.byHost[t.Host] = entry
	}
	if t.S3AccessKeyID != "" {
		c.byAccessKey[t.S3AccessKeyID] = entry
	}
	c.mu.Unlock()
}

func (c *Cache) ByID(ctx context.Context, id string) (*Tenant, bool, error) {
	if t, ok := c.lookup(c.byID, id); ok {
		return t, true, nil
	}
	var t *Tenant
	var found bool
	var err error
	coalesceErr := c.coalesce.Do("id:"+id, func() error {
		if cached, ok := c.lookup(c.byID, id); ok {
			t, found = cached, true
			return nil
		}
		t, found, err = c.Backing.ByID(ctx, id)
		if err == nil && found {
			c.store(t)
		}
		return nil
	})
	if coalesceErr != nil {
		return nil, false, coalesceErr
	}
	return t, found, err
}

func (c *Cache) ByRef(ctx context.Context, ref string) (*Tenant, bool, error) {
	if t, ok := c.lookup(c.byRef, ref); ok {
		return t, true, nil
	}
	var t *Tenant
	var found bool
	var err error
	coalesceErr := c.coalesce.Do("ref:"+ref, func() error {
		if cached, ok := c.lookup(c.byRef, ref); ok {
			t, found = cached, true
			return nil
		}
		t, found, err = c.Backing.ByRef(ctx, ref)
		if err == nil && found {
			c.store(t)
		}
		return nil
	})
	if coalesceErr != nil {
		return nil, false, coalesceErr
	}
	return t, found, err
}

func (c *Cache) ByAccessKeyID(ctx context.Context, accessKeyID string) (*Tenant, bool, error) {
	if t, ok := c.lookup(c.byAccessKey, accessKeyID); ok {
		return t, true, nil
	}
	var t *Tenant
	var found bool
	var err error
	coalesceErr := c.coalesce.Do("ak:"+accessKeyID, func() error {
		if cached, ok := c.lookup(c.byAccessKey, accessKeyID); ok {
			t, found = cached, true
			return nil
		}
		t, found, err = c.Backing.ByAccessKeyID(ctx, accessKeyID)
		if err == nil && found {
			c.store(t)
		}
		return nil
	})
	if coalesceErr != nil {
		return nil, false, coalesceErr
	}
	return t, found, err
}

func (c *Cache) ByHost(ctx context.Context, host string) (*Tenant, bool, error) {
	if t, ok := c.lookup(c.byHost, host); ok {
		return t, true, nil
	}
	var t *Tenant
	var found bool
	var err error
	coalesceErr := c.coalesce.Do("host:"+host, func() error {
		if cached, ok := c.lookup(c.byHost, host); ok {
			t, found = cached, true
			return nil
		}
		t, found, err = c.Backing.ByHost(ctx, host)
		if err == nil && found {
			c.store(t)
		}
		return nil
	})
	if coalesceErr != nil {
		return nil, false, coalesceErr
	}
	return t, found, err
}
