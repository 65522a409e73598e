package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTTL            = 5 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
)

var ErrEmptyKey = errors.New("cache key is empty")

type Loader[V any] func(ctx context.Context) (V, error)

type Option func(*options)

type options struct {
	now            func() time.Time
	refreshTimeout time.Duration
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Capability caches seller catalogs and audience manifests per seller key.
// Reads never wait on a refresh of an entry they already hold; they get
// the stale value while one background refresh per key runs.
type Capability[V any] struct {
	ttl  time.Duration
	opts options

	mu         sync.RWMutex
	entries    map[string]entry[V]
	refreshing map[string]bool

	group singleflight.Group
	bg    sync.WaitGroup
}

func New[V any](ttl time.Duration, opts ...Option) *Capability[V] {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	o := options{now: time.Now, refreshTimeout: defaultRefreshTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Capability[V]{
		ttl:        ttl,
		opts:       o,
		entries:    make(map[string]entry[V]),
		refreshing: make(map[string]bool),
	}
}

// Peek returns the cached value and whether it is still fresh.
func (c *Capability[V]) Peek(key string) (value V, fresh bool, ok bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return value, false, false
	}
	return e.value, c.opts.now().Sub(e.fetchedAt) < c.ttl, true
}

// Put stores a value fetched at now. Older writes never replace newer ones.
func (c *Capability[V]) Put(key string, value V) {
	c.store(key, value, c.opts.now())
}

func (c *Capability[V]) store(key string, value V, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[key]; ok && cur.fetchedAt.After(at) {
		return
	}
	c.entries[key] = entry[V]{value: value, fetchedAt: at}
}

// Invalidate drops key so the next Get loads it synchronously.
func (c *Capability[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Get returns a fresh value, a stale value while refreshing in the
// background, or loads synchronously when nothing is cached.
func (c *Capability[V]) Get(ctx context.Context, key string, load Loader[V]) (V, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		var zero V
		return zero, ErrEmptyKey
	}

	value, fresh, ok := c.Peek(key)
	switch {
	case ok && fresh:
		return value, nil
	case ok:
		c.refreshInBackground(ctx, key, load)
		return value, nil
	default:
		return c.Refresh(ctx, key, load)
	}
}

// Refresh loads key now. Concurrent refreshes of one key share a single
// loader call.
func (c *Capability[V]) Refresh(ctx context.Context, key string, load Loader[V]) (V, error) {
	out, err, _ := c.group.Do(key, func() (any, error) {
		started := c.opts.now()
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.store(key, v, started)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := out.(V)
	return v, nil
}

func (c *Capability[V]) refreshInBackground(ctx context.Context, key string, load Loader[V]) {
	c.mu.Lock()
	if c.refreshing[key] {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = true
	c.mu.Unlock()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.refreshTimeout)
		defer cancel()
		if _, err := c.Refresh(bgCtx, key, load); err != nil {
			log.Warn().Err(err).Str("seller", key).Msg("background cache refresh failed; serving stale entry")
			return
		}
		log.Debug().Str("seller", key).Msg("cache entry refreshed")
	}()
}

// Wait blocks until background refreshes started so far have finished.
func (c *Capability[V]) Wait() {
	c.bg.Wait()
}
