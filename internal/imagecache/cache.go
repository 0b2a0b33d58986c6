// Package imagecache holds decoded asset rasters for the lifetime of one run.
//
// Concurrent Get calls for the same locator share a single fetch and decode.
// Successful loads enter an LRU bounded by entry count; failed loads are
// returned to every waiting caller and then forgotten, so the next Get
// retries. Rasters are shared between callers and must be treated as
// read-only.
package imagecache

import (
	"context"
	"errors"
	"image"
	"sync/atomic"

	"github.com/blueprint-labs/blueprint/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is the number of decoded rasters kept per run.
const DefaultCapacity = 20

// Fetcher returns the raw bytes of an asset.
type Fetcher interface {
	Fetch(ctx context.Context, loc domain.Locator) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, loc domain.Locator) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, loc domain.Locator) ([]byte, error) {
	return f(ctx, loc)
}

type Stats struct {
	Hits      int64
	Misses    int64
	Loads     int64
	Failures  int64
	Evictions int64
}

type Cache struct {
	fetcher Fetcher
	decode  DecodeFunc
	entries *lru.Cache[domain.Locator, *image.NRGBA]
	group   singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	loads     atomic.Int64
	failures  atomic.Int64
	evictions atomic.Int64
}

type Option func(*Cache)

// WithDecoder replaces Decode.
func WithDecoder(decode DecodeFunc) Option {
	return func(c *Cache) {
		if decode != nil {
			c.decode = decode
		}
	}
}

// New builds a cache holding at most capacity rasters. A capacity below one
// selects DefaultCapacity.
func New(fetcher Fetcher, capacity int, opts ...Option) (*Cache, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	c := &Cache{fetcher: fetcher, decode: Decode}
	for _, opt := range opts {
		opt(c)
	}
	entries, err := lru.NewWithEvict(capacity, func(domain.Locator, *image.NRGBA) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Get returns the decoded raster for loc, loading it at most once across
// concurrent callers. A caller whose ctx ends stops waiting; the shared load
// keeps going for the others.
func (c *Cache) Get(ctx context.Context, loc domain.Locator) (*image.NRGBA, error) {
	if img, ok := c.entries.Get(loc); ok {
		c.hits.Add(1)
		return img, nil
	}
	c.misses.Add(1)

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey(loc), func() (any, error) {
		// A flight that finished between our miss and this call has
		// already populated the cache.
		if img, ok := c.entries.Peek(loc); ok {
			return img, nil
		}
		return c.load(loadCtx, loc)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*image.NRGBA), nil
	}
}

// flightKey keeps a loose path containing ':' apart from a pack member.
func flightKey(loc domain.Locator) string {
	return loc.Pack + "\x00" + loc.Path
}

func (c *Cache) load(ctx context.Context, loc domain.Locator) (*image.NRGBA, error) {
	c.loads.Add(1)
	data, err := c.fetcher.Fetch(ctx, loc)
	if err != nil {
		c.failures.Add(1)
		return nil, &LoadError{Locator: loc, Stage: StageFetch, Err: err}
	}
	img, err := c.decode(data)
	if err != nil {
		c.failures.Add(1)
		return nil, &LoadError{Locator: loc, Stage: StageDecode, Err: err}
	}
	c.entries.Add(loc, img)
	return img, nil
}

// Len is the number of cached rasters.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Contains reports whether loc is cached without touching its recency.
func (c *Cache) Contains(loc domain.Locator) bool {
	return c.entries.Contains(loc)
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Failures:  c.failures.Load(),
		Evictions: c.evictions.Load(),
	}
}
