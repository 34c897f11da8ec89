package cog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/french-cities/pkg/cache"
)

// Cached wraps a Catalog. Area lists and parent/child relations are kept per
// process and persisted gob-encoded in the areas namespace; projections are
// not cached here.
type Cached struct {
	next    Catalog
	bucket  *cache.Bucket
	refresh bool
	logger  *slog.Logger

	mu    sync.Mutex
	lists map[string][]Area
}

// NewCached wraps next. With refresh set, persisted snapshots are ignored and
// superseded by fresh fetches.
func NewCached(next Catalog, store cache.Store, refresh bool, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		next:    next,
		bucket:  cache.NewBucket(store, cache.NSAreas),
		refresh: refresh,
		logger:  logger,
		lists:   make(map[string][]Area),
	}
}

func (c *Cached) ListAreas(ctx context.Context, t AreaType, date string) ([]Area, error) {
	key := fmt.Sprintf("list:%s:%s", t, date)

	c.mu.Lock()
	areas, ok := c.lists[key]
	c.mu.Unlock()
	if ok {
		return areas, nil
	}

	if !c.refresh {
		areas, ok, err := cache.GetGob[[]Area](ctx, c.bucket, key)
		if err != nil {
			c.logger.Warn("areas cache unreadable, refetching", "key", key, "error", err)
		} else if ok {
			c.remember(key, areas)
			return areas, nil
		}
	}

	areas, err := c.next.ListAreas(ctx, t, date)
	if err != nil {
		return nil, err
	}
	if err := cache.SetGob(ctx, c.bucket, key, areas); err != nil {
		return nil, err
	}
	c.remember(key, areas)
	return areas, nil
}

func (c *Cached) remember(key string, areas []Area) {
	c.mu.Lock()
	c.lists[key] = areas
	c.mu.Unlock()
}

func (c *Cached) Ascending(ctx context.Context, code string, t AreaType, date string, parentType AreaType) (string, error) {
	key := fmt.Sprintf("asc:%s:%s:%s:%s", t, code, date, parentType)
	if !c.refresh {
		if v, ok, err := c.bucket.Get(ctx, key); err == nil && ok {
			return string(v), nil
		}
	}
	parent, err := c.next.Ascending(ctx, code, t, date, parentType)
	if err != nil {
		return "", err
	}
	if parent != "" {
		if err := c.bucket.Set(ctx, key, []byte(parent)); err != nil {
			return "", err
		}
	}
	return parent, nil
}

func (c *Cached) Descending(ctx context.Context, code string, t AreaType, date string, childType AreaType) ([]Area, error) {
	key := fmt.Sprintf("desc:%s:%s:%s:%s", t, code, date, childType)
	if !c.refresh {
		if areas, ok, err := cache.GetGob[[]Area](ctx, c.bucket, key); err == nil && ok {
			return areas, nil
		}
	}
	areas, err := c.next.Descending(ctx, code, t, date, childType)
	if err != nil {
		return nil, err
	}
	if len(areas) > 0 {
		if err := cache.SetGob(ctx, c.bucket, key, areas); err != nil {
			return nil, err
		}
	}
	return areas, nil
}

func (c *Cached) Project(ctx context.Context, code string, t AreaType, date, target string) (*Area, error) {
	return c.next.Project(ctx, code, t, date, target)
}

// Preload stores areas as the list of type t at date, where Cached will find
// it instead of querying the catalog.
func Preload(ctx context.Context, store cache.Store, t AreaType, date string, areas []Area) error {
	b := cache.NewBucket(store, cache.NSAreas)
	return cache.SetGob(ctx, b, fmt.Sprintf("list:%s:%s", t, date), areas)
}

// Reset forgets the lists kept in process.
func (c *Cached) Reset() {
	c.mu.Lock()
	c.lists = make(map[string][]Area)
	c.mu.Unlock()
}
