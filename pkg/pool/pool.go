// CLAUDE:SUMMARY Bounded fan-out over independent keys with barrier semantics; the first error cancels the batch.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultSize is the worker count used when none is configured.
const DefaultSize = 10

// Map runs fn for every key with at most size concurrent calls and returns
// once all calls finished. Results are collected by key, not by position.
// The first error cancels the context passed to the remaining calls and is returned.
func Map[K comparable, V any](ctx context.Context, size int, keys []K, fn func(context.Context, K) (V, error)) (map[K]V, error) {
	if size <= 0 {
		size = DefaultSize
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(size)

	var mu sync.Mutex
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		g.Go(func() error {
			v, err := fn(ctx, k)
			if err != nil {
				return err
			}
			mu.Lock()
			out[k] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
