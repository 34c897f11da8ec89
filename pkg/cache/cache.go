// CLAUDE:SUMMARY Namespaced key-value cache services (SQLite, PostgreSQL, Redis, memory) with gob-typed buckets.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/hazyhaar/french-cities/pkg/metrics"
)

// Namespaces used across the resolvers.
const (
	NSProjection  = "projection"
	NSDeps        = "deps"
	NSNominatim   = "nominatim"
	NSUltramarine = "ultramarine"
	NSAreas       = "areas"
	NSGeo         = "geo"
)

// Namespaces lists every namespace cleared by ClearAll.
var Namespaces = []string{NSProjection, NSDeps, NSNominatim, NSUltramarine, NSAreas, NSGeo}

// Store is an append-mostly key-value store partitioned by namespace.
// Implementations are safe for concurrent use on distinct keys.
type Store interface {
	Get(ctx context.Context, ns, key string) ([]byte, bool, error)
	Set(ctx context.Context, ns, key string, value []byte) error
	Delete(ctx context.Context, ns, key string) error
	// Clear removes every key of ns.
	Clear(ctx context.Context, ns string) error
	Close() error
}

// ClearAll clears every known namespace.
func ClearAll(ctx context.Context, s Store) error {
	for _, ns := range Namespaces {
		if err := s.Clear(ctx, ns); err != nil {
			return fmt.Errorf("clear %s: %w", ns, err)
		}
	}
	return nil
}

// Bucket is a Store view bound to one namespace.
type Bucket struct {
	store Store
	ns    string
}

// NewBucket binds store to ns.
func NewBucket(store Store, ns string) *Bucket {
	return &Bucket{store: store, ns: ns}
}

// Namespace returns the bound namespace.
func (b *Bucket) Namespace() string { return b.ns }

// Get returns the raw value stored under key.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := b.store.Get(ctx, b.ns, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s/%s: %w", b.ns, key, err)
	}
	if ok {
		metrics.CacheHitsTotal.WithLabelValues(b.ns).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(b.ns).Inc()
	}
	return v, ok, nil
}

// Set stores value under key.
func (b *Bucket) Set(ctx context.Context, key string, value []byte) error {
	if err := b.store.Set(ctx, b.ns, key, value); err != nil {
		return fmt.Errorf("cache set %s/%s: %w", b.ns, key, err)
	}
	return nil
}

// Delete removes key.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	return b.store.Delete(ctx, b.ns, key)
}

// Clear removes every key of the bucket.
func (b *Bucket) Clear(ctx context.Context) error {
	return b.store.Clear(ctx, b.ns)
}

// GetGob decodes the gob value stored under key.
func GetGob[T any](ctx context.Context, b *Bucket, key string) (T, bool, error) {
	var out T
	raw, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&out); err != nil {
		return out, false, fmt.Errorf("decode %s/%s: %w", b.ns, key, err)
	}
	return out, true, nil
}

// SetGob gob-encodes v under key.
func SetGob[T any](ctx context.Context, b *Bucket, key string, v T) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode %s/%s: %w", b.ns, key, err)
	}
	return b.Set(ctx, key, buf.Bytes())
}
