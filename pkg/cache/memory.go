package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRU is a bounded in-process cache with per-entry TTL. A zero TTL never expires.
type LRU[K comparable, V any] struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[K]*list.Element
}

type lruItem[K comparable, V any] struct {
	k   K
	v   V
	exp time.Time
}

// NewLRU returns an LRU holding at most capacity entries (unbounded when <= 0).
func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	return &LRU[K, V]{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[K]*list.Element)}
}

func (c *LRU[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		it := e.Value.(lruItem[K, V])
		if c.ttl == 0 || time.Now().Before(it.exp) {
			c.lst.MoveToFront(e)
			return it.v, true
		}
		c.lst.Remove(e)
		delete(c.dict, k)
	}
	var zero V
	return zero, false
}

func (c *LRU[K, V]) Set(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := lruItem[K, V]{k: k, v: v, exp: time.Now().Add(c.ttl)}
	if e, ok := c.dict[k]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(it)
	for c.cap > 0 && c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(lruItem[K, V]).k)
		c.lst.Remove(back)
	}
}

func (c *LRU[K, V]) Delete(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		c.lst.Remove(e)
		delete(c.dict, k)
	}
}

// DeleteFunc removes every entry whose key satisfies del.
func (c *LRU[K, V]) DeleteFunc(del func(K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.dict {
		if del(k) {
			c.lst.Remove(e)
			delete(c.dict, k)
		}
	}
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}

type memKey struct{ ns, key string }

// MemoryStore is a process-local Store, used for tests and cache-less runs.
type MemoryStore struct {
	lru *LRU[memKey, []byte]
}

// NewMemory returns a MemoryStore bounded to capacity entries (unbounded when <= 0).
func NewMemory(capacity int) *MemoryStore {
	return &MemoryStore{lru: NewLRU[memKey, []byte](capacity, 0)}
}

func (s *MemoryStore) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	v, ok := s.lru.Get(memKey{ns, key})
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, ns, key string, value []byte) error {
	s.lru.Set(memKey{ns, key}, value)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, ns, key string) error {
	s.lru.Delete(memKey{ns, key})
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, ns string) error {
	s.lru.DeleteFunc(func(k memKey) bool { return k.ns == ns })
	return nil
}

func (s *MemoryStore) Close() error { return nil }
