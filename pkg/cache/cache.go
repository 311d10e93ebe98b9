package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key     K
	value   V
	created time.Time
}

// Cache is a bounded LRU map whose entries expire ttl after they were last set.
// Expired entries are dropped lazily by Get or in bulk by Sweep.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	order *list.List // front = least recently used
	items map[K]*list.Element
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New[K comparable, V any](capacity int, ttl time.Duration, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if capacity < 1 {
		capacity = 1
	}

	return &Cache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		now:      o.now,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V

	el, ok := c.items[key]
	if !ok {
		return zero, false
	}

	e := el.Value.(*entry[K, V])
	if c.expired(e) {
		c.remove(el)
		return zero, false
	}

	c.order.MoveToBack(el)
	return e.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.created = c.now()
		c.order.MoveToBack(el)
		return
	}

	if c.order.Len() >= c.capacity {
		if front := c.order.Front(); front != nil {
			c.remove(front)
		}
	}

	c.items[key] = c.order.PushBack(&entry[K, V]{
		key:     key,
		value:   value,
		created: c.now(),
	})
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
}

func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	clear(c.items)
}

// Sweep drops every expired entry and reports how many were removed.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry[K, V])) {
			c.remove(el)
			n++
		}
		el = next
	}

	return n
}

// Len counts entries including expired ones not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Contains reports presence without touching recency or expiry.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	return c.now().Sub(e.created) > c.ttl
}

func (c *Cache[K, V]) remove(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
}
