package memory

import "container/list"

type lruItem[K comparable, V any] struct {
	key K
	val V
}

// lru is a fixed-capacity least-recently-used map. Not safe for concurrent
// use; owners guard it with their own lock.
type lru[K comparable, V any] struct {
	capacity int
	ll       *list.List
	items    map[K]*list.Element
}

func newLRU[K comparable, V any](capacity int) *lru[K, V] {
	return &lru[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element),
	}
}

// Get returns the value for k and marks it most recently used.
func (c *lru[K, V]) Get(k K) (V, bool) {
	if el, ok := c.items[k]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*lruItem[K, V]).val, true
	}
	var zero V
	return zero, false
}

// Peek returns the value for k without touching recency.
func (c *lru[K, V]) Peek(k K) (V, bool) {
	if el, ok := c.items[k]; ok {
		return el.Value.(*lruItem[K, V]).val, true
	}
	var zero V
	return zero, false
}

// Add inserts or replaces k and returns how many entries were evicted.
func (c *lru[K, V]) Add(k K, v V) int {
	if el, ok := c.items[k]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*lruItem[K, V]).val = v
		return 0
	}
	c.items[k] = c.ll.PushFront(&lruItem[K, V]{key: k, val: v})
	evicted := 0
	for c.capacity > 0 && c.ll.Len() > c.capacity {
		c.removeElement(c.ll.Back())
		evicted++
	}
	return evicted
}

func (c *lru[K, V]) Touch(k K) {
	if el, ok := c.items[k]; ok {
		c.ll.MoveToFront(el)
	}
}

func (c *lru[K, V]) Remove(k K) {
	if el, ok := c.items[k]; ok {
		c.removeElement(el)
	}
}

func (c *lru[K, V]) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*lruItem[K, V]).key)
}

func (c *lru[K, V]) Len() int { return c.ll.Len() }

// Each walks entries from most to least recently used until fn returns false.
// fn must not modify the cache.
func (c *lru[K, V]) Each(fn func(k K, v V) bool) {
	for el := c.ll.Front(); el != nil; el = el.Next() {
		it := el.Value.(*lruItem[K, V])
		if !fn(it.key, it.val) {
			return
		}
	}
}

// RemoveIf deletes every entry matching pred and returns the count.
func (c *lru[K, V]) RemoveIf(pred func(k K, v V) bool) int {
	n := 0
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		it := el.Value.(*lruItem[K, V])
		if pred(it.key, it.val) {
			c.removeElement(el)
			n++
		}
		el = next
	}
	return n
}
