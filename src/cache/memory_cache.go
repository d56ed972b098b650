package cache

import (
	"bytes"
	"container/list"
	"context"
	"sync"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// MemoryCache is a bounded FIFO: once capacity is reached the oldest
// inserted entry is evicted. Overwriting a key keeps its original position.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = oldest
	entries  map[string]*list.Element
}

type memoryEntry struct {
	key        string
	completion *models.Completion
}

func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*models.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return cloneCompletion(el.Value.(*memoryEntry).completion), nil
}

func (c *MemoryCache) Set(_ context.Context, key string, completion *models.Completion) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := cloneCompletion(completion)
	if el, ok := c.entries[key]; ok {
		el.Value.(*memoryEntry).completion = cp
		return nil
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryEntry).key)
	}

	c.entries[key] = c.order.PushBack(&memoryEntry{key: key, completion: cp})
	return nil
}

// cloneCompletion copies the image bytes too, so callers never share a
// backing array with the cache.
func cloneCompletion(completion *models.Completion) *models.Completion {
	cp := *completion
	cp.Image = bytes.Clone(completion.Image)
	return &cp
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	return nil
}
