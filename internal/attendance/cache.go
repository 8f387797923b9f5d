package attendance

import "sync"

// Entry is a full class-month snapshot as fetched; partial entries are never
// stored.
type Entry struct {
	ClassAttendance ClassAttendance
	WorkingDays     int
}

// Cache maps FilterSet keys to fetched entries. There is no TTL; writers
// invalidate explicitly.
type Cache interface {
	Get(key string) (Entry, bool)
	Put(key string, e Entry)
	Invalidate(key string)
	Clear()
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return Entry{ClassAttendance: e.ClassAttendance.clone(), WorkingDays: e.WorkingDays}, true
}

func (c *MemoryCache) Put(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{ClassAttendance: e.ClassAttendance.clone(), WorkingDays: e.WorkingDays}
}

func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// NopCache never holds anything.
type NopCache struct{}

func (NopCache) Get(string) (Entry, bool) { return Entry{}, false }
func (NopCache) Put(string, Entry)        {}
func (NopCache) Invalidate(string)        {}
func (NopCache) Clear()                   {}
