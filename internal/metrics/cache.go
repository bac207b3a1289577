package metrics

import "sync"

// Cache holds the latest sample per server id.
type Cache struct {
	mu      sync.RWMutex
	samples map[string]*Sample
}

func NewCache() *Cache {
	return &Cache{samples: make(map[string]*Sample)}
}

// Put stores a copy of s for serverID, replacing any previous sample.
func (c *Cache) Put(serverID string, s *Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[serverID] = s.clone()
}

// Get returns a copy of the cached sample for serverID.
func (c *Cache) Get(serverID string) (*Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.samples[serverID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Delete drops the sample for serverID.
func (c *Cache) Delete(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.samples, serverID)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}
