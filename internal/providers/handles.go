package providers

import "sync"

// HandleKey identifies a cached model handle.
type HandleKey struct {
	ModelID      string
	Quantization string
	Adapter      string
}

// HandleCache is a process-global map of expensive model handles. Handles are
// built once per key and shared; Evict releases a handle explicitly.
type HandleCache struct {
	mu      sync.Mutex
	handles map[HandleKey]Model
}

func NewHandleCache() *HandleCache {
	return &HandleCache{handles: make(map[HandleKey]Model)}
}

// Get returns the cached handle for key, building it on first use.
func (c *HandleCache) Get(key HandleKey, build func() (Model, error)) (Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.handles[key]; ok {
		return m, nil
	}
	m, err := build()
	if err != nil {
		return nil, err
	}
	c.handles[key] = m
	return m, nil
}

// Evict drops the handle for key, if present.
func (c *HandleCache) Evict(key HandleKey) {
	c.mu.Lock()
	delete(c.handles, key)
	c.mu.Unlock()
}
