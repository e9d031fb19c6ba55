package orchestrator

import (
	"sync"
	"time"
)

// executionCache retains finished executions for later retrieval, evicting
// entries older than the retention window
type executionCache struct {
	mu        sync.RWMutex
	items     map[string]*Execution
	retention time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

func newExecutionCache(retention time.Duration) *executionCache {
	c := &executionCache{
		items:     make(map[string]*Execution),
		retention: retention,
		stop:      make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *executionCache) put(exec *Execution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[exec.ID] = exec
}

func (c *executionCache) get(id string) (*Execution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exec, ok := c.items[id]
	return exec, ok
}

func (c *executionCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-c.retention)
			c.mu.Lock()
			for id, exec := range c.items {
				if !exec.FinishedAt.IsZero() && exec.FinishedAt.Before(cutoff) {
					delete(c.items, id)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func (c *executionCache) close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
