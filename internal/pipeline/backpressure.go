package pipeline

import "sync"

// Controller is a counting semaphore bounding records in flight.
type Controller struct {
	capacity int64

	mu     sync.Mutex
	tokens int64
}

func NewController(capacity int64) *Controller {
	return &Controller{capacity: capacity, tokens: capacity}
}

func (c *Controller) TryAcquire(n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens < n {
		return false
	}
	c.tokens -= n
	return true
}

func (c *Controller) Release(n int64) {
	c.mu.Lock()
	c.tokens += n
	if c.tokens > c.capacity {
		c.tokens = c.capacity
	}
	c.mu.Unlock()
}

// InUse is the number of tokens currently held.
func (c *Controller) InUse() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity - c.tokens
}
