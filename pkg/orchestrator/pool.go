package orchestrator

import "context"

// Pool bounds the number of concurrently executing steps across all flow
// executions sharing it
type Pool struct {
	sem chan struct{}
}

// NewPool creates a worker pool with the given capacity
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 32
	}
	return &Pool{
		sem: make(chan struct{}, size),
	}
}

// Acquire blocks until a worker slot is free or the context is done
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a worker slot to the pool
func (p *Pool) Release() {
	<-p.sem
}
