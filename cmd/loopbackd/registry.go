package main

import (
	"sync"

	"loopbackd/factory"
)

// demoCounter is the stock singleton registered under "demo:counter",
// useful for exercising the daemon without writing a Go program: it
// has no dependencies and its state is trivially observable over the
// wire.
type demoCounter struct {
	mu    sync.Mutex
	value int64
}

func (c *demoCounter) Inc() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

func (c *demoCounter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *demoCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = 0
}

func newFactoryRegistry() *factory.Registry {
	reg := factory.NewRegistry()
	reg.Register("demo:counter", func(args ...any) (any, error) {
		return &demoCounter{}, nil
	})
	return reg
}
