package executor

import (
	"sync"
)

// Container owns the executors of one node and starts and stops them together.
type Container struct {
	mu        sync.Mutex
	executors map[string]Executor
}

func NewContainer() *Container {
	return &Container{
		executors: make(map[string]Executor),
	}
}

func (c *Container) Register(name string, ex Executor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executors[name] = ex
}

func (c *Container) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ex := range c.executors {
		ex.Start()
	}
}

func (c *Container) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ex := range c.executors {
		ex.Stop()
	}
}

func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.executors)
}
