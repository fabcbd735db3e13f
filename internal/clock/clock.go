// Package clock implements the Lamport logical clock stamped on every
// envelope a node or the registry sends.
package clock

import (
	"sync"
	"time"
)

type Lamport struct {
	mu sync.Mutex
	t  int
}

// Tick advances the clock before a send and returns the new value.
func (c *Lamport) Tick() int {
	c.mu.Lock()
	c.t++
	v := c.t
	c.mu.Unlock()
	return v
}

// Observe merges a received clock value: max(local, recv) + 1.
func (c *Lamport) Observe(recv int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if recv > c.t {
		c.t = recv
	}
	c.t++
	return c.t
}

func (c *Lamport) Now() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// NowISO is the wall-clock timestamp format used on the wire.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
