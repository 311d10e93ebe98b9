package session

import (
	"sync"
	"time"
)

const staleCall = time.Hour

type call struct {
	warned bool
	seen   time.Time
}

// calls remembers per-call flags between webhook turns.
type calls struct {
	now func() time.Time

	mu    sync.Mutex
	bySID map[string]*call
}

func newCalls(now func() time.Time) *calls {
	return &calls{now: now, bySID: map[string]*call{}}
}

func (c *calls) get(sid string) *call {
	now := c.now()
	for k, v := range c.bySID {
		if now.Sub(v.seen) > staleCall {
			delete(c.bySID, k)
		}
	}

	cl, ok := c.bySID[sid]
	if !ok {
		cl = &call{}
		c.bySID[sid] = cl
	}
	cl.seen = now
	return cl
}

// warn reports true exactly once per call, when elapsed is in [from, until).
func (c *calls) warn(sid string, elapsed, from, until time.Duration) bool {
	if elapsed < from || elapsed >= until {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cl := c.get(sid)
	if cl.warned {
		return false
	}
	cl.warned = true
	return true
}

func (c *calls) end(sid string) {
	c.mu.Lock()
	delete(c.bySID, sid)
	c.mu.Unlock()
}

func (c *calls) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bySID)
}
