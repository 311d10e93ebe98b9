package session

import (
	"sync"
	"time"
)

type Limits struct {
	PerDay    int
	PerHour   int
	PerMinute int
}

type window struct {
	size  time.Duration
	limit int
	start time.Time
	count int
}

// Limiter is a process-wide fixed-window limiter over several windows at once.
// A request is admitted only if every window has room, and then counts in all of them.
type Limiter struct {
	now func() time.Time

	mu      sync.Mutex
	windows []*window
}

func NewLimiter(l Limits, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}

	lim := &Limiter{now: now}
	for _, w := range []struct {
		size  time.Duration
		limit int
	}{
		{24 * time.Hour, l.PerDay},
		{time.Hour, l.PerHour},
		{time.Minute, l.PerMinute},
	} {
		if w.limit > 0 {
			lim.windows = append(lim.windows, &window{size: w.size, limit: w.limit})
		}
	}
	return lim
}

func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, w := range l.windows {
		if start := now.Truncate(w.size); !start.Equal(w.start) {
			w.start = start
			w.count = 0
		}
		if w.count >= w.limit {
			return false
		}
	}

	for _, w := range l.windows {
		w.count++
	}
	return true
}
