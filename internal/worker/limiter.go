package worker

import (
	"math"
	"sync"
	"time"
)

// Decision is the outcome of an admission check
type Decision struct {
	Allowed bool

	// RetryAfter is how long until the oldest retained request leaves the window (denied only)
	RetryAfter time.Duration

	// Remaining is the budget left in the current window after this check
	Remaining int
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds (at least 1 when denied)
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter implements per-client sliding-window admission control.
// One mutex guards the whole map so that two concurrent checks for the
// same key can never both be admitted past capacity.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	capacity int
	window   time.Duration
	now      func() time.Time
}

// NewLimiter creates a limiter admitting capacity requests per window and key
func NewLimiter(capacity int, window time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		windows:  make(map[string][]time.Time),
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Admit records a request for key if the window has room
func (l *Limiter) Admit(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	retained := l.prune(key, now)

	if len(retained) >= l.capacity {
		return Decision{
			Allowed:    false,
			RetryAfter: retained[0].Add(l.window).Sub(now),
			Remaining:  0,
		}
	}

	retained = append(retained, now)
	l.windows[key] = retained

	return Decision{
		Allowed:   true,
		Remaining: l.capacity - len(retained),
	}
}

// Remaining reports the budget left for key without recording a request
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.capacity - len(l.prune(key, l.now()))
}

// Capacity returns the per-key request budget
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Window returns the sliding window duration
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Sweep drops keys with no request inside the window and returns how many were removed
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key := range l.windows {
		if len(l.prune(key, now)) == 0 {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Keys returns the number of tracked clients
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// prune drops timestamps that have left the window. Caller holds mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	stamps := l.windows[key]
	cut := 0
	for cut < len(stamps) && now.Sub(stamps[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		stamps = append(stamps[:0], stamps[cut:]...)
		l.windows[key] = stamps
	}
	return stamps
}
