// Package ratelimit gates calls to the intelligent classifier and caches
// its answers.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

const (
	minute = time.Minute
	hour   = time.Hour
	day    = 24 * time.Hour
)

// Config holds the per-window ceilings.
type Config struct {
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
	MaxRequestsPerDay    int
}

// DefaultConfig returns conservative ceilings for the reasoning service.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerMinute: 50,
		MaxRequestsPerHour:   1000,
		MaxRequestsPerDay:    10000,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}

// Stats reports usage of each window.
type Stats struct {
	RequestsLastMinute int `json:"requests_last_minute"`
	RequestsLastHour   int `json:"requests_last_hour"`
	RequestsLastDay    int `json:"requests_last_day"`
	RemainingMinute    int `json:"remaining_minute"`
	RemainingHour      int `json:"remaining_hour"`
	RemainingDay       int `json:"remaining_day"`
}

// Limiter is a sliding-window admission controller over a log of request
// timestamps. The log is pruned lazily on every check.
type Limiter struct {
	mu  sync.Mutex
	cfg Config
	log []time.Time // ascending
	now func() time.Time
}

// NewLimiter creates a limiter. Zero ceilings are replaced with defaults.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = def.MaxRequestsPerMinute
	}
	if cfg.MaxRequestsPerHour <= 0 {
		cfg.MaxRequestsPerHour = def.MaxRequestsPerHour
	}
	if cfg.MaxRequestsPerDay <= 0 {
		cfg.MaxRequestsPerDay = def.MaxRequestsPerDay
	}
	return &Limiter{cfg: cfg, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

// CanMakeRequest reports whether a request would be admitted now. It does
// not record anything; pair it with LogRequest or use Allow.
func (l *Limiter) CanMakeRequest() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(l.now())
}

// LogRequest records a request at the current time.
func (l *Limiter) LogRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log = append(l.log, l.now())
}

// Allow checks admission and, when allowed, records the request in the
// same critical section so no two callers can both take the last slot.
func (l *Limiter) Allow() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	d := l.check(now)
	if d.Allowed {
		l.log = append(l.log, now)
	}
	return d
}

func (l *Limiter) check(now time.Time) Decision {
	l.prune(now)

	if l.countSince(now, minute) >= l.cfg.MaxRequestsPerMinute {
		return Decision{Reason: "max requests per minute exceeded", RetryAfter: minute}
	}
	if l.countSince(now, hour) >= l.cfg.MaxRequestsPerHour {
		return Decision{Reason: "max requests per hour exceeded", RetryAfter: hour}
	}
	if len(l.log) >= l.cfg.MaxRequestsPerDay {
		return Decision{Reason: "max requests per day exceeded", RetryAfter: day}
	}
	return Decision{Allowed: true}
}

// prune drops entries older than the largest window.
func (l *Limiter) prune(now time.Time) {
	cut := l.firstWithin(now, day)
	if cut > 0 {
		l.log = append(l.log[:0], l.log[cut:]...)
	}
}

// firstWithin returns the index of the first entry with now-ts < window.
func (l *Limiter) firstWithin(now time.Time, window time.Duration) int {
	return sort.Search(len(l.log), func(i int) bool {
		return now.Sub(l.log[i]) < window
	})
}

func (l *Limiter) countSince(now time.Time, window time.Duration) int {
	return len(l.log) - l.firstWithin(now, window)
}

// Stats returns current window usage.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	m := l.countSince(now, minute)
	h := l.countSince(now, hour)
	d := len(l.log)
	return Stats{
		RequestsLastMinute: m,
		RequestsLastHour:   h,
		RequestsLastDay:    d,
		RemainingMinute:    l.cfg.MaxRequestsPerMinute - m,
		RemainingHour:      l.cfg.MaxRequestsPerHour - h,
		RemainingDay:       l.cfg.MaxRequestsPerDay - d,
	}
}

// Reset forgets every logged request.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.log = nil
	l.mu.Unlock()
}
