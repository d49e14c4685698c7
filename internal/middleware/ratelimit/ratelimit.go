// Package ratelimit throttles write requests per client with fixed
// one-minute windows.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const window = time.Minute

// Config tunes a Limiter. Zero values select DefaultConfig.
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration // how often idle clients are swept
	IdleTimeout       time.Duration // clients idle this long are forgotten
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		CleanupInterval:   5 * time.Minute,
		IdleTimeout:       10 * time.Minute,
	}
}

// Limiter counts requests per client key. A window opens on the first
// request after the previous one expired; rejected requests do not extend it.
type Limiter struct {
	cfg  Config
	now  func() time.Time
	hits atomic.Int64

	mu      sync.Mutex
	clients map[string]*counter

	done     chan struct{}
	stopOnce sync.Once
}

type counter struct {
	opened time.Time
	seen   time.Time
	n      int
}

// NewLimiter starts a limiter and its background sweeper. Call Stop to
// release the sweeper.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	rl := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		clients: make(map[string]*counter),
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow records one request from key and reports whether it fits the
// current window.
func (rl *Limiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[key]
	if !ok || now.Sub(c.opened) >= window {
		rl.clients[key] = &counter{opened: now, seen: now, n: 1}
		return true
	}
	c.n++
	c.seen = now
	if c.n <= rl.cfg.RequestsPerMinute {
		return true
	}
	rl.hits.Add(1)
	return false
}

func (rl *Limiter) sweepLoop() {
	t := time.NewTicker(rl.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rl.sweep()
		case <-rl.done:
			return
		}
	}
}

func (rl *Limiter) sweep() {
	cutoff := rl.now().Add(-rl.cfg.IdleTimeout)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if c.seen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// ActiveClients is the number of tracked client keys.
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends the sweeper. Safe to call more than once.
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

type Metrics struct {
	TotalHits   int64 // rejected requests
	ClientCount int64
}

func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{TotalHits: rl.hits.Load(), ClientCount: int64(rl.ActiveClients())}
}

// Middleware rejects requests over the limit. keyOf derives the client key,
// usually its IP; onLimit writes the rejection, or a plain 429 when nil.
func (rl *Limiter) Middleware(keyOf func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	if onLimit == nil {
		onLimit = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(keyOf(r)) {
				onLimit(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
