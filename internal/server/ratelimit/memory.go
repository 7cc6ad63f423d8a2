package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// memoryLimiter keeps one token bucket per client key in memory. Buckets that
// have been idle for two windows are dropped by a background sweep.
type memoryLimiter struct {
	cfg   Config
	limit rate.Limit

	mu      sync.Mutex
	clients map[string]*client

	stopOnce sync.Once
	stopCh   chan struct{}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-memory per-key limiter. The bucket holds
// cfg.Requests tokens and refills completely once per cfg.Window.
func NewMemoryLimiter(cfg Config) Stoppable {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	l := &memoryLimiter{
		cfg:     cfg,
		limit:   rate.Limit(float64(cfg.Requests) / window.Seconds()),
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
	go l.sweep(window * 2)
	return l
}

func (l *memoryLimiter) Allow(key string) bool {
	if !l.cfg.Enabled {
		return true
	}

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.cfg.Requests)}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.limiter.Allow()
}

func (l *memoryLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.clients, key)
	l.mu.Unlock()
}

func (l *memoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *memoryLimiter) sweep(idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-idle)
			l.mu.Lock()
			for key, c := range l.clients {
				if c.lastSeen.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}
