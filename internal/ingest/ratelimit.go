package ingest

import (
	"context"
	"sync"
	"time"
)

type RateLimitConfig struct {
	Window          time.Duration
	MaxRequests     int
	BatchMultiplier int
}

func (c *RateLimitConfig) withDefaults() {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MaxRequests < 1 {
		c.MaxRequests = 100
	}
	if c.BatchMultiplier < 1 {
		c.BatchMultiplier = 10
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type tenantWindow struct {
	count       int
	windowStart time.Time
	lastTouched time.Time
}

// RateLimiter enforces a fixed-window quota per tenant: the counter resets
// entirely when the window elapses, it never slides. State is owned by the
// limiter instance, not package-level.
type RateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	windows map[string]*tenantWindow

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg.withDefaults()
	return &RateLimiter{
		cfg:     cfg,
		windows: make(map[string]*tenantWindow),
	}
}

// Allow admits one single-event submission for the tenant.
func (l *RateLimiter) Allow(tenantID string) Decision {
	return l.admit(tenantID, l.cfg.MaxRequests)
}

// AllowBatchItem admits one event arriving via the batch endpoint. Batch
// callers share the tenant's counter but check against a multiplied ceiling,
// so a large batch cannot starve single-event callers of the base quota.
func (l *RateLimiter) AllowBatchItem(tenantID string) Decision {
	return l.admit(tenantID, l.cfg.MaxRequests*l.cfg.BatchMultiplier)
}

func (l *RateLimiter) admit(tenantID string, ceiling int) Decision {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[tenantID]
	if !ok {
		w = &tenantWindow{windowStart: now}
		l.windows[tenantID] = w
	}
	w.lastTouched = now

	if now.Sub(w.windowStart) >= l.cfg.Window {
		w.count = 0
		w.windowStart = now
	}

	if w.count >= ceiling {
		return Decision{
			Allowed:    false,
			RetryAfter: w.windowStart.Add(l.cfg.Window).Sub(now),
		}
	}

	w.count++
	return Decision{Allowed: true, Remaining: ceiling - w.count}
}

// StartSweeper periodically drops windows untouched for two full windows.
func (l *RateLimiter) StartSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(l.cfg.Window)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep(time.Now())
			}
		}
	}()
}

func (l *RateLimiter) StopSweeper() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *RateLimiter) sweep(now time.Time) {
	idle := 2 * l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	for tenant, w := range l.windows {
		if now.Sub(w.lastTouched) >= idle {
			delete(l.windows, tenant)
		}
	}
}

func (l *RateLimiter) trackedTenants() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
