package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines the outbound request budget for a WattTime account.
type Config struct {
	RequestsPerSecond int
	Burst             int
}

// Limiter implements a token bucket. WattTime enforces a rolling request
// budget per token, so the poller, backfill jobs, and cache-miss reads all
// draw from a shared Limiter for their account.
type Limiter struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64
	burst  float64
}

// New creates a limiter with a full bucket.
func New(cfg Config) *Limiter {
	return &Limiter{
		tokens: float64(cfg.Burst),
		last:   time.Now(),
		rate:   float64(cfg.RequestsPerSecond),
		burst:  float64(cfg.Burst),
	}
}

// Allow reports whether a call may proceed now, consuming a token if so.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// refill credits tokens for the elapsed time since the last touch.
// Caller holds mu.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}

// delay returns how long until the next token becomes available.
func (l *Limiter) delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	if l.tokens >= 1 || l.rate <= 0 {
		return 0
	}
	deficit := 1 - l.tokens
	return time.Duration(deficit / l.rate * float64(time.Second))
}

// Wait blocks until a token becomes available or the context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		d := l.delay()
		if d < 10*time.Millisecond {
			d = 10 * time.Millisecond
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Manager holds per-account limiters so pollers for different WattTime
// accounts do not compete for one budget.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

func (m *Manager) GetLimiter(account string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[account]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[account]; ok {
		return lim
	}
	lim := New(m.defaults)
	m.limiters[account] = lim
	return lim
}

// Wait enforces the budget for a given account.
func (m *Manager) Wait(ctx context.Context, account string) error {
	return m.GetLimiter(account).Wait(ctx)
}
