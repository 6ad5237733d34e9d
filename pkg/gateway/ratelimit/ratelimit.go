package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int

	// Bounds for the in-memory client map (single process only).
	MaxEntries int
	EntryTTL   time.Duration
}

// Limiter applies a token bucket and a concurrency cap per client key.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	mu sync.Mutex

	tb       tokenBucket
	inflight chan struct{}
	lastSeen time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
	primed bool
}

// Reason labels why a request was rejected.
type Reason string

const (
	ReasonRPS         Reason = "rps"
	ReasonConcurrency Reason = "concurrency"
)

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientLimiter),
	}
}

// Enabled reports whether any limit is configured.
func (l *Limiter) Enabled() bool {
	if l == nil {
		return false
	}
	return (l.cfg.RPS > 0 && l.cfg.Burst > 0) || l.cfg.MaxConcurrentRequests > 0
}

func KeyFromIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return "ip_" + hex.EncodeToString(sum[:12])
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	Reason     Reason
	RetryAfter int
	Permit     *Permit
}

func (l *Limiter) AcquireRequest(key string, now time.Time) Decision {
	if key == "" {
		key = "anonymous"
	}

	cl := l.client(key, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if ok, retryAfter := cl.take(now, l.cfg.RPS, float64(l.cfg.Burst)); !ok {
			return Decision{Reason: ReasonRPS, RetryAfter: retryAfter}
		}
	}

	if l.cfg.MaxConcurrentRequests > 0 {
		select {
		case cl.inflight <- struct{}{}:
			return Decision{
				Allowed: true,
				Permit:  &Permit{release: func() { <-cl.inflight }},
			}
		default:
			return Decision{Reason: ReasonConcurrency, RetryAfter: 1}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{}}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) client(key string, now time.Time) *clientLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cl, ok := l.clients[key]; ok {
		cl.lastSeen = now
		return cl
	}

	if len(l.clients) >= l.cfg.MaxEntries {
		for k, v := range l.clients {
			if now.Sub(v.lastSeen) > l.cfg.EntryTTL {
				delete(l.clients, k)
			}
		}
		// Still full: evict one arbitrary entry to keep memory bounded.
		if len(l.clients) >= l.cfg.MaxEntries {
			for k := range l.clients {
				delete(l.clients, k)
				break
			}
		}
	}

	cl := &clientLimiter{
		inflight: make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
		lastSeen: now,
	}
	l.clients[key] = cl
	return cl
}

func (cl *clientLimiter) take(now time.Time, rps, capacity float64) (bool, int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if !cl.tb.primed {
		cl.tb = tokenBucket{tokens: capacity, last: now, primed: true}
	}

	if elapsed := now.Sub(cl.tb.last).Seconds(); elapsed > 0 {
		cl.tb.tokens = math.Min(capacity, cl.tb.tokens+elapsed*rps)
		cl.tb.last = now
	}

	if cl.tb.tokens >= 1.0 {
		cl.tb.tokens -= 1.0
		return true, 0
	}

	retryAfter := int(math.Ceil((1.0 - cl.tb.tokens) / rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
