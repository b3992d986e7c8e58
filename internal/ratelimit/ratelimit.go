// Package ratelimit wraps golang.org/x/time/rate for the two places
// ringbus needs to cap how often something happens: a replication
// bridge's outbound datagram rate, and how often a malformed-datagram
// warning gets logged. Adapted from the connection rate limiter the
// teacher's websocket server used to throttle incoming connections.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a single token-bucket limiter with a sustained rate and a
// burst allowance.
type Limiter struct {
	rl *rate.Limiter
}

// New builds a Limiter allowing perSecond sustained events with burst
// headroom for short spikes.
func New(perSecond float64, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether an event may proceed right now without blocking.
func (l *Limiter) Allow() bool { return l.rl.Allow() }

// Wait blocks until an event may proceed.
func (l *Limiter) Wait(ctx context.Context) error { return l.rl.Wait(ctx) }

// KeyedLimiter holds one Limiter per key (e.g. per topic, per error
// kind), lazily created, so unrelated keys never throttle each other.
// Stale keys are swept on a TTL so long-running bridges don't leak
// limiters for topics that stopped replicating.
type KeyedLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*keyedEntry
	perSecond float64
	burst     int
	ttl       time.Duration
	stop      chan struct{}
}

type keyedEntry struct {
	limiter    *Limiter
	lastAccess time.Time
}

// NewKeyed builds a KeyedLimiter and starts its background sweep of
// entries idle longer than ttl.
func NewKeyed(perSecond float64, burst int, ttl time.Duration) *KeyedLimiter {
	k := &KeyedLimiter{
		limiters:  make(map[string]*keyedEntry),
		perSecond: perSecond,
		burst:     burst,
		ttl:       ttl,
		stop:      make(chan struct{}),
	}
	go k.sweepLoop()
	return k
}

// Allow reports whether an event keyed by key may proceed now.
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	entry, ok := k.limiters[key]
	if !ok {
		entry = &keyedEntry{limiter: New(k.perSecond, k.burst)}
		k.limiters[key] = entry
	}
	entry.lastAccess = time.Now()
	k.mu.Unlock()
	return entry.limiter.Allow()
}

func (k *KeyedLimiter) sweepLoop() {
	ticker := time.NewTicker(k.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.sweep()
		}
	}
}

func (k *KeyedLimiter) sweep() {
	cutoff := time.Now().Add(-k.ttl)
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, entry := range k.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(k.limiters, key)
		}
	}
}

// Close stops the background sweep.
func (k *KeyedLimiter) Close() { close(k.stop) }
