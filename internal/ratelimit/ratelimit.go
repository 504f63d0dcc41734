// Package ratelimit provides a Redis-backed token-bucket rate limiter keyed
// by (client IP, endpoint).
//
// SECURITY: the limiter FAILS CLOSED. When the store is unreachable every
// request is denied with remaining=0. Fail-open mode exists for development
// and must be enabled explicitly (RATE_LIMIT_FAIL_OPEN=true).
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tubetext/tubetext/internal/keys"
	"github.com/tubetext/tubetext/internal/metrics"
)

// bucketTTLSeconds is how long an idle bucket survives: one refill window
// plus a second of slack, so idle clients cost nothing.
const bucketTTLSeconds = 61

// connErrLogInterval throttles connection-error logging.
const connErrLogInterval = 60 * time.Second

// BucketStat describes one endpoint bucket for a client.
type BucketStat struct {
	Remaining      int `json:"remaining"`
	ResetInSeconds int `json:"reset_in_seconds"`
}

// Store is the storage backend for buckets. In production this is Redis
// (RedisStore); tests use an in-memory implementation.
type Store interface {
	// TakeToken runs the atomic token-bucket step for key: refill by elapsed
	// time, then spend cost if available. Returns the post-step token count.
	TakeToken(ctx context.Context, key string, now, capacity, refillPerSecond, cost float64, ttlSeconds int) (allowed bool, tokens float64, err error)
	// ResetClient deletes every bucket matching the client's key pattern.
	ResetClient(ctx context.Context, pattern string) (int, error)
	// ClientStats returns per-endpoint bucket state for the pattern.
	ClientStats(ctx context.Context, pattern string) (map[string]BucketStat, error)
}

// Result carries one rate-limit decision plus the response-header fields.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter performs token-bucket checks against a Store.
type Limiter struct {
	store    Store
	rpm      int
	burst    int
	capacity float64
	refill   float64 // tokens per second
	failOpen bool
	log      *slog.Logger

	mu          sync.Mutex
	lastConnLog time.Time
}

// New creates a Limiter. capacity = rpm + burst; refill = rpm/60 per second.
func New(store Store, rpm, burst int, failOpen bool, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{
		store:    store,
		rpm:      rpm,
		burst:    burst,
		capacity: float64(rpm + burst),
		refill:   float64(rpm) / 60.0,
		failOpen: failOpen,
		log:      log,
	}
}

// Check spends one token from the (clientIP, endpoint) bucket and reports the
// decision. On store failure the decision follows the fail-open/fail-closed
// policy; connection errors are logged at most once per minute.
func (l *Limiter) Check(ctx context.Context, clientIP, endpoint string) Result {
	key := keys.RateLimit(clientIP, endpoint)
	now := float64(time.Now().UnixNano()) / 1e9

	allowed, tokens, err := l.store.TakeToken(ctx, key, now, l.capacity, l.refill, 1, bucketTTLSeconds)
	if err != nil {
		if l.shouldLogConnError() {
			l.log.Error("rate limit store error",
				"error", err,
				"fail_open", l.failOpen,
				"client_ip", keys.HashIP(clientIP))
		}
		if l.failOpen {
			metrics.RateLimitDecisions.WithLabelValues("allow").Inc()
			return Result{Allowed: true, Limit: l.rpm, Remaining: l.rpm, ResetAt: time.Now().Add(time.Minute)}
		}
		metrics.RateLimitDecisions.WithLabelValues("deny").Inc()
		return Result{Allowed: false, Limit: l.rpm, Remaining: 0, ResetAt: time.Now().Add(time.Minute)}
	}

	remaining := int(math.Floor(tokens))
	if allowed {
		metrics.RateLimitDecisions.WithLabelValues("allow").Inc()
		return Result{
			Allowed:   true,
			Limit:     l.rpm,
			Remaining: remaining,
			ResetAt:   time.Now().Add(bucketTTLSeconds * time.Second),
		}
	}

	// Denied: estimate when the next token lands.
	wait := 1.0
	if l.refill > 0 {
		wait = math.Max(1.0/l.refill, 1.0)
	}
	metrics.RateLimitDecisions.WithLabelValues("deny").Inc()
	return Result{
		Allowed:   false,
		Limit:     l.rpm,
		Remaining: 0,
		ResetAt:   time.Now().Add(time.Duration(wait * float64(time.Second))),
	}
}

// Reset clears every bucket for a client IP.
func (l *Limiter) Reset(ctx context.Context, clientIP string) (int, error) {
	return l.store.ResetClient(ctx, "ratelimit:"+clientIP+":*")
}

// Stats returns per-endpoint bucket state for a client IP.
func (l *Limiter) Stats(ctx context.Context, clientIP string) (map[string]BucketStat, error) {
	return l.store.ClientStats(ctx, "ratelimit:"+clientIP+":*")
}

// RPM returns the configured requests-per-minute limit.
func (l *Limiter) RPM() int { return l.rpm }

// Burst returns the configured burst allowance.
func (l *Limiter) Burst() int { return l.burst }

func (l *Limiter) shouldLogConnError() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastConnLog) >= connErrLogInterval {
		l.lastConnLog = time.Now()
		return true
	}
	return false
}
