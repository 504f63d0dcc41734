// Package proxypool selects outbound proxies for extraction and tracks their
// health in the shared cache, so every API and worker process sees the same
// failure counts.
package proxypool

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/tubetext/tubetext/internal/keys"
)

// failureTTL caps how long failure state survives without new failures.
const failureTTL = 24 * time.Hour

// Proxy is one entry in the pool.
type Proxy struct {
	URL string
	ID  string
}

// Counters is the health-state backend, keyed by proxy ID. Implemented by
// rediscache.Cache in production.
type Counters interface {
	GetString(ctx context.Context, key string) (string, bool)
	SetString(ctx context.Context, key, value string, ttl time.Duration)
	Incr(ctx context.Context, key string, n int64) int64
	Delete(ctx context.Context, key string) bool
}

// Pool holds the configured proxy list and its health backend.
type Pool struct {
	proxies     []Proxy
	counters    Counters
	cooldown    time.Duration
	maxFailures int
	log         *slog.Logger
	now         func() time.Time
}

// New builds a Pool from a comma-separated URL list. auth, when set, is
// injected as userinfo into entries that carry none. An empty URL list
// yields a pool whose Choose always returns nil (direct connections only).
func New(urlList, auth string, cooldown time.Duration, maxFailures int, counters Counters, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	var proxies []Proxy
	for _, raw := range strings.Split(urlList, ",") {
		u := normalizeURL(raw, auth)
		if u == "" {
			continue
		}
		proxies = append(proxies, Proxy{URL: u, ID: keys.ProxyID(u)})
	}
	return &Pool{
		proxies:     proxies,
		counters:    counters,
		cooldown:    cooldown,
		maxFailures: maxFailures,
		log:         log,
		now:         time.Now,
	}
}

// normalizeURL trims the entry, defaults the scheme to http, and injects
// shared credentials when the URL has no userinfo of its own.
func normalizeURL(raw, auth string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	if auth != "" && !strings.Contains(u, "@") {
		scheme, rest, ok := strings.Cut(u, "://")
		if ok {
			u = scheme + "://" + auth + "@" + rest
		}
	}
	return u
}

// Size returns the number of configured proxies.
func (p *Pool) Size() int { return len(p.proxies) }

// Choose returns an available proxy, or nil when the pool is empty. The list
// is shuffled so load spreads across healthy entries. When every proxy is in
// cooldown a random one is returned anyway; a degraded proxy beats none.
func (p *Pool) Choose(ctx context.Context) *Proxy {
	if len(p.proxies) == 0 {
		return nil
	}
	shuffled := make([]Proxy, len(p.proxies))
	copy(shuffled, p.proxies)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	for i := range shuffled {
		if p.isAvailable(ctx, &shuffled[i]) {
			return &shuffled[i]
		}
	}
	pick := shuffled[rand.Intn(len(shuffled))]
	p.log.Warn("all proxies in cooldown, choosing at random", "proxy_id", pick.ID)
	return &pick
}

// isAvailable applies the cooldown rule: under the failure ceiling a proxy is
// always usable; above it the cooldown scales linearly with failure count.
func (p *Pool) isAvailable(ctx context.Context, proxy *Proxy) bool {
	fails := p.failures(ctx, proxy)
	if fails < p.maxFailures {
		return true
	}
	raw, ok := p.counters.GetString(ctx, keys.ProxyLastFailure(proxy.ID))
	if !ok {
		return true
	}
	last, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return true
	}
	multiplier := fails
	if multiplier < 1 {
		multiplier = 1
	}
	cooldown := p.cooldown * time.Duration(multiplier)
	elapsed := p.now().Sub(time.Unix(0, int64(last*float64(time.Second))))
	return elapsed > cooldown
}

func (p *Pool) failures(ctx context.Context, proxy *Proxy) int {
	raw, ok := p.counters.GetString(ctx, keys.ProxyFails(proxy.ID))
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// MarkSuccess clears the proxy's failure state.
func (p *Pool) MarkSuccess(ctx context.Context, proxy *Proxy) {
	if proxy == nil {
		return
	}
	p.counters.Delete(ctx, keys.ProxyFails(proxy.ID))
	p.counters.Delete(ctx, keys.ProxyLastFailure(proxy.ID))
}

// MarkFailure bumps the failure count and stamps the failure time.
func (p *Pool) MarkFailure(ctx context.Context, proxy *Proxy) {
	if proxy == nil {
		return
	}
	p.counters.Incr(ctx, keys.ProxyFails(proxy.ID), 1)
	ts := strconv.FormatFloat(float64(p.now().UnixNano())/1e9, 'f', 6, 64)
	p.counters.SetString(ctx, keys.ProxyLastFailure(proxy.ID), ts, failureTTL)
}
