package ratelimiter

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter.
type Config struct {
	// RequestsPerSecond is the sustained rate granted to each client.
	// Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the bucket capacity of each client. Values below 1 are
	// raised to 1 so a limited client can make progress at all.
	Burst int

	// IdleTTL is how long an unused client bucket is kept before Sweep
	// drops it. Default: 10 minutes.
	IdleTTL time.Duration
}

// Limiter provides per-client request rate limiting using token buckets.
//
// This implementation wraps golang.org/x/time/rate to provide:
//   - One token bucket per client key (typically the remote IP)
//   - Context-aware waiting (respects cancellation)
//   - Eviction of idle buckets so memory stays bounded by active clients
//
// The token bucket algorithm works as follows:
//  1. Tokens are added to a client's bucket at a constant rate
//  2. Each request consumes one token from the bucket
//  3. If the bucket is empty, the request is either rejected or waits
//  4. Burst capacity allows temporary spikes above the sustained rate
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter from cfg.
//
// Example:
//
//	// Allow 20 req/s sustained per client, bursts of 40
//	limiter := New(Config{RequestsPerSecond: 20, Burst: 40})
func New(cfg Config) *Limiter {
	l := &Limiter{
		limit:   rate.Inf,
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		clients: make(map[string]*client),
	}
	if cfg.RequestsPerSecond > 0 {
		l.limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if l.burst < 1 {
		l.burst = 1
	}
	if l.idleTTL <= 0 {
		l.idleTTL = 10 * time.Minute
	}
	return l
}

// Unlimited reports whether the limiter lets every request through.
func (l *Limiter) Unlimited() bool {
	return l.limit == rate.Inf
}

func (l *Limiter) bucket(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Allow reports whether the client identified by key may make a request
// now, consuming a token when it may.
//
// This is the fast path: it never waits. Use it to reject requests that
// exceed the limit.
func (l *Limiter) Allow(key string) bool {
	if l.Unlimited() {
		return true
	}
	return l.bucket(key, time.Now()).Allow()
}

// Wait blocks until the client identified by key gets a token or ctx is
// done.
//
// Returns:
//   - nil if a token was acquired
//   - an error if the context was cancelled first, or if the wait would
//     outlast the context deadline
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l.Unlimited() {
		return ctx.Err()
	}
	return l.bucket(key, time.Now()).Wait(ctx)
}

// RetryAfter returns how long the client should wait before its next
// request can succeed. It reserves and immediately cancels a token, so it
// does not consume anything.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if l.Unlimited() {
		return 0
	}
	r := l.bucket(key, time.Now()).Reserve()
	defer r.Cancel()
	return r.Delay()
}

// Sweep drops buckets unused since now minus the idle TTL and returns how
// many were dropped.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idleTTL {
			delete(l.clients, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Run sweeps idle buckets every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// RemoteIP keys requests by the host part of RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429 Too Many Requests and
// a Retry-After header. keyFn identifies the client; nil means RemoteIP.
func (l *Limiter) Middleware(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = RemoteIP
	}

	return func(next http.Handler) http.Handler {
		if l.Unlimited() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if !l.Allow(key) {
				secs := int(math.Ceil(l.RetryAfter(key).Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
