package ratelimiter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew verifies limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		unlimited bool
	}{
		{name: "standard rate", cfg: Config{RequestsPerSecond: 100, Burst: 200}},
		{name: "fractional rate", cfg: Config{RequestsPerSecond: 0.5, Burst: 1}},
		{name: "zero burst raised", cfg: Config{RequestsPerSecond: 1}},
		{name: "unlimited (zero rate)", cfg: Config{}, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.cfg)
			require.NotNil(t, l)
			assert.Equal(t, tt.unlimited, l.Unlimited())
			assert.GreaterOrEqual(t, l.burst, 1)
		})
	}
}

// TestAllow verifies that buckets are per client.
func TestAllow(t *testing.T) {
	l := New(Config{RequestsPerSecond: 10, Burst: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("a"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("a"), "burst exhausted")
	assert.True(t, l.Allow("b"), "other clients are unaffected")
	assert.Equal(t, 2, l.Len())

	// 100ms replenishes one token at 10 req/s
	time.Sleep(110 * time.Millisecond)
	assert.True(t, l.Allow("a"))
}

// TestWaitContextCancellation verifies that Wait respects cancellation.
func TestWaitContextCancellation(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "a"), "next token is 10s away")
}

func TestUnlimited(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 10000; i++ {
		require.True(t, l.Allow("a"))
	}
	assert.Zero(t, l.RetryAfter("a"))
	assert.Zero(t, l.Len(), "unlimited limiters track no clients")
}

func TestSweep(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})
	l.Allow("a")
	l.Allow("b")

	assert.Zero(t, l.Sweep(time.Now()))
	assert.Equal(t, 2, l.Sweep(time.Now().Add(2*time.Minute)))
	assert.Zero(t, l.Len())
}

func TestMiddleware(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	h := l.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1234").Code)

	rec := do("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, do("10.0.0.2:1234").Code)
}

func BenchmarkAllow(b *testing.B) {
	l := New(Config{RequestsPerSecond: 1e9, Burst: 1e9})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow("bench")
	}
}

func BenchmarkAllowParallel(b *testing.B) {
	l := New(Config{RequestsPerSecond: 1e9, Burst: 1e9})
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Allow("bench")
		}
	})
}
