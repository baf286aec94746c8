package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLimiter returns a limiter without a cleanup goroutine and with a
// controllable clock.
func newTestLimiter(config *Config) (*Limiter, *time.Time) {
	config.Enabled = true
	config.CleanupInterval = 0
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewLimiter(config)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_Allow(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{DefaultLimit: 10, DefaultWindow: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/runs", "GET")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 10, info.Limit)
		assert.Equal(t, 9-i, info.Remaining)
	}

	allowed, info := limiter.Allow("127.0.0.1", "/runs", "GET")
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.Greater(t, info.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, info.RetryAfter, 6*time.Second)
}

func TestLimiter_Refill(t *testing.T) {
	limiter, now := newTestLimiter(&Config{DefaultLimit: 60, DefaultWindow: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 60; i++ {
		allowed, _ := limiter.Allow("c", "/runs", "GET")
		require.True(t, allowed)
	}
	allowed, _ := limiter.Allow("c", "/runs", "GET")
	require.False(t, allowed)

	*now = now.Add(time.Second)
	allowed, _ = limiter.Allow("c", "/runs", "GET")
	assert.True(t, allowed, "one token refills per second")
	allowed, _ = limiter.Allow("c", "/runs", "GET")
	assert.False(t, allowed)
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{DefaultLimit: 1, DefaultWindow: time.Minute})
	defer limiter.Stop()

	allowed, _ := limiter.Allow("a", "/runs", "GET")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("a", "/runs", "GET")
	assert.False(t, allowed)
	allowed, _ = limiter.Allow("b", "/runs", "GET")
	assert.True(t, allowed)
}

func TestLimiter_Lists(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
		Whitelist:     map[string]bool{"10.0.0.1": true},
		Blacklist:     map[string]bool{"10.0.0.2": true},
	})
	defer limiter.Stop()

	for i := 0; i < 20; i++ {
		allowed, info := limiter.Allow("10.0.0.1", "/runs", "POST")
		require.True(t, allowed)
		assert.Equal(t, 0, info.Limit)
	}

	allowed, _ := limiter.Allow("10.0.0.2", "/health", "GET")
	assert.False(t, allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: false, DefaultLimit: 1, DefaultWindow: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		allowed, _ := limiter.Allow("c", "/runs", "POST")
		assert.True(t, allowed)
	}
}

func TestLimiter_EndpointSpecific(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{
		DefaultLimit:    100,
		DefaultWindow:   time.Minute,
		EndpointConfigs: DefaultEndpointConfigs(),
	})
	defer limiter.Stop()

	// POST /runs allows a burst of 5
	for i := 0; i < 5; i++ {
		allowed, info := limiter.Allow("c", "/runs", "POST")
		require.True(t, allowed)
		assert.Equal(t, 30, info.Limit)
	}
	allowed, _ := limiter.Allow("c", "/runs", "POST")
	assert.False(t, allowed)

	// Per-run actions share one bucket across run IDs
	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Allow("c", fmt.Sprintf("/runs/run-%d/handoff", i), "POST")
		require.True(t, allowed)
	}
	allowed, _ = limiter.Allow("c", "/runs/other/cancel", "POST")
	assert.False(t, allowed)

	// Reads fall back to the default
	allowed, info := limiter.Allow("c", "/runs/run-1", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 100, info.Limit)

	// Health is never limited
	allowed, info = limiter.Allow("c", "/health", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 0, info.Limit)
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{DefaultLimit: 100, DefaultWindow: time.Hour})
	defer limiter.Stop()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow("c", "/runs", "GET"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
}

func TestLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	limiter, now := newTestLimiter(&Config{DefaultLimit: 1, DefaultWindow: time.Hour})
	defer limiter.Stop()

	limiter.Allow("idle", "/runs", "GET")
	*now = now.Add(30 * time.Minute)
	limiter.Allow("active", "/runs", "GET")
	*now = now.Add(45 * time.Minute)

	limiter.cleanupBuckets()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Len(t, limiter.buckets, 1)
	_, ok := limiter.buckets["active|GET|*"]
	assert.True(t, ok)
}

func TestLimiter_StopTwice(t *testing.T) {
	limiter := NewLimiter(nil)
	limiter.Stop()
	assert.NotPanics(t, limiter.Stop)
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	tests := []struct {
		name     string
		path     string
		method   string
		wantPath string
	}{
		{"exact runs", "/runs", "POST", "/runs"},
		{"exact stream", "/runs/stream", "POST", "/runs/stream"},
		{"prefix clarify", "/runs/abc/clarify", "POST", "/runs/"},
		{"auth", "/auth/token", "POST", "/auth/token"},
		{"archive delete", "/archive/runs/abc", "DELETE", "/archive/runs/"},
		{"health", "/health", "GET", "/health"},
		{"unmatched read", "/runs/abc", "GET", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.wantPath == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantPath, got.Path)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "42")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 10.0.0.2")

	cfg := LoadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 42, cfg.DefaultLimit)
	assert.True(t, cfg.Whitelist["10.0.0.2"])
	assert.NotEmpty(t, cfg.EndpointConfigs)

	t.Setenv("RATE_LIMIT_ENABLED", "false")
	assert.False(t, LoadConfig().Enabled)
}
