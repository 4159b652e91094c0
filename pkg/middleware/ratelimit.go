package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/ideahub/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate (in-memory limiter only)
	BurstSize int
}

// DefaultRateLimitConfig returns the limits for callers identified by IP
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerKeyRateLimitConfig returns the limits for callers presenting an API key
func PerKeyRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// Limiter decides whether a keyed request may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Remaining(ctx context.Context, key string) (int, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Release hands back one request previously counted by Allow
	Release(ctx context.Context, key string) error
	Config() *RateLimitConfig
}

// RateLimiter implements rate limiting in process using a token bucket.
// It is used when no Redis is configured.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
	}
}

// Config returns the limiter's configuration
func (rl *RateLimiter) Config() *RateLimitConfig { return rl.config }

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     rl.capacity(),
			lastUpdate: time.Now(),
		}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastUpdate)

	// Refill tokens based on elapsed time
	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

func (rl *RateLimiter) capacity() int {
	return rl.config.RequestsPerWindow + rl.config.BurstSize
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(_ context.Context, key string) (int, error) {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.capacity(), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens, nil
}

// TTL returns the window length; buckets refill continuously
func (rl *RateLimiter) TTL(context.Context, string) (time.Duration, error) {
	return rl.config.WindowDuration, nil
}

// Release returns a token to key's bucket
func (rl *RateLimiter) Release(_ context.Context, key string) error {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if !exists {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens < rl.capacity() {
		b.tokens++
	}
	return nil
}

// Cleanup removes idle buckets
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup starts a background goroutine to cleanup old buckets
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer observability.RecoverPanic(nil, "rate limiter cleanup")
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// RateLimitMiddleware limits the bearer routes in two stages. Handler runs
// before authentication and charges the client IP for every request, so
// guessed keys drain the IP bucket. KeyHandler runs after authentication: it
// hands the IP charge back and charges the key's own bucket, keyed by key id.
type RateLimitMiddleware struct {
	keyLimiter       Limiter
	anonymousLimiter Limiter
	logger           *observability.Logger
	fallbackEnabled  bool
	trustedProxies   []*net.IPNet
}

type ipChargeKey struct{}

// NewRateLimitMiddleware creates a rate limit middleware over two limiters
func NewRateLimitMiddleware(keyLimiter, anonymousLimiter Limiter, logger *observability.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		keyLimiter:       keyLimiter,
		anonymousLimiter: anonymousLimiter,
		logger:           logger,
		fallbackEnabled:  true,
	}
}

// NewInMemoryRateLimitMiddleware creates a rate limit middleware with process-local buckets
func NewInMemoryRateLimitMiddleware(perKey, anonymous *RateLimitConfig, logger *observability.Logger) *RateLimitMiddleware {
	return NewRateLimitMiddleware(NewRateLimiter(perKey), NewRateLimiter(anonymous), logger)
}

// SetFallbackEnabled controls whether to fail open (true) or closed (false) on limiter errors
func (m *RateLimitMiddleware) SetFallbackEnabled(enabled bool) {
	m.fallbackEnabled = enabled
}

// SetTrustedProxies lists the proxies (CIDRs or bare IPs) whose
// X-Forwarded-For and X-Real-IP headers are believed. With none set the
// client IP is always the connection's remote address.
func (m *RateLimitMiddleware) SetTrustedProxies(proxies []string) error {
	nets := make([]*net.IPNet, 0, len(proxies))
	for _, p := range proxies {
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return fmt.Errorf("invalid trusted proxy %q", p)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(p)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		nets = append(nets, n)
	}
	m.trustedProxies = nets
	return nil
}

// Handler charges the client IP before authentication
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + m.clientIP(r)
		proceed, charged := m.limit(w, r, m.anonymousLimiter, key)
		if !proceed {
			return
		}
		if charged {
			r = r.WithContext(context.WithValue(r.Context(), ipChargeKey{}, key))
		}
		next.ServeHTTP(w, r)
	})
}

// KeyHandler must follow APIKeyMiddleware. Requests without an authenticated
// key pass through untouched.
func (m *RateLimitMiddleware) KeyHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := GetAuthInfo(r)
		if info == nil || info.Key == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if ipKey, ok := ctx.Value(ipChargeKey{}).(string); ok {
			if err := m.anonymousLimiter.Release(ctx, ipKey); err != nil && m.logger != nil {
				m.logger.WithError(err).Warn("failed to release client IP charge")
			}
		}

		if proceed, _ := m.limit(w, r, m.keyLimiter, "key:"+info.Key.ID); proceed {
			next.ServeHTTP(w, r)
		}
	})
}

// limit charges key and writes the rate limit headers, or the rejection.
// charged reports whether the limiter actually counted the request.
func (m *RateLimitMiddleware) limit(w http.ResponseWriter, r *http.Request, limiter Limiter, key string) (proceed, charged bool) {
	ctx := r.Context()
	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		if m.fallbackEnabled {
			if m.logger != nil {
				m.logger.WithError(err).Warn("rate limiter unavailable, allowing request")
			}
			return true, false
		}
		http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
		return false, false
	}

	if !allowed {
		rateLimitExceeded(ctx, w, limiter, key)
		return false, false
	}

	cfg := limiter.Config()
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
	if remaining, err := limiter.Remaining(ctx, key); err == nil {
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	}
	if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
	}
	return true, true
}

func rateLimitExceeded(ctx context.Context, w http.ResponseWriter, limiter Limiter, key string) {
	cfg := limiter.Config()
	retryAfter := cfg.WindowDuration.Seconds()
	ttl, err := limiter.TTL(ctx, key)
	if err == nil && ttl > 0 {
		retryAfter = ttl.Seconds()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	if ttl > 0 {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
	}
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + fmt.Sprintf("%.0f", retryAfter) + `}`))
}

// clientIP resolves the caller's address. Forwarding headers are only read
// when the connection comes from a trusted proxy; X-Forwarded-For is walked
// right to left past trusted hops.
func (m *RateLimitMiddleware) clientIP(r *http.Request) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	if !m.trusted(remote) {
		return remote
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !m.trusted(hop) {
				return hop
			}
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return remote
}

func (m *RateLimitMiddleware) trusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range m.trustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
