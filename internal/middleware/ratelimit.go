package middleware

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int // Per client
	BurstSize         int
	CleanupInterval   time.Duration
	// Paths are the rate limited path prefixes
	Paths []string
	// TrustedProxies may set X-Forwarded-For. Without them the remote
	// address identifies the client.
	TrustedProxies []*net.IPNet
}

// DefaultRateLimitConfig reads RATE_LIMIT_ENABLED, RATE_LIMIT_RPS,
// RATE_LIMIT_BURST and TRUSTED_PROXIES
func DefaultRateLimitConfig() *RateLimitConfig {
	rps, err := strconv.Atoi(os.Getenv("RATE_LIMIT_RPS"))
	if err != nil || rps <= 0 {
		rps = 200
	}

	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		burst = rps * 2
	}

	return &RateLimitConfig{
		Enabled:           os.Getenv("RATE_LIMIT_ENABLED") != "false",
		RequestsPerSecond: rps,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
		Paths:             []string{"/c1x/auction"},
		TrustedProxies:    ParseCIDRs(os.Getenv("TRUSTED_PROXIES")),
	}
}

// ParseCIDRs parses a comma separated list of CIDR ranges. Bare IPs become
// single-host ranges and invalid entries are skipped.
func ParseCIDRs(list string) []*net.IPNet {
	var networks []*net.IPNet
	for _, cidr := range strings.Split(list, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			networks = append(networks, network)
		}
	}
	return networks
}

// RateLimitMetrics records rejected requests
type RateLimitMetrics interface {
	IncRateLimitRejected()
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter is a per-client token bucket in front of the auction route
type RateLimiter struct {
	config  *RateLimitConfig
	clients map[string]*bucket
	metrics RateLimitMetrics
	now     func() time.Time
	mu      sync.Mutex
	stopCh  chan struct{}
	stop    sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*bucket),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go rl.cleanup()
	}
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-rl.config.CleanupInterval)
			for key, b := range rl.clients {
				if b.lastCheck.Before(cutoff) {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stop.Do(func() { close(rl.stopCh) })
}

// SetMetrics sets the metrics recorder
func (rl *RateLimiter) SetMetrics(m RateLimitMetrics) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.metrics = m
}

// Middleware returns the rate limiting middleware handler
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled || !rl.limits(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		limit := strconv.Itoa(rl.config.RequestsPerSecond)
		if !rl.allow(rl.clientIP(r)) {
			rl.mu.Lock()
			m := rl.metrics
			rl.mu.Unlock()
			if m != nil {
				m.IncRateLimitRejected()
			}
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		w.Header().Set("X-RateLimit-Limit", limit)
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limits(path string) bool {
	for _, prefix := range rl.config.Paths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.clients[clientID]
	if !exists {
		rl.clients[clientID] = &bucket{tokens: float64(rl.config.BurstSize - 1), lastCheck: now}
		return rl.config.BurstSize > 0
	}

	b.tokens += now.Sub(b.lastCheck).Seconds() * float64(rl.config.RequestsPerSecond)
	if b.tokens > float64(rl.config.BurstSize) {
		b.tokens = float64(rl.config.BurstSize)
	}
	b.lastCheck = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// clientIP returns the rightmost untrusted address of the forwarding chain
// when the connection comes from a trusted proxy
func (rl *RateLimiter) clientIP(r *http.Request) string {
	remoteIP := extractIP(r.RemoteAddr)
	if !rl.trusted(remoteIP) {
		return remoteIP
	}

	ips := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(ips) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(ips[i])
		if ip != "" && !rl.trusted(ip) {
			return ip
		}
	}
	return remoteIP
}

func (rl *RateLimiter) trusted(ipStr string) bool {
	return inNetworks(ipStr, rl.config.TrustedProxies)
}

// FromTrustedProxy reports whether the request's peer address is one of the
// trusted proxies. Forwarding headers are only honoured when it is.
func FromTrustedProxy(r *http.Request, proxies []*net.IPNet) bool {
	return inNetworks(extractIP(r.RemoteAddr), proxies)
}

func inNetworks(ipStr string, networks []*net.IPNet) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// extractIP strips the port from a host:port address
func extractIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
