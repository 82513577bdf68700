// Package middleware provides HTTP middleware for the header-tag bridge
package middleware

import (
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/thenexusengine/tne_c1x/internal/config"
	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

// SizeLimitConfig holds request size limit configuration
type SizeLimitConfig struct {
	Enabled      bool
	MaxBodySize  int64 // Max request body size in bytes
	MaxURLLength int   // Max URL length
}

// DefaultSizeLimitConfig reads MAX_REQUEST_SIZE and MAX_URL_LENGTH, falling
// back to the package defaults
func DefaultSizeLimitConfig() *SizeLimitConfig {
	maxBody, err := strconv.ParseInt(os.Getenv("MAX_REQUEST_SIZE"), 10, 64)
	if err != nil || maxBody <= 0 {
		maxBody = config.DefaultMaxBodySize
	}

	maxURL, err := strconv.Atoi(os.Getenv("MAX_URL_LENGTH"))
	if err != nil || maxURL <= 0 {
		maxURL = config.DefaultMaxURLLength
	}

	return &SizeLimitConfig{
		Enabled:      true,
		MaxBodySize:  maxBody,
		MaxURLLength: maxURL,
	}
}

// SizeLimitMetrics records rejected requests
type SizeLimitMetrics interface {
	IncSizeLimitRejected(reason string)
}

// SizeLimiter provides request size limiting middleware
type SizeLimiter struct {
	config  *SizeLimitConfig
	metrics SizeLimitMetrics
	mu      sync.RWMutex
}

// NewSizeLimiter creates a new size limiter
func NewSizeLimiter(config *SizeLimitConfig) *SizeLimiter {
	if config == nil {
		config = DefaultSizeLimitConfig()
	}
	return &SizeLimiter{config: config}
}

// SetMetrics sets the metrics recorder
func (sl *SizeLimiter) SetMetrics(m SizeLimitMetrics) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.metrics = m
}

// Middleware returns the size limiting middleware handler
func (sl *SizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sl.mu.RLock()
		enabled := sl.config.Enabled
		maxURLLength := sl.config.MaxURLLength
		maxBodySize := sl.config.MaxBodySize
		metrics := sl.metrics
		sl.mu.RUnlock()

		if !enabled {
			next.ServeHTTP(w, r)
			return
		}

		if len(r.URL.String()) > maxURLLength {
			sl.reject(w, r, metrics, "url", `{"error":"URL too long"}`, http.StatusRequestURITooLong)
			return
		}

		if r.ContentLength > maxBodySize {
			sl.reject(w, r, metrics, "body", `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}

		// Bodies without Content-Length are cut off while reading
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}

		next.ServeHTTP(w, r)
	})
}

func (sl *SizeLimiter) reject(w http.ResponseWriter, r *http.Request, metrics SizeLimitMetrics, reason, body string, status int) {
	if metrics != nil {
		metrics.IncSizeLimitRejected(reason)
	}
	logger.FromContext(r.Context()).Debug().
		Str("reason", reason).
		Str("path", r.URL.Path).
		Int64("content_length", r.ContentLength).
		Msg("request rejected by size limit")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// SetMaxBodySize sets the max body size
func (sl *SizeLimiter) SetMaxBodySize(size int64) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.MaxBodySize = size
}

// SetMaxURLLength sets the max URL length
func (sl *SizeLimiter) SetMaxURLLength(length int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.MaxURLLength = length
}

// SetEnabled enables or disables size limiting
func (sl *SizeLimiter) SetEnabled(enabled bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.Enabled = enabled
}

// GetConfig returns a copy of the current configuration
func (sl *SizeLimiter) GetConfig() SizeLimitConfig {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return *sl.config
}
