package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

// AuthConfig holds admin API key configuration
type AuthConfig struct {
	Enabled    bool
	APIKeys    []string
	HeaderName string // Header to check for API key (default: X-API-Key)
	// ProtectedPaths are the path prefixes that need a key. Auction traffic
	// comes from pages and is never behind a key.
	ProtectedPaths []string
}

// DefaultAuthConfig reads ADMIN_API_KEYS (comma separated). Auth is on
// whenever keys are configured.
func DefaultAuthConfig() *AuthConfig {
	keys := parseAPIKeys(os.Getenv("ADMIN_API_KEYS"))
	return &AuthConfig{
		Enabled:        len(keys) > 0,
		APIKeys:        keys,
		HeaderName:     "X-API-Key",
		ProtectedPaths: []string{"/admin/"},
	}
}

func parseAPIKeys(envValue string) []string {
	var keys []string
	for _, key := range strings.Split(envValue, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// AuthMetrics records rejected admin requests
type AuthMetrics interface {
	IncAuthFailures()
}

// Auth guards the admin surface with static API keys
type Auth struct {
	config  *AuthConfig
	metrics AuthMetrics
	mu      sync.RWMutex
}

// NewAuth creates a new Auth middleware
func NewAuth(config *AuthConfig) *Auth {
	if config == nil {
		config = DefaultAuthConfig()
	}
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &Auth{config: config}
}

// SetMetrics sets the metrics recorder
func (a *Auth) SetMetrics(m AuthMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = m
}

// Middleware returns the authentication middleware handler
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		enabled := a.config.Enabled
		headerName := a.config.HeaderName
		protected := a.protects(r.URL.Path)
		a.mu.RUnlock()

		if !protected {
			next.ServeHTTP(w, r)
			return
		}

		// Admin routes stay closed when no keys are configured
		if !enabled {
			a.reject(w, r, "admin API disabled", http.StatusForbidden)
			return
		}

		apiKey := r.Header.Get(headerName)
		if apiKey == "" {
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				apiKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if apiKey == "" {
			a.reject(w, r, "missing API key", http.StatusUnauthorized)
			return
		}
		if !a.validKey(apiKey) {
			a.reject(w, r, "invalid API key", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// protects must be called with mu held
func (a *Auth) protects(path string) bool {
	for _, prefix := range a.config.ProtectedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Auth) validKey(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	valid := false
	for _, candidate := range a.config.APIKeys {
		// Check every key so timing does not leak which one matched
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			valid = true
		}
	}
	return valid
}

func (a *Auth) reject(w http.ResponseWriter, r *http.Request, message string, status int) {
	a.mu.RLock()
	m := a.metrics
	a.mu.RUnlock()
	if m != nil {
		m.IncAuthFailures()
	}

	logger.FromContext(r.Context()).Warn().
		Str("path", r.URL.Path).
		Int("status", status).
		Msg(message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

// AddAPIKey adds a key at runtime
func (a *Auth) AddAPIKey(key string) {
	if key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.APIKeys = append(a.config.APIKeys, key)
	a.config.Enabled = true
}

// IsEnabled returns whether admin keys are configured
func (a *Auth) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}
