package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/thenexusengine/tne_c1x/internal/adapters/c1x"
	"github.com/thenexusengine/tne_c1x/internal/config"
	"github.com/thenexusengine/tne_c1x/internal/exchange"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port    string
	Timeout time.Duration

	// C1X host settings, used when neither the ad units nor the publisher
	// settings carry a value
	C1X C1XConfig

	// Database
	DatabaseConfig *DatabaseConfig

	// Redis
	RedisURL         string
	SettingsCacheTTL time.Duration
}

// C1XConfig holds the host-level C1X settings
type C1XConfig struct {
	Endpoint     string
	SiteID       string
	PixelID      string
	DSPID        string
	JSONResponse bool
	SecurePixel  bool
	// ServerPixel fires pixels from the server instead of returning them
	ServerPixel bool
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ParseConfig parses configuration from flags and environment variables
func ParseConfig() *ServerConfig {
	port := flag.String("port", getEnvOrDefault("PBS_PORT", "8000"), "Server port")
	endpoint := flag.String("c1x-endpoint", getEnvOrDefault("C1X_ENDPOINT", config.DefaultC1XEndpoint), "C1X header-tag endpoint")
	serverPixel := flag.Bool("server-pixel", getEnvBoolOrDefault("C1X_SERVER_PIXEL", false), "Fire C1X pixels from the server")
	timeout := flag.Duration("timeout", getEnvDurationOrDefault("C1X_TIMEOUT", config.DefaultBidderTimeout), "Default bidder timeout")
	flag.Parse()

	cfg := &ServerConfig{
		Port:    *port,
		Timeout: *timeout,
		C1X: C1XConfig{
			Endpoint:     *endpoint,
			SiteID:       os.Getenv("C1X_SITE_ID"),
			PixelID:      os.Getenv("C1X_PIXEL_ID"),
			DSPID:        os.Getenv("C1X_DSP_ID"),
			JSONResponse: getEnvBoolOrDefault("C1X_JSON_RESPONSE", false),
			SecurePixel:  getEnvBoolOrDefault("C1X_SECURE_PIXEL", false),
			ServerPixel:  *serverPixel,
		},
		RedisURL:         os.Getenv("REDIS_URL"),
		SettingsCacheTTL: getEnvDurationOrDefault("SETTINGS_CACHE_TTL", 5*time.Minute),
	}

	// Parse database config if DB_HOST is set
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &DatabaseConfig{
			Host:     dbHost,
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "c1x"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "c1x"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		}
	}

	return cfg
}

// ToExchangeConfig converts ServerConfig to exchange.Config
func (c *ServerConfig) ToExchangeConfig() *exchange.Config {
	return &exchange.Config{
		DefaultTimeout:  c.Timeout,
		SettingsTimeout: config.SettingsLookupTimeout,
		DefaultBidder:   c1x.BidderCode,
		ServerPixels:    c.C1X.ServerPixel,
	}
}

// StaticSettings returns the host C1X settings in settings store form
func (c *ServerConfig) StaticSettings() map[string]map[string]string {
	values := map[string]string{
		c1x.SettingSiteID:   c.C1X.SiteID,
		c1x.SettingPixelID:  c.C1X.PixelID,
		c1x.SettingEndpoint: c.C1X.Endpoint,
		c1x.SettingDSPID:    c.C1X.DSPID,
	}
	if c.C1X.JSONResponse {
		values[c1x.SettingResponse] = "json"
	}
	if c.C1X.SecurePixel {
		values[c1x.SettingSecure] = "true"
	}
	return map[string]map[string]string{c1x.BidderCode: values}
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvDurationOrDefault accepts Go durations ("750ms") or plain
// milliseconds ("750")
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
