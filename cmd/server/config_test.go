package main

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/thenexusengine/tne_c1x/internal/adapters/c1x"
	"github.com/thenexusengine/tne_c1x/internal/config"
)

func TestParseConfig_Defaults(t *testing.T) {
	// Clear all environment variables
	clearEnvVars(t)

	// Reset flags before each test
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	cfg := ParseConfig()

	if cfg.Port != "8000" {
		t.Errorf("Expected default port '8000', got '%s'", cfg.Port)
	}

	if cfg.Timeout != 1000*time.Millisecond {
		t.Errorf("Expected default timeout 1000ms, got %v", cfg.Timeout)
	}

	if cfg.C1X.Endpoint != config.DefaultC1XEndpoint {
		t.Errorf("Expected default endpoint %q, got %q", config.DefaultC1XEndpoint, cfg.C1X.Endpoint)
	}

	if cfg.C1X.ServerPixel {
		t.Error("Expected server-side pixels to be disabled by default")
	}

	if cfg.C1X.SiteID != "" || cfg.C1X.PixelID != "" {
		t.Error("Expected no host site or pixel id by default")
	}

	if cfg.SettingsCacheTTL != 5*time.Minute {
		t.Errorf("Expected default settings cache TTL 5m, got %v", cfg.SettingsCacheTTL)
	}

	if cfg.DatabaseConfig != nil {
		t.Error("Expected no database config when DB_HOST is not set")
	}

	if cfg.RedisURL != "" {
		t.Error("Expected empty Redis URL when REDIS_URL is not set")
	}
}

func TestParseConfig_EnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(*testing.T, *ServerConfig)
	}{
		{
			name: "Custom port",
			envVars: map[string]string{
				"PBS_PORT": "9000",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.Port != "9000" {
					t.Errorf("Expected port '9000', got '%s'", cfg.Port)
				}
			},
		},
		{
			name: "Custom endpoint",
			envVars: map[string]string{
				"C1X_ENDPOINT": "http://ht.example.com/ht",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.C1X.Endpoint != "http://ht.example.com/ht" {
					t.Errorf("Expected custom endpoint, got '%s'", cfg.C1X.Endpoint)
				}
			},
		},
		{
			name: "Host site settings",
			envVars: map[string]string{
				"C1X_SITE_ID":       "999",
				"C1X_PIXEL_ID":      "42",
				"C1X_DSP_ID":        "7",
				"C1X_JSON_RESPONSE": "true",
				"C1X_SECURE_PIXEL":  "1",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.C1X.SiteID != "999" || cfg.C1X.PixelID != "42" || cfg.C1X.DSPID != "7" {
					t.Errorf("Unexpected host settings %+v", cfg.C1X)
				}
				if !cfg.C1X.JSONResponse || !cfg.C1X.SecurePixel {
					t.Error("Expected JSON response and secure pixel enabled")
				}
			},
		},
		{
			name: "Server pixel",
			envVars: map[string]string{
				"C1X_SERVER_PIXEL": "yes",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if !cfg.C1X.ServerPixel {
					t.Error("Expected server-side pixels to be enabled")
				}
			},
		},
		{
			name: "Timeout as duration",
			envVars: map[string]string{
				"C1X_TIMEOUT": "750ms",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.Timeout != 750*time.Millisecond {
					t.Errorf("Expected 750ms, got %v", cfg.Timeout)
				}
			},
		},
		{
			name: "Timeout as milliseconds",
			envVars: map[string]string{
				"C1X_TIMEOUT": "1500",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.Timeout != 1500*time.Millisecond {
					t.Errorf("Expected 1500ms, got %v", cfg.Timeout)
				}
			},
		},
		{
			name: "Invalid timeout falls back",
			envVars: map[string]string{
				"C1X_TIMEOUT": "soon",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.Timeout != config.DefaultBidderTimeout {
					t.Errorf("Expected default timeout, got %v", cfg.Timeout)
				}
			},
		},
		{
			name: "Redis URL and cache TTL",
			envVars: map[string]string{
				"REDIS_URL":          "redis://localhost:6379/0",
				"SETTINGS_CACHE_TTL": "30s",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.RedisURL != "redis://localhost:6379/0" {
					t.Errorf("Expected Redis URL 'redis://localhost:6379/0', got '%s'", cfg.RedisURL)
				}
				if cfg.SettingsCacheTTL != 30*time.Second {
					t.Errorf("Expected 30s TTL, got %v", cfg.SettingsCacheTTL)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
			cfg := ParseConfig()
			tt.validate(t, cfg)
		})
	}
}

func TestParseConfig_DatabaseConfig(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("DB_HOST", "db.example.com")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_SSL_MODE", "require")

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	cfg := ParseConfig()

	if cfg.DatabaseConfig == nil {
		t.Fatal("Expected database config when DB_HOST is set")
	}

	db := cfg.DatabaseConfig
	if db.Host != "db.example.com" {
		t.Errorf("Expected host 'db.example.com', got '%s'", db.Host)
	}
	if db.Port != "5432" {
		t.Errorf("Expected default port '5432', got '%s'", db.Port)
	}
	if db.User != "c1x" || db.Name != "c1x" {
		t.Errorf("Expected default user and name 'c1x', got '%s'/'%s'", db.User, db.Name)
	}
	if db.Password != "secret" || db.SSLMode != "require" {
		t.Errorf("Unexpected password/sslmode %q/%q", db.Password, db.SSLMode)
	}
}

func TestParseConfig_Flags(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("PBS_PORT", "9000")

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{oldArgs[0], "-port", "9100", "-server-pixel", "-timeout", "250ms"}

	cfg := ParseConfig()

	if cfg.Port != "9100" {
		t.Errorf("Expected flag to override env port, got '%s'", cfg.Port)
	}
	if !cfg.C1X.ServerPixel {
		t.Error("Expected -server-pixel to enable server-side pixels")
	}
	if cfg.Timeout != 250*time.Millisecond {
		t.Errorf("Expected 250ms timeout, got %v", cfg.Timeout)
	}
}

func TestServerConfig_ToExchangeConfig(t *testing.T) {
	cfg := &ServerConfig{
		Timeout: 800 * time.Millisecond,
		C1X:     C1XConfig{ServerPixel: true},
	}

	exCfg := cfg.ToExchangeConfig()

	if exCfg.DefaultTimeout != 800*time.Millisecond {
		t.Errorf("Expected 800ms timeout, got %v", exCfg.DefaultTimeout)
	}
	if exCfg.SettingsTimeout != config.SettingsLookupTimeout {
		t.Errorf("Expected settings timeout %v, got %v", config.SettingsLookupTimeout, exCfg.SettingsTimeout)
	}
	if exCfg.DefaultBidder != c1x.BidderCode {
		t.Errorf("Expected default bidder c1x, got %q", exCfg.DefaultBidder)
	}
	if !exCfg.ServerPixels {
		t.Error("Expected server pixels carried over")
	}
}

func TestServerConfig_StaticSettings(t *testing.T) {
	cfg := &ServerConfig{
		C1X: C1XConfig{
			Endpoint:     "http://ht.example.com/ht",
			SiteID:       "999",
			PixelID:      "42",
			JSONResponse: true,
		},
	}

	all := cfg.StaticSettings()
	values, ok := all[c1x.BidderCode]
	if !ok {
		t.Fatal("Expected settings keyed by c1x")
	}
	if values[c1x.SettingSiteID] != "999" || values[c1x.SettingPixelID] != "42" {
		t.Errorf("Unexpected ids %v", values)
	}
	if values[c1x.SettingEndpoint] != "http://ht.example.com/ht" {
		t.Errorf("Unexpected endpoint %q", values[c1x.SettingEndpoint])
	}
	if values[c1x.SettingResponse] != "json" {
		t.Errorf("Expected json response setting, got %q", values[c1x.SettingResponse])
	}
	if _, ok := values[c1x.SettingSecure]; ok {
		t.Error("Expected no secure setting when disabled")
	}
}

// clearEnvVars unsets every variable ParseConfig reads, restoring them
// when the test ends
func clearEnvVars(t *testing.T) {
	t.Helper()

	envVars := []string{
		"PBS_PORT",
		"C1X_ENDPOINT",
		"C1X_SERVER_PIXEL",
		"C1X_TIMEOUT",
		"C1X_SITE_ID",
		"C1X_PIXEL_ID",
		"C1X_DSP_ID",
		"C1X_JSON_RESPONSE",
		"C1X_SECURE_PIXEL",
		"DB_HOST",
		"DB_PORT",
		"DB_USER",
		"DB_PASSWORD",
		"DB_NAME",
		"DB_SSL_MODE",
		"REDIS_URL",
		"SETTINGS_CACHE_TTL",
	}

	for _, key := range envVars {
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		}
		os.Unsetenv(key)
	}
}
