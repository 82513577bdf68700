// Package config provides shared configuration constants for the header-tag bridge
package config

import "time"

// Server timeout defaults
const (
	// ServerReadTimeout is the maximum duration for reading the entire request
	ServerReadTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration before timing out writes of the response
	ServerWriteTimeout = 10 * time.Second

	// ServerIdleTimeout is the maximum time to wait for the next request when keep-alives are enabled
	ServerIdleTimeout = 120 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

// Size limiting defaults
const (
	// DefaultMaxBodySize is the default maximum request body size (1MB)
	DefaultMaxBodySize = 1024 * 1024

	// DefaultMaxURLLength is the default maximum URL length (8KB)
	DefaultMaxURLLength = 8192
)

// Bidder call defaults
const (
	// DefaultBidderTimeout bounds the single outbound header-tag request of a round
	DefaultBidderTimeout = 1000 * time.Millisecond

	// DefaultC1XEndpoint is the header-tag server queried when no override is configured
	DefaultC1XEndpoint = "http://ht-integration.c1exchange.com:9000/ht"
)

// Pixel sync defaults
const (
	// PixelFireDelay is how long after translation the audience pixel fires
	PixelFireDelay = 3000 * time.Millisecond

	// PixelTimeout bounds a server-side pixel request
	PixelTimeout = 2 * time.Second
)

// Settings store defaults
const (
	// SettingsLookupTimeout bounds a settings store lookup during an auction
	SettingsLookupTimeout = 100 * time.Millisecond
)
