// Package logger provides structured logging for the header-tag bridge
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. It is usable before Init and is
// replaced when Init is called.
var Log = zerolog.New(os.Stdout).With().Timestamp().Logger()

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	auctionIDKey ctxKey = "auction_id"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	TimeFormat string
}

// DefaultConfig returns the logger configuration from LOG_LEVEL and LOG_FORMAT
func DefaultConfig() Config {
	return Config{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		TimeFormat: time.RFC3339,
	}
}

// Init configures the global logger
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	var base zerolog.Logger
	if cfg.Format == "console" {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: cfg.TimeFormat, NoColor: true})
	} else {
		base = zerolog.New(os.Stdout)
	}

	Log = base.Level(level).With().
		Timestamp().
		Str("service", "tne-c1x").
		Logger()
}

// WithRequestID stores a request ID in the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithAuctionID stores an auction round ID in the context
func WithAuctionID(ctx context.Context, auctionID string) context.Context {
	return context.WithValue(ctx, auctionIDKey, auctionID)
}

// FromContext returns a logger carrying the request and auction IDs found in ctx
func FromContext(ctx context.Context) *zerolog.Logger {
	lc := Log.With()
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		lc = lc.Str("request_id", id)
	}
	if id, ok := ctx.Value(auctionIDKey).(string); ok && id != "" {
		lc = lc.Str("auction_id", id)
	}
	l := lc.Logger()
	return &l
}

// Auction returns a logger for one auction round
func Auction(auctionID string) *zerolog.Logger {
	l := Log.With().Str("component", "auction").Str("auction_id", auctionID).Logger()
	return &l
}

// Bidder returns a logger for a bidder adapter
func Bidder(bidderCode string) *zerolog.Logger {
	l := Log.With().Str("component", "bidder").Str("bidder", bidderCode).Logger()
	return &l
}

// HTTP returns a logger for the HTTP layer
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// Usersync returns a logger for pixel syncs
func Usersync() *zerolog.Logger {
	l := Log.With().Str("component", "usersync").Logger()
	return &l
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
