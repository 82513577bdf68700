// Package usersync provides audience pixel syncs for bidders
package usersync

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SyncType represents the type of user sync
type SyncType string

const (
	// SyncTypePixel fires a hidden 1x1 image
	SyncTypePixel SyncType = "pixel"
)

// SyncerConfig holds the pixel sync configuration for a bidder
type SyncerConfig struct {
	// BidderCode is the bidder identifier
	BidderCode string
	// PixelURL is the URL template for the audience pixel
	// Use {{protocol}} and {{pixel_id}} as placeholders
	PixelURL string
	// Delay is how long after the bid request the pixel should fire
	Delay time.Duration
	// Enabled indicates if syncing is enabled for this bidder
	Enabled bool
}

// Syncer builds pixel sync tasks for a bidder
type Syncer struct {
	config SyncerConfig
}

// NewSyncer creates a new syncer for a bidder
func NewSyncer(config SyncerConfig) *Syncer {
	return &Syncer{config: config}
}

// PixelTask is a pending audience pixel. It carries everything needed to
// fire the pixel later and is independent of the bid request it came from.
type PixelTask struct {
	Bidder  string        `json:"bidder"`
	PixelID string        `json:"pixel_id"`
	URL     string        `json:"url"`
	Type    SyncType      `json:"type"`
	Delay   time.Duration `json:"-"`
	DelayMs int64         `json:"delay_ms"`
}

// PixelTask returns the pixel task for pixelID. The protocol follows the
// page: https when secure, http otherwise.
func (s *Syncer) PixelTask(pixelID string, secure bool) (*PixelTask, error) {
	if !s.config.Enabled {
		return nil, fmt.Errorf("syncing disabled for %s", s.config.BidderCode)
	}
	if pixelID == "" {
		return nil, fmt.Errorf("no pixel id for %s", s.config.BidderCode)
	}
	if s.config.PixelURL == "" {
		return nil, fmt.Errorf("no pixel URL configured for %s", s.config.BidderCode)
	}

	protocol := "http:"
	if secure {
		protocol = "https:"
	}

	pixelURL := s.config.PixelURL
	pixelURL = strings.ReplaceAll(pixelURL, "{{protocol}}", protocol)
	pixelURL = strings.ReplaceAll(pixelURL, "{{pixel_id}}", url.PathEscape(pixelID))

	return &PixelTask{
		Bidder:  s.config.BidderCode,
		PixelID: pixelID,
		URL:     pixelURL,
		Type:    SyncTypePixel,
		Delay:   s.config.Delay,
		DelayMs: s.config.Delay.Milliseconds(),
	}, nil
}

// BidderCode returns the bidder code
func (s *Syncer) BidderCode() string {
	return s.config.BidderCode
}

// IsEnabled returns true if syncing is enabled
func (s *Syncer) IsEnabled() bool {
	return s.config.Enabled
}
