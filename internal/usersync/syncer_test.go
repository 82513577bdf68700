package usersync

import (
	"testing"
	"time"
)

func testSyncerConfig() SyncerConfig {
	return SyncerConfig{
		BidderCode: "c1x",
		PixelURL:   "{{protocol}}//px.c1exchange.com/pubpixel/{{pixel_id}}",
		Delay:      3 * time.Second,
		Enabled:    true,
	}
}

func TestSyncer_PixelTask(t *testing.T) {
	tests := []struct {
		name    string
		pixelID string
		secure  bool
		wantURL string
	}{
		{"https page", "9999", true, "https://px.c1exchange.com/pubpixel/9999"},
		{"http page", "9999", false, "http://px.c1exchange.com/pubpixel/9999"},
		{"escaped id", "a/b", true, "https://px.c1exchange.com/pubpixel/a%2Fb"},
	}

	syncer := NewSyncer(testSyncerConfig())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := syncer.PixelTask(tt.pixelID, tt.secure)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if task.URL != tt.wantURL {
				t.Errorf("expected URL %s, got %s", tt.wantURL, task.URL)
			}
			if task.Bidder != "c1x" {
				t.Errorf("expected bidder c1x, got %s", task.Bidder)
			}
			if task.Type != SyncTypePixel {
				t.Errorf("expected pixel sync type, got %s", task.Type)
			}
			if task.Delay != 3*time.Second || task.DelayMs != 3000 {
				t.Errorf("expected 3s delay, got %v (%d ms)", task.Delay, task.DelayMs)
			}
		})
	}
}

func TestSyncer_PixelTaskErrors(t *testing.T) {
	disabled := testSyncerConfig()
	disabled.Enabled = false

	noURL := testSyncerConfig()
	noURL.PixelURL = ""

	tests := []struct {
		name    string
		config  SyncerConfig
		pixelID string
	}{
		{"disabled", disabled, "9999"},
		{"empty pixel id", testSyncerConfig(), ""},
		{"no template", noURL, "9999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := NewSyncer(tt.config).PixelTask(tt.pixelID, true)
			if err == nil {
				t.Error("expected error")
			}
			if task != nil {
				t.Error("expected nil task")
			}
		})
	}
}

func TestSyncer_Accessors(t *testing.T) {
	syncer := NewSyncer(testSyncerConfig())
	if syncer.BidderCode() != "c1x" {
		t.Errorf("expected c1x, got %s", syncer.BidderCode())
	}
	if !syncer.IsEnabled() {
		t.Error("expected syncer to be enabled")
	}
}
