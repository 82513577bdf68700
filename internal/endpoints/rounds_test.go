package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRoundLog_Record(t *testing.T) {
	log := NewRoundLog(3)
	for i := 0; i < 5; i++ {
		log.Record(fmt.Sprintf("auction-%d", i), "pub-1", 2, i%2, "ok", time.Duration(i*10)*time.Millisecond, nil)
	}
	log.Record("auction-err", "pub-1", 1, 0, "error", 0, errors.New("boom"))

	recent := log.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("Expected log capped at 3, got %d", len(recent))
	}
	if recent[0].AuctionID != "auction-err" || recent[0].Error != "boom" {
		t.Errorf("Expected newest round first with error, got %+v", recent[0])
	}
	if recent[1].AuctionID != "auction-4" {
		t.Errorf("Expected auction-4 second, got %s", recent[1].AuctionID)
	}

	if got := log.Recent(1); len(got) != 1 {
		t.Errorf("Expected 1 round, got %d", len(got))
	}
}

func TestRoundsHandler(t *testing.T) {
	log := NewRoundLog(10)
	log.Record("a1", "pub-1", 2, 1, "ok", 20*time.Millisecond, nil)
	log.Record("a2", "pub-1", 1, 0, "no_bids", 40*time.Millisecond, nil)

	rec := httptest.NewRecorder()
	NewRoundsHandler(log).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rounds", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body struct {
		TotalRounds     int64            `json:"total_rounds"`
		RoundsByStatus  map[string]int64 `json:"rounds_by_status"`
		TotalAdUnits    int64            `json:"total_ad_units"`
		TotalBids       int64            `json:"total_bids"`
		AverageDuration float64          `json:"average_duration"`
		RecentRounds    []RoundEntry     `json:"recent_rounds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if body.TotalRounds != 2 || body.TotalAdUnits != 3 || body.TotalBids != 1 {
		t.Errorf("Unexpected totals %+v", body)
	}
	if body.RoundsByStatus["ok"] != 1 || body.RoundsByStatus["no_bids"] != 1 {
		t.Errorf("Unexpected status counts %v", body.RoundsByStatus)
	}
	if body.AverageDuration != 30 {
		t.Errorf("Expected 30ms average, got %v", body.AverageDuration)
	}
	if len(body.RecentRounds) != 2 || body.RecentRounds[0].AuctionID != "a2" {
		t.Errorf("Unexpected recent rounds %+v", body.RecentRounds)
	}

	rec = httptest.NewRecorder()
	NewRoundsHandler(log).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rounds", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}
