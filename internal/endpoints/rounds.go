package endpoints

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

// defaultRoundLogSize is how many rounds RoundLog keeps
const defaultRoundLogSize = 100

// RoundEntry is one auction round as shown on /admin/rounds
type RoundEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	AuctionID   string    `json:"auction_id"`
	PublisherID string    `json:"publisher_id,omitempty"`
	AdUnits     int       `json:"ad_units"`
	Bids        int       `json:"bids"`
	Status      string    `json:"status"`
	Duration    int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}

// RoundLog keeps running totals and the most recent rounds for operators
type RoundLog struct {
	mu              sync.RWMutex
	size            int
	total           int64
	byStatus        map[string]int64
	totalAdUnits    int64
	totalBids       int64
	averageDuration float64
	recent          []RoundEntry
	startTime       time.Time
	now             func() time.Time
}

// NewRoundLog creates a log keeping the last size rounds
func NewRoundLog(size int) *RoundLog {
	if size <= 0 {
		size = defaultRoundLogSize
	}
	return &RoundLog{
		size:      size,
		byStatus:  make(map[string]int64),
		recent:    make([]RoundEntry, 0, size),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Record adds a round. Newest rounds come first.
func (l *RoundLog) Record(auctionID, publisherID string, adUnits, bids int, status string, duration time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	l.byStatus[status]++
	l.totalAdUnits += int64(adUnits)
	l.totalBids += int64(bids)

	// Rolling average
	l.averageDuration += (float64(duration.Milliseconds()) - l.averageDuration) / float64(l.total)

	entry := RoundEntry{
		Timestamp:   l.now(),
		AuctionID:   auctionID,
		PublisherID: publisherID,
		AdUnits:     adUnits,
		Bids:        bids,
		Status:      status,
		Duration:    duration.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	l.recent = append([]RoundEntry{entry}, l.recent...)
	if len(l.recent) > l.size {
		l.recent = l.recent[:l.size]
	}
}

// Recent returns up to n of the newest rounds
func (l *RoundLog) Recent(n int) []RoundEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.recent) {
		n = len(l.recent)
	}
	out := make([]RoundEntry, n)
	copy(out, l.recent[:n])
	return out
}

// RoundsHandler serves the round log as JSON
type RoundsHandler struct {
	log *RoundLog
}

// NewRoundsHandler creates a new rounds handler
func NewRoundsHandler(log *RoundLog) *RoundsHandler {
	return &RoundsHandler{log: log}
}

func (h *RoundsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recent := h.log.Recent(20)

	h.log.mu.RLock()
	byStatus := make(map[string]int64, len(h.log.byStatus))
	for status, count := range h.log.byStatus {
		byStatus[status] = count
	}
	response := map[string]interface{}{
		"total_rounds":     h.log.total,
		"rounds_by_status": byStatus,
		"total_ad_units":   h.log.totalAdUnits,
		"total_bids":       h.log.totalBids,
		"average_duration": h.log.averageDuration,
		"uptime_seconds":   int64(time.Since(h.log.startTime).Seconds()),
	}
	h.log.mu.RUnlock()
	response["recent_rounds"] = recent

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Log.Error().Err(err).Msg("failed to encode rounds response")
	}
}
