// Package endpoints provides HTTP endpoint handlers
package endpoints

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_c1x/internal/adapters"
	"github.com/thenexusengine/tne_c1x/internal/config"
	"github.com/thenexusengine/tne_c1x/internal/exchange"
	"github.com/thenexusengine/tne_c1x/internal/middleware"
	"github.com/thenexusengine/tne_c1x/internal/usersync"
	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

// maxTimeoutMs caps the per-round timeout a page may ask for
const maxTimeoutMs = 5000

// AuctionRequestBody is the JSON body of POST /c1x/auction
type AuctionRequestBody struct {
	adapters.AuctionRequest
	// Bidder defaults to the exchange's default bidder
	Bidder    string `json:"bidder,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// Bid is one ad unit result as returned to the page
type Bid struct {
	adapters.BidResult
	StatusMessage string `json:"status_message"`
}

// AuctionResponseBody is the JSON body returned by POST /c1x/auction
type AuctionResponseBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Bids   []Bid  `json:"bids"`
	// Pixel is for the page to inject after its delay
	Pixel          *usersync.PixelTask `json:"pixel,omitempty"`
	PixelScheduled bool                `json:"pixel_scheduled,omitempty"`
}

// AuctionHandler handles /c1x/auction requests
type AuctionHandler struct {
	exchange       *exchange.Exchange
	rounds         *RoundLog
	trustedProxies []*net.IPNet
}

// NewAuctionHandler creates a new auction handler. rounds may be nil.
func NewAuctionHandler(ex *exchange.Exchange, rounds *RoundLog) *AuctionHandler {
	return &AuctionHandler{exchange: ex, rounds: rounds}
}

// SetTrustedProxies sets the proxies whose X-Forwarded-Proto is believed
func (h *AuctionHandler) SetTrustedProxies(proxies []*net.IPNet) {
	h.trustedProxies = proxies
}

// ServeHTTP handles the auction request
func (h *AuctionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, config.DefaultMaxBodySize))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var reqBody AuctionRequestBody
	if err := json.Unmarshal(body, &reqBody); err != nil {
		logger.FromContext(r.Context()).Warn().Err(err).Msg("Invalid JSON in auction request")
		writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}

	round := reqBody.AuctionRequest
	if round.ID == "" {
		round.ID = newAuctionID()
	}
	if h.isSecure(r) {
		round.Secure = true
	}

	timeoutMs := reqBody.TimeoutMs
	if timeoutMs < 0 || timeoutMs > maxTimeoutMs {
		writeError(w, "timeout_ms must be between 0 and 5000", http.StatusBadRequest)
		return
	}

	ctx := logger.WithAuctionID(r.Context(), round.ID)
	start := time.Now()
	result, err := h.exchange.RunAuction(ctx, &exchange.AuctionRequest{
		Request: &round,
		Bidder:  reqBody.Bidder,
		Timeout: time.Duration(timeoutMs) * time.Millisecond,
	})
	duration := time.Since(start)

	if err != nil {
		var verr *exchange.RequestValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, verr.Error(), http.StatusBadRequest)
		case errors.Is(err, exchange.ErrUnknownBidder):
			writeError(w, err.Error(), http.StatusBadRequest)
		default:
			logger.FromContext(ctx).Error().
				Err(err).
				Int("ad_units", len(round.AdUnits)).
				Dur("duration_ms", duration).
				Msg("Auction failed")
			writeError(w, "Internal server error", http.StatusInternalServerError)
		}
		if h.rounds != nil {
			h.rounds.Record(round.ID, round.PublisherID, len(round.AdUnits), 0, exchange.StatusError, duration, err)
		}
		return
	}

	response := AuctionResponseBody{
		ID:             result.AuctionID,
		Status:         result.Status,
		Bids:           make([]Bid, 0, len(result.Results)),
		Pixel:          result.Pixel,
		PixelScheduled: result.PixelScheduled,
	}
	available := 0
	for _, res := range result.Results {
		if res.Status == adapters.BidStatusAvailable {
			available++
		}
		response.Bids = append(response.Bids, Bid{BidResult: res, StatusMessage: res.Status.Message()})
	}

	if h.rounds != nil {
		h.rounds.Record(round.ID, round.PublisherID, len(round.AdUnits), available, result.Status, duration, nil)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Str("auction_id", round.ID).Msg("failed to encode auction response")
	}
}

// isSecure reports whether the page reached us over https. The forwarded
// scheme counts only when a trusted proxy set it.
func (h *AuctionHandler) isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https" && middleware.FromTrustedProxy(r, h.trustedProxies)
}

func newAuctionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Error().Err(err).Str("message", message).Msg("failed to encode error response")
	}
}

// StatusHandler handles /status requests
type StatusHandler struct{}

// NewStatusHandler creates a new status handler
func NewStatusHandler() *StatusHandler {
	return &StatusHandler{}
}

// ServeHTTP handles status requests
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode status response")
	}
}

// BidderLister is an interface for listing bidders
type BidderLister interface {
	ListEnabledBidders() []string
}

// InfoBiddersHandler handles /info/bidders requests
type InfoBiddersHandler struct {
	registry BidderLister
}

// NewInfoBiddersHandler creates a handler that lists the enabled bidders
func NewInfoBiddersHandler(registry BidderLister) *InfoBiddersHandler {
	return &InfoBiddersHandler{registry: registry}
}

// ServeHTTP handles info/bidders requests
func (h *InfoBiddersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bidders := []string{}
	if h.registry != nil {
		bidders = append(bidders, h.registry.ListEnabledBidders()...)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(bidders); err != nil {
		log.Error().Err(err).Msg("failed to encode bidders response")
	}
}
