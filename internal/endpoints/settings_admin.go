package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/thenexusengine/tne_c1x/internal/settings"
	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

// SettingsCache is the Redis side of the settings admin
type SettingsCache interface {
	SetSettings(ctx context.Context, publisherID, bidderCode string, values map[string]string, ttl time.Duration) error
	DeleteSettings(ctx context.Context, publisherID, bidderCode string) error
}

// SettingsDB is the PostgreSQL side of the settings admin
type SettingsDB interface {
	SaveBidderSettings(ctx context.Context, publisherID, bidderCode string, values map[string]string) error
}

// SettingsAdminHandler manages per-publisher bidder settings.
// Routes:
//
//	GET    /admin/settings/:publisher/:bidder - Effective settings
//	PUT    /admin/settings/:publisher/:bidder - Replace settings
//	DELETE /admin/settings/:publisher/:bidder - Drop the Redis entry
//
// With a database, PUT writes the publisher row and invalidates the Redis
// copy. Without one, Redis is the store of record.
type SettingsAdminHandler struct {
	store settings.Store
	cache SettingsCache
	db    SettingsDB
}

// NewSettingsAdminHandler creates a settings admin handler. cache and db
// may be nil.
func NewSettingsAdminHandler(store settings.Store, cache SettingsCache, db SettingsDB) *SettingsAdminHandler {
	return &SettingsAdminHandler{store: store, cache: cache, db: db}
}

// SettingsResponse is the body returned for a publisher and bidder
type SettingsResponse struct {
	PublisherID string            `json:"publisher_id"`
	Bidder      string            `json:"bidder"`
	Settings    map[string]string `json:"settings"`
}

// ServeHTTP handles settings admin requests
func (h *SettingsAdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/settings"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, "Path must be /admin/settings/{publisher}/{bidder}", http.StatusBadRequest)
		return
	}
	publisherID, bidderCode := parts[0], strings.ToLower(parts[1])

	switch r.Method {
	case http.MethodGet:
		h.getSettings(w, r, publisherID, bidderCode)
	case http.MethodPut:
		h.putSettings(w, r, publisherID, bidderCode)
	case http.MethodDelete:
		h.deleteSettings(w, r, publisherID, bidderCode)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsAdminHandler) getSettings(w http.ResponseWriter, r *http.Request, publisherID, bidderCode string) {
	if h.store == nil {
		writeError(w, "Settings store not configured", http.StatusServiceUnavailable)
		return
	}

	values, err := h.store.BidderSettings(r.Context(), publisherID, bidderCode)
	if err != nil {
		logger.FromContext(r.Context()).Error().
			Err(err).
			Str("publisher_id", publisherID).
			Str("bidder", bidderCode).
			Msg("Failed to read bidder settings")
		writeError(w, "Failed to read settings", http.StatusInternalServerError)
		return
	}
	if len(values) == 0 {
		writeError(w, "Settings not found", http.StatusNotFound)
		return
	}

	sendJSON(w, http.StatusOK, SettingsResponse{PublisherID: publisherID, Bidder: bidderCode, Settings: values})
}

func (h *SettingsAdminHandler) putSettings(w http.ResponseWriter, r *http.Request, publisherID, bidderCode string) {
	if h.cache == nil && h.db == nil {
		writeError(w, "Settings management requires Redis or a database", http.StatusServiceUnavailable)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	values, err := decodeSettings(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	log := logger.FromContext(r.Context())
	ctx := r.Context()

	if h.db != nil {
		if err := h.db.SaveBidderSettings(ctx, publisherID, bidderCode, values); err != nil {
			log.Error().Err(err).Str("publisher_id", publisherID).Str("bidder", bidderCode).Msg("Failed to save bidder settings")
			writeError(w, "Failed to save settings", http.StatusInternalServerError)
			return
		}
		if h.cache != nil {
			if err := h.cache.DeleteSettings(ctx, publisherID, bidderCode); err != nil {
				log.Warn().Err(err).Str("publisher_id", publisherID).Msg("Failed to invalidate cached settings")
			}
		}
	} else if err := h.cache.SetSettings(ctx, publisherID, bidderCode, values, 0); err != nil {
		log.Error().Err(err).Str("publisher_id", publisherID).Str("bidder", bidderCode).Msg("Failed to store bidder settings")
		writeError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("publisher_id", publisherID).
		Str("bidder", bidderCode).
		Int("keys", len(values)).
		Msg("Bidder settings updated")

	sendJSON(w, http.StatusOK, SettingsResponse{PublisherID: publisherID, Bidder: bidderCode, Settings: values})
}

func (h *SettingsAdminHandler) deleteSettings(w http.ResponseWriter, r *http.Request, publisherID, bidderCode string) {
	if h.cache == nil {
		writeError(w, "Settings deletion requires Redis", http.StatusServiceUnavailable)
		return
	}

	if err := h.cache.DeleteSettings(r.Context(), publisherID, bidderCode); err != nil {
		logger.FromContext(r.Context()).Error().
			Err(err).
			Str("publisher_id", publisherID).
			Str("bidder", bidderCode).
			Msg("Failed to delete bidder settings")
		writeError(w, "Failed to delete settings", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"publisher_id": publisherID,
		"bidder":       bidderCode,
	})
}

// decodeSettings accepts a flat JSON object of strings, numbers and bools.
// Nulls and empty strings are dropped.
func decodeSettings(body []byte) (map[string]string, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || dec.More() {
		return nil, fmt.Errorf("settings must be a JSON object")
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			if v != "" {
				values[key] = v
			}
		case json.Number:
			values[key] = v.String()
		case bool:
			values[key] = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("setting %q must be a string, number or bool", key)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no settings given")
	}
	return values, nil
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
