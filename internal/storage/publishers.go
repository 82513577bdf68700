// Package storage provides database access for publisher bidder settings
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Publisher represents a publisher configuration from the database
type Publisher struct {
	ID           string                     `json:"id"`
	PublisherID  string                     `json:"publisher_id"`
	Name         string                     `json:"name"`
	BidderParams map[string]json.RawMessage `json:"bidder_params"`
	Status       string                     `json:"status"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// PublisherStore provides database operations for publishers
type PublisherStore struct {
	db *sql.DB
}

// NewPublisherStore creates a new publisher store
func NewPublisherStore(db *sql.DB) *PublisherStore {
	return &PublisherStore{db: db}
}

// Close closes the underlying connection pool
func (s *PublisherStore) Close() error {
	return s.db.Close()
}

// GetByPublisherID retrieves an active publisher. It returns nil, nil when
// the publisher does not exist.
func (s *PublisherStore) GetByPublisherID(ctx context.Context, publisherID string) (*Publisher, error) {
	query := `
		SELECT id, publisher_id, name, bidder_params, status, created_at, updated_at
		FROM publishers
		WHERE publisher_id = $1 AND status = 'active'
	`

	var p Publisher
	var bidderParamsJSON []byte

	err := s.db.QueryRowContext(ctx, query, publisherID).Scan(
		&p.ID,
		&p.PublisherID,
		&p.Name,
		&bidderParamsJSON,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query publisher: %w", err)
	}

	if len(bidderParamsJSON) > 0 {
		if err := json.Unmarshal(bidderParamsJSON, &p.BidderParams); err != nil {
			return nil, fmt.Errorf("failed to parse bidder_params: %w", err)
		}
	}

	return &p, nil
}

// GetBidderSettings returns the flat settings a publisher configured for a
// bidder, such as siteId and pixelId. Numbers and booleans are returned in
// their JSON text form. It returns nil, nil when nothing is configured.
func (s *PublisherStore) GetBidderSettings(ctx context.Context, publisherID, bidderCode string) (map[string]string, error) {
	query := `
		SELECT bidder_params->$2 as params
		FROM publishers
		WHERE publisher_id = $1 AND status = 'active'
	`

	var paramsJSON []byte
	err := s.db.QueryRowContext(ctx, query, publisherID, bidderCode).Scan(&paramsJSON)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bidder params: %w", err)
	}

	if len(paramsJSON) == 0 {
		return nil, nil
	}

	return flattenParams(paramsJSON)
}

// SaveBidderSettings replaces a publisher's settings for one bidder
func (s *PublisherStore) SaveBidderSettings(ctx context.Context, publisherID, bidderCode string, settings map[string]string) error {
	query := `
		UPDATE publishers
		SET bidder_params = jsonb_set(COALESCE(bidder_params, '{}'::jsonb), ARRAY[$2::text], $3::jsonb),
		    updated_at = NOW()
		WHERE publisher_id = $1 AND status = 'active'
	`

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal bidder settings: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, publisherID, bidderCode, settingsJSON)
	if err != nil {
		return fmt.Errorf("failed to update bidder settings: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("publisher not found: %s", publisherID)
	}

	return nil
}

func flattenParams(paramsJSON []byte) (map[string]string, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(paramsJSON, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse bidder params: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	settings := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			settings[key] = v
		case float64:
			settings[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			settings[key] = strconv.FormatBool(v)
		case nil:
		default:
			// Nested values such as floor maps stay JSON encoded
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode bidder param %s: %w", key, err)
			}
			settings[key] = string(encoded)
		}
	}
	return settings, nil
}

// NewDBConnection creates a new database connection
func NewDBConnection(host, port, user, password, dbname, sslmode string) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Settings lookups are one row per auction
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
