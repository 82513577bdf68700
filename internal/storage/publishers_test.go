package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PublisherStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Unexpected error stubbing DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPublisherStore(db), mock
}

func assertMockExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Mock expectations not met: %v", err)
	}
}

var (
	selectPublisher      = regexp.QuoteMeta("SELECT id, publisher_id, name, bidder_params, status, created_at, updated_at")
	selectBidderSettings = regexp.QuoteMeta("SELECT bidder_params->$2 as params")
	updateBidderSettings = regexp.QuoteMeta("UPDATE publishers")
)

func TestGetByPublisherID(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "publisher_id", "name", "bidder_params", "status", "created_at", "updated_at"}).
		AddRow("1", "pub-1", "Example News", `{"c1x":{"siteId":"999"}}`, "active", now, now)
	mock.ExpectQuery(selectPublisher).WithArgs("pub-1").WillReturnRows(rows)

	pub, err := store.GetByPublisherID(context.Background(), "pub-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if pub == nil {
		t.Fatal("Expected publisher")
	}
	if pub.Name != "Example News" {
		t.Errorf("Expected name 'Example News', got '%s'", pub.Name)
	}
	if string(pub.BidderParams["c1x"]) != `{"siteId":"999"}` {
		t.Errorf("Unexpected c1x params: %s", pub.BidderParams["c1x"])
	}
	if !pub.CreatedAt.Equal(now) {
		t.Errorf("Expected created_at %v, got %v", now, pub.CreatedAt)
	}
	assertMockExpectations(t, mock)
}

func TestGetByPublisherID_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectPublisher).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	pub, err := store.GetByPublisherID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if pub != nil {
		t.Errorf("Expected nil publisher, got %+v", pub)
	}
	assertMockExpectations(t, mock)
}

func TestGetByPublisherID_BadParams(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "publisher_id", "name", "bidder_params", "status", "created_at", "updated_at"}).
		AddRow("1", "pub-1", "n", `not json`, "active", now, now)
	mock.ExpectQuery(selectPublisher).WithArgs("pub-1").WillReturnRows(rows)

	if _, err := store.GetByPublisherID(context.Background(), "pub-1"); err == nil {
		t.Error("Expected error for malformed bidder_params")
	}
}

func TestGetBidderSettings(t *testing.T) {
	tests := []struct {
		name     string
		params   interface{}
		expected map[string]string
	}{
		{
			name:     "string values",
			params:   `{"siteId":"999","pixelId":"123"}`,
			expected: map[string]string{"siteId": "999", "pixelId": "123"},
		},
		{
			name:     "numbers and booleans",
			params:   `{"siteId":999,"secure":true,"dspid":4.5}`,
			expected: map[string]string{"siteId": "999", "secure": "true", "dspid": "4.5"},
		},
		{
			name:     "nested values stay json and nulls drop",
			params:   `{"floorPriceMap":{"300x250":1.5},"pixelId":null}`,
			expected: map[string]string{"floorPriceMap": `{"300x250":1.5}`},
		},
		{
			name:     "no params for bidder",
			params:   nil,
			expected: nil,
		},
		{
			name:     "json null",
			params:   `null`,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			rows := sqlmock.NewRows([]string{"params"}).AddRow(tt.params)
			mock.ExpectQuery(selectBidderSettings).WithArgs("pub-1", "c1x").WillReturnRows(rows)

			settings, err := store.GetBidderSettings(context.Background(), "pub-1", "c1x")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(settings) != len(tt.expected) {
				t.Fatalf("Expected %d settings, got %d: %v", len(tt.expected), len(settings), settings)
			}
			for key, want := range tt.expected {
				if settings[key] != want {
					t.Errorf("Expected %s=%q, got %q", key, want, settings[key])
				}
			}
			assertMockExpectations(t, mock)
		})
	}
}

func TestGetBidderSettings_NoPublisher(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectBidderSettings).WithArgs("missing", "c1x").
		WillReturnRows(sqlmock.NewRows([]string{"params"}))

	settings, err := store.GetBidderSettings(context.Background(), "missing", "c1x")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if settings != nil {
		t.Errorf("Expected nil settings, got %v", settings)
	}
	assertMockExpectations(t, mock)
}

func TestGetBidderSettings_DatabaseError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectBidderSettings).WillReturnError(errors.New("connection reset"))

	if _, err := store.GetBidderSettings(context.Background(), "pub-1", "c1x"); err == nil {
		t.Error("Expected error when the query fails")
	}
}

func TestGetBidderSettings_NotAnObject(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectBidderSettings).WithArgs("pub-1", "c1x").
		WillReturnRows(sqlmock.NewRows([]string{"params"}).AddRow(`["a","b"]`))

	if _, err := store.GetBidderSettings(context.Background(), "pub-1", "c1x"); err == nil {
		t.Error("Expected error for non-object bidder params")
	}
}

func TestSaveBidderSettings(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(updateBidderSettings).
		WithArgs("pub-1", "c1x", []byte(`{"siteId":"999"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveBidderSettings(context.Background(), "pub-1", "c1x", map[string]string{"siteId": "999"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	assertMockExpectations(t, mock)
}

func TestSaveBidderSettings_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(updateBidderSettings).WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SaveBidderSettings(context.Background(), "missing", "c1x", map[string]string{"siteId": "1"})
	if err == nil {
		t.Error("Expected error for unknown publisher")
	}
}
