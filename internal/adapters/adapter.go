// Package adapters provides the bidder adapter framework
package adapters

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/thenexusengine/tne_c1x/internal/usersync"
	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

// maxResponseSize limits bidder response size
const maxResponseSize = 1024 * 1024 // 1MB

// Adapter defines the interface for bidder adapters
type Adapter interface {
	// MakeRequests builds the outbound HTTP requests for one auction round
	MakeRequests(request *AuctionRequest, extraInfo *ExtraRequestInfo) ([]*RequestData, []error)

	// MakeBids maps a bidder response into one result per ad unit entry
	MakeBids(request *AuctionRequest, responseData *ResponseData) (*BidderResponse, []error)
}

// UserSyncer is implemented by adapters that sync audiences with a pixel.
// The returned task is not scheduled; the caller decides when and whether
// it fires.
type UserSyncer interface {
	PixelSync(request *AuctionRequest, extraInfo *ExtraRequestInfo) *usersync.PixelTask
}

// AuctionRequest is one auction round: the ad units a page wants bids for
type AuctionRequest struct {
	ID          string   `json:"id"`
	PublisherID string   `json:"publisher_id,omitempty"`
	Secure      bool     `json:"secure,omitempty"`
	AdUnits     []AdUnit `json:"ad_units"`
}

// AdUnit is a single placement on the page
type AdUnit struct {
	Code  string `json:"code"`
	Sizes []Size `json:"sizes"`
	// Params holds the bidder-specific parameters for this ad unit
	Params json.RawMessage `json:"params,omitempty"`
}

// Size is a creative size. It encodes as a [w, h] pair.
type Size struct {
	W int
	H int
}

// MarshalJSON encodes the size as [w, h]
func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.W, s.H})
}

// UnmarshalJSON decodes a [w, h] pair
func (s *Size) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("size must be a [width, height] pair, got %d values", len(pair))
	}
	s.W, s.H = pair[0], pair[1]
	return nil
}

// ExtraRequestInfo contains additional info for request building
type ExtraRequestInfo struct {
	// BidderSettings are the host-configured fallback values for the bidder
	// (site id, pixel id, endpoint), resolved before the round starts
	BidderSettings map[string]string
	BidderCoreName string
}

// RequestData represents an HTTP request to a bidder
type RequestData struct {
	Method  string
	URI     string
	Body    []byte
	Headers http.Header
}

// ResponseData represents an HTTP response from a bidder
type ResponseData struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// BidStatus is the outcome for one ad unit
type BidStatus int

const (
	// BidStatusAvailable means the bidder returned a bid
	BidStatusAvailable BidStatus = 1
	// BidStatusEmpty means the bidder returned no bid or an error
	BidStatusEmpty BidStatus = 2
)

// String returns the status name
func (s BidStatus) String() string {
	switch s {
	case BidStatusAvailable:
		return "available"
	case BidStatusEmpty:
		return "empty"
	}
	return "unknown"
}

// Message returns the human readable status
func (s BidStatus) Message() string {
	if s == BidStatusAvailable {
		return "Bid available"
	}
	return "Bid returned empty or error response"
}

// MarshalText encodes the status by name
func (s BidStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *BidStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "available":
		*s = BidStatusAvailable
	case "empty":
		*s = BidStatusEmpty
	default:
		return fmt.Errorf("unknown bid status %q", text)
	}
	return nil
}

// BidResult is the standardized outcome for one ad unit entry. It is
// built once and never modified afterwards.
type BidResult struct {
	AdUnitCode string    `json:"ad_unit_code"`
	Bidder     string    `json:"bidder"`
	CPM        float64   `json:"cpm"`
	Ad         string    `json:"ad,omitempty"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Status     BidStatus `json:"status"`
}

// BidderResponse contains the results parsed from a bidder response
type BidderResponse struct {
	Results []BidResult
}

// ResultSink receives results as they are produced
type ResultSink interface {
	Add(result BidResult)
}

// BidType represents the type of bid
type BidType string

const (
	BidTypeBanner BidType = "banner"
)

// BidderInfo contains bidder configuration
type BidderInfo struct {
	Enabled    bool
	MediaTypes []BidType
	Syncer     *SyncerInfo
	Endpoint   string
}

// SyncerInfo contains user sync configuration
type SyncerInfo struct {
	Supports []string
}

// AdapterWithInfo wraps an adapter with its info
type AdapterWithInfo struct {
	Adapter Adapter
	Info    BidderInfo
}

// HTTPClient defines the interface for HTTP requests
type HTTPClient interface {
	Do(ctx context.Context, req *RequestData, timeout time.Duration) (*ResponseData, error)
}

// DefaultHTTPClient implements HTTPClient
type DefaultHTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates an HTTP client that keeps connections to the
// bidder endpoint alive between rounds
func NewHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSClientConfig: &tls.Config{
			ClientSessionCache: tls.NewLRUClientSessionCache(100),
			MinVersion:         tls.VersionTLS12,
		},

		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}

	return &DefaultHTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Do executes an HTTP request. The effective timeout is the shorter of
// timeout and the parent context deadline.
func (c *DefaultHTTPClient) Do(ctx context.Context, req *RequestData, timeout time.Duration) (*ResponseData, error) {
	if timeout > 0 {
		if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI, nil)
	if err != nil {
		return nil, err
	}

	if len(req.Body) > 0 {
		httpReq.Body = &bodyReader{data: req.Body}
		httpReq.ContentLength = int64(len(req.Body))
	}

	for k, v := range req.Headers {
		httpReq.Header[k] = v
	}

	resp, err := c.client.Do(httpReq) //nolint:bodyclose
	if err != nil {
		return nil, err
	}

	type readResult struct {
		data []byte
		err  error
	}
	readCh := make(chan readResult, 1)

	go func() {
		defer resp.Body.Close()
		limitedReader := io.LimitReader(resp.Body, maxResponseSize+1)
		data, err := io.ReadAll(limitedReader)
		readCh <- readResult{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		resp.Body.Close()
		result := <-readCh
		if result.err != nil && !errors.Is(result.err, io.EOF) {
			logger.Log.Debug().
				Err(result.err).
				Str("uri", req.URI).
				Msg("read error during context cancellation (masked by timeout)")
		}
		return nil, ctx.Err()
	case result := <-readCh:
		if result.err != nil {
			return nil, result.err
		}
		if len(result.data) > maxResponseSize {
			return nil, fmt.Errorf("response too large: exceeded %d bytes", maxResponseSize)
		}
		return &ResponseData{
			StatusCode: resp.StatusCode,
			Body:       result.data,
			Headers:    resp.Header,
		}, nil
	}
}

// bodyReader wraps bytes for http.Request.Body
type bodyReader struct {
	data []byte
	pos  int
}

// Read implements io.Reader, returning io.EOF with the final bytes
func (r *bodyReader) Read(p []byte) (n int, err error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.pos:])
	r.pos += n
	if r.pos >= len(r.data) {
		return n, io.EOF
	}
	return n, nil
}

// Close implements io.Closer
func (r *bodyReader) Close() error {
	return nil
}
