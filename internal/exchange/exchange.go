// Package exchange runs auction rounds against a registered bidder
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thenexusengine/tne_c1x/internal/adapters"
	"github.com/thenexusengine/tne_c1x/internal/config"
	"github.com/thenexusengine/tne_c1x/internal/settings"
	"github.com/thenexusengine/tne_c1x/internal/usersync"
	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

// MetricsRecorder records round outcomes
type MetricsRecorder interface {
	RecordAuction(status string, duration time.Duration, adUnits int)
	RecordBidResult(bidder, status string, cpm float64)
	RecordBidderRequest(bidder string, latency time.Duration, errorType string, timedOut bool)
	RecordMalformedResponse(bidder string)
	RecordUnknownAdUnits(bidder string, count int)
	RecordSettingsLookup(outcome string)
}

// PixelScheduler arms pixel tasks on the server
type PixelScheduler interface {
	Schedule(task *usersync.PixelTask) (cancel func() bool)
}

// Round statuses reported to metrics and in responses
const (
	StatusOK      = "ok"
	StatusNoBids  = "no_bids"
	StatusAborted = "aborted"
	StatusError   = "error"
)

// Limits on a single round
const (
	maxAdUnitsPerRound = 100
	minBidderTimeout   = 10 * time.Millisecond
	maxBidderTimeout   = 5 * time.Second
)

// ErrUnknownBidder is returned when the round names a bidder that is not
// registered or is disabled
var ErrUnknownBidder = errors.New("unknown bidder")

// Config holds exchange configuration
type Config struct {
	DefaultTimeout time.Duration
	// SettingsTimeout bounds the host settings lookup before a round
	SettingsTimeout time.Duration
	// DefaultBidder is used when the round does not name one
	DefaultBidder string
	// ServerPixels schedules pixel tasks here instead of returning them
	ServerPixels bool
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout:  config.DefaultBidderTimeout,
		SettingsTimeout: config.SettingsLookupTimeout,
		DefaultBidder:   "c1x",
	}
}

// validateConfig applies defaults for invalid values
func validateConfig(cfg *Config) *Config {
	defaults := DefaultConfig()

	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.DefaultTimeout < minBidderTimeout {
		cfg.DefaultTimeout = minBidderTimeout
	}
	if cfg.DefaultTimeout > maxBidderTimeout {
		cfg.DefaultTimeout = maxBidderTimeout
	}
	if cfg.SettingsTimeout <= 0 {
		cfg.SettingsTimeout = defaults.SettingsTimeout
	}
	if cfg.DefaultBidder == "" {
		cfg.DefaultBidder = defaults.DefaultBidder
	}
	return cfg
}

// Exchange orchestrates auction rounds
type Exchange struct {
	registry   *adapters.Registry
	httpClient adapters.HTTPClient
	config     *Config

	// configMu protects the optional collaborators below, which are set
	// after construction
	configMu sync.RWMutex
	store    settings.Store
	pixels   PixelScheduler
	metrics  MetricsRecorder
}

// New creates a new exchange
func New(registry *adapters.Registry, cfg *Config) *Exchange {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = validateConfig(cfg)

	return &Exchange{
		registry:   registry,
		httpClient: adapters.NewHTTPClient(cfg.DefaultTimeout),
		config:     cfg,
	}
}

// SetHTTPClient replaces the client used to reach bidders
func (e *Exchange) SetHTTPClient(client adapters.HTTPClient) {
	e.configMu.Lock()
	defer e.configMu.Unlock()
	e.httpClient = client
}

// SetSettingsStore sets where host-level bidder settings come from
func (e *Exchange) SetSettingsStore(store settings.Store) {
	e.configMu.Lock()
	defer e.configMu.Unlock()
	e.store = store
}

// SetPixelScheduler sets the scheduler used when ServerPixels is on
func (e *Exchange) SetPixelScheduler(s PixelScheduler) {
	e.configMu.Lock()
	defer e.configMu.Unlock()
	e.pixels = s
}

// SetMetrics sets the metrics recorder
func (e *Exchange) SetMetrics(m MetricsRecorder) {
	e.configMu.Lock()
	defer e.configMu.Unlock()
	e.metrics = m
}

// Config returns the effective configuration
func (e *Exchange) Config() Config {
	return *e.config
}

// AuctionRequest wraps one round with exchange options
type AuctionRequest struct {
	Request *adapters.AuctionRequest
	// Bidder defaults to Config.DefaultBidder
	Bidder string
	// Timeout overrides Config.DefaultTimeout when positive
	Timeout time.Duration
	// Sink receives every result as it is mapped. Optional.
	Sink adapters.ResultSink
}

// AuctionResponse is the outcome of a round
type AuctionResponse struct {
	AuctionID string
	Status    string
	Results   []adapters.BidResult
	// Pixel is set when the page should fire the pixel itself
	Pixel *usersync.PixelTask
	// PixelScheduled reports that the server armed the pixel
	PixelScheduled bool
	BidderResult   *BidderResult
}

// BidderResult holds the result of calling one bidder
type BidderResult struct {
	BidderCode     string
	Results        []adapters.BidResult
	Errors         []error
	Latency        time.Duration
	TimedOut       bool
	Sent           bool
	UnknownAdUnits []string
}

// RequestValidationError represents a round validation failure
type RequestValidationError struct {
	Field  string
	Reason string
}

func (e *RequestValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s - %s", e.Field, e.Reason)
}

// ValidateRequest checks the shape of a round. Bidder params are checked
// by the adapter.
func ValidateRequest(req *adapters.AuctionRequest) *RequestValidationError {
	if req == nil {
		return &RequestValidationError{Field: "request", Reason: "nil request"}
	}
	if len(req.AdUnits) == 0 {
		return &RequestValidationError{Field: "ad_units", Reason: "at least one ad unit is required"}
	}
	if len(req.AdUnits) > maxAdUnitsPerRound {
		return &RequestValidationError{
			Field:  "ad_units",
			Reason: fmt.Sprintf("too many ad units (max %d, got %d)", maxAdUnitsPerRound, len(req.AdUnits)),
		}
	}
	for i, adUnit := range req.AdUnits {
		if adUnit.Code == "" {
			return &RequestValidationError{
				Field:  fmt.Sprintf("ad_units[%d].code", i),
				Reason: "ad unit code is required",
			}
		}
		for j, size := range adUnit.Sizes {
			if size.W <= 0 || size.H <= 0 {
				return &RequestValidationError{
					Field:  fmt.Sprintf("ad_units[%d].sizes[%d]", i, j),
					Reason: fmt.Sprintf("invalid size %dx%d", size.W, size.H),
				}
			}
		}
	}
	return nil
}

// collector keeps results in arrival order and forwards them to an
// optional downstream sink
type collector struct {
	results []adapters.BidResult
	next    adapters.ResultSink
}

func (c *collector) Add(result adapters.BidResult) {
	c.results = append(c.results, result)
	if c.next != nil {
		c.next.Add(result)
	}
}

// RunAuction runs one round: settings lookup, request build, the HTTP
// call, response mapping and the pixel
func (e *Exchange) RunAuction(ctx context.Context, req *AuctionRequest) (*AuctionResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, &RequestValidationError{Field: "request", Reason: "nil request"}
	}
	if verr := ValidateRequest(req.Request); verr != nil {
		return nil, verr
	}

	bidderCode := req.Bidder
	if bidderCode == "" {
		bidderCode = e.config.DefaultBidder
	}
	awi, ok := e.registry.Get(bidderCode)
	if !ok || !awi.Info.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBidder, bidderCode)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > maxBidderTimeout {
		timeout = maxBidderTimeout
	}

	e.configMu.RLock()
	httpClient, store, pixels, metrics := e.httpClient, e.store, e.pixels, e.metrics
	e.configMu.RUnlock()

	log := logger.FromContext(logger.WithAuctionID(ctx, req.Request.ID))

	extraInfo := &adapters.ExtraRequestInfo{
		BidderCoreName: bidderCode,
		BidderSettings: e.lookupSettings(ctx, store, metrics, req.Request.PublisherID, bidderCode),
	}

	sink := &collector{next: req.Sink}
	result := e.callBidder(ctx, httpClient, req.Request, bidderCode, awi.Adapter, extraInfo, timeout, sink)

	response := &AuctionResponse{
		AuctionID:    req.Request.ID,
		Results:      sink.results,
		BidderResult: result,
		Status:       roundStatus(result),
	}
	if response.Results == nil {
		response.Results = []adapters.BidResult{}
	}

	if len(result.UnknownAdUnits) > 0 {
		log.Warn().
			Str("bidder", bidderCode).
			Strs("ad_units", result.UnknownAdUnits).
			Msg("bidder returned results for ad units not in the round")
	}

	if syncer, ok := awi.Adapter.(adapters.UserSyncer); ok {
		if task := syncer.PixelSync(req.Request, extraInfo); task != nil {
			if e.config.ServerPixels && pixels != nil {
				pixels.Schedule(task)
				response.PixelScheduled = true
			} else {
				response.Pixel = task
			}
		}
	}

	if metrics != nil {
		recordRound(metrics, bidderCode, result, response, time.Since(start), len(req.Request.AdUnits))
	}

	event := log.Debug()
	if response.Status == StatusError || response.Status == StatusAborted {
		event = log.Info()
	}
	event.
		Str("bidder", bidderCode).
		Str("publisher_id", req.Request.PublisherID).
		Str("status", response.Status).
		Int("ad_units", len(req.Request.AdUnits)).
		Int("results", len(response.Results)).
		Int("errors", len(result.Errors)).
		Dur("latency", result.Latency).
		Bool("pixel_scheduled", response.PixelScheduled).
		Msg("auction round complete")

	return response, nil
}

// lookupSettings resolves the host settings for the round. A failing or
// slow store leaves the round to the ad unit params alone.
func (e *Exchange) lookupSettings(ctx context.Context, store settings.Store, metrics MetricsRecorder, publisherID, bidderCode string) map[string]string {
	if store == nil {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.config.SettingsTimeout)
	defer cancel()

	values, err := store.BidderSettings(lookupCtx, publisherID, bidderCode)

	outcome := "hit"
	switch {
	case err != nil:
		outcome = "error"
		logger.FromContext(ctx).Warn().
			Err(err).
			Str("publisher_id", publisherID).
			Str("bidder", bidderCode).
			Msg("bidder settings lookup failed")
		values = nil
	case len(values) == 0:
		outcome = "miss"
	}
	if metrics != nil {
		metrics.RecordSettingsLookup(outcome)
	}
	return values
}

// callBidder makes the requests for one bidder and maps its responses into
// sink. Results are forwarded even when they name unknown ad units.
func (e *Exchange) callBidder(ctx context.Context, httpClient adapters.HTTPClient, req *adapters.AuctionRequest, bidderCode string, adapter adapters.Adapter, extraInfo *adapters.ExtraRequestInfo, timeout time.Duration, sink adapters.ResultSink) *BidderResult {
	start := time.Now()
	result := &BidderResult{BidderCode: bidderCode}

	requests, errs := adapter.MakeRequests(req, extraInfo)
	if len(errs) > 0 {
		result.Errors = append(result.Errors, errs...)
	}

	select {
	case <-ctx.Done():
		logger.Bidder(bidderCode).Debug().
			Dur("elapsed", time.Since(start)).
			Msg("bidder timed out after MakeRequests")
		result.Errors = append(result.Errors, adapters.NewTransportError(bidderCode, ctx.Err()))
		result.Latency = time.Since(start)
		result.TimedOut = true
		return result
	default:
	}

	for _, reqData := range requests {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, adapters.NewTransportError(bidderCode, ctx.Err()))
			result.TimedOut = true
			break
		}

		result.Sent = true
		resp, err := httpClient.Do(ctx, reqData, timeout)
		if err != nil {
			transportErr := adapters.NewTransportError(bidderCode, err)
			logger.Bidder(bidderCode).Debug().
				Str("uri", reqData.URI).
				Dur("elapsed", time.Since(start)).
				Bool("timeout", adapters.IsTimeout(transportErr)).
				Err(err).
				Msg("bidder HTTP request failed")
			result.Errors = append(result.Errors, transportErr)
			if adapters.IsTimeout(transportErr) {
				result.TimedOut = true
			}
			continue
		}

		bidderResp, errs := adapter.MakeBids(req, resp)
		if len(errs) > 0 {
			result.Errors = append(result.Errors, errs...)
		}
		if bidderResp == nil {
			continue
		}

		for _, r := range bidderResp.Results {
			sink.Add(r)
		}
		result.Results = append(result.Results, bidderResp.Results...)
	}

	result.UnknownAdUnits = adapters.UnknownAdUnits(req, result.Results)
	result.Latency = time.Since(start)
	return result
}

// roundStatus summarizes a bidder call
func roundStatus(result *BidderResult) string {
	if !result.Sent {
		return StatusAborted
	}
	for _, r := range result.Results {
		if r.Status == adapters.BidStatusAvailable {
			return StatusOK
		}
	}
	for _, err := range result.Errors {
		var bidderErr *adapters.BidderError
		if errors.As(err, &bidderErr) && bidderErr.Code == adapters.ErrorCodeParse {
			continue
		}
		return StatusError
	}
	return StatusNoBids
}

func recordRound(m MetricsRecorder, bidderCode string, result *BidderResult, response *AuctionResponse, duration time.Duration, adUnits int) {
	m.RecordAuction(response.Status, duration, adUnits)

	if result.Sent {
		m.RecordBidderRequest(bidderCode, result.Latency, errorType(result.Errors), result.TimedOut)
	}
	for _, err := range result.Errors {
		var bidderErr *adapters.BidderError
		if errors.As(err, &bidderErr) && bidderErr.Code == adapters.ErrorCodeParse {
			m.RecordMalformedResponse(bidderCode)
		}
	}
	for _, r := range result.Results {
		m.RecordBidResult(bidderCode, r.Status.String(), r.CPM)
	}
	if len(result.UnknownAdUnits) > 0 {
		m.RecordUnknownAdUnits(bidderCode, len(result.UnknownAdUnits))
	}
}

// errorType names the first classified error, lower-cased for labels
func errorType(errs []error) string {
	for _, err := range errs {
		var bidderErr *adapters.BidderError
		if errors.As(err, &bidderErr) {
			return strings.ToLower(string(bidderErr.Code))
		}
	}
	if len(errs) > 0 {
		return "other"
	}
	return ""
}
