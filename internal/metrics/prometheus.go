// Package metrics provides Prometheus metrics for the header-tag bridge
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auction metrics
	AuctionsTotal   *prometheus.CounterVec
	AuctionDuration prometheus.Histogram
	AdUnitsPerRound prometheus.Histogram
	BidResults      *prometheus.CounterVec
	BidCPM          *prometheus.HistogramVec

	// Bidder metrics
	BidderRequests     *prometheus.CounterVec
	BidderLatency      *prometheus.HistogramVec
	BidderErrors       *prometheus.CounterVec
	BidderTimeouts     *prometheus.CounterVec
	MalformedResponses *prometheus.CounterVec
	UnknownAdUnits     *prometheus.CounterVec

	// Pixel sync metrics
	PixelSyncs *prometheus.CounterVec

	// System metrics
	SettingsLookups   *prometheus.CounterVec
	SizeLimitRejected *prometheus.CounterVec
	RateLimitRejected prometheus.Counter
	AuthFailures      prometheus.Counter
}

// NewMetrics creates all metrics and registers them on a registry owned by
// the returned Metrics, alongside the Go runtime and process collectors
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "c1x"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		// Request metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		// Auction metrics
		AuctionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auctions_total",
				Help:      "Total number of auction rounds by outcome",
			},
			[]string{"status"},
		),
		AuctionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auction_duration_seconds",
				Help:      "Auction round duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, .75, 1, 1.5, 2},
			},
		),
		AdUnitsPerRound: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ad_units_per_round",
				Help:      "Number of ad units sent per auction round",
				Buckets:   []float64{1, 2, 3, 5, 7, 10, 15, 20, 30},
			},
		),
		BidResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bid_results_total",
				Help:      "Total ad unit results by status",
			},
			[]string{"bidder", "status"},
		),
		BidCPM: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bid_cpm",
				Help:      "CPM distribution of available bids",
				Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 20, 50},
			},
			[]string{"bidder"},
		),

		// Bidder metrics
		BidderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bidder_requests_total",
				Help:      "Total requests to each bidder",
			},
			[]string{"bidder"},
		),
		BidderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bidder_latency_seconds",
				Help:      "Bidder response latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .15, .2, .3, .5, .75, 1},
			},
			[]string{"bidder"},
		),
		BidderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bidder_errors_total",
				Help:      "Total errors from bidders",
			},
			[]string{"bidder", "error_type"},
		),
		BidderTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bidder_timeouts_total",
				Help:      "Total timeouts from bidders",
			},
			[]string{"bidder"},
		),
		MalformedResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_responses_total",
				Help:      "Bidder responses discarded because they could not be parsed",
			},
			[]string{"bidder"},
		),
		UnknownAdUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unknown_ad_unit_results_total",
				Help:      "Results naming an ad unit that was not in the round",
			},
			[]string{"bidder"},
		),

		// Pixel sync metrics
		PixelSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pixel_syncs_total",
				Help:      "Audience pixel syncs by outcome",
			},
			[]string{"bidder", "outcome"},
		),

		// System metrics
		SettingsLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settings_lookups_total",
				Help:      "Bidder settings lookups by outcome",
			},
			[]string{"outcome"},
		),
		SizeLimitRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "size_limit_rejected_total",
				Help:      "Total requests rejected by the size limiter",
			},
			[]string{"reason"},
		),
		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Total auction requests rejected by the rate limiter",
			},
		),
		AuthFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total admin requests rejected for a missing or invalid API key",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.AuctionsTotal,
		m.AuctionDuration,
		m.AdUnitsPerRound,
		m.BidResults,
		m.BidCPM,
		m.BidderRequests,
		m.BidderLatency,
		m.BidderErrors,
		m.BidderTimeouts,
		m.MalformedResponses,
		m.UnknownAdUnits,
		m.PixelSyncs,
		m.SettingsLookups,
		m.SizeLimitRejected,
		m.RateLimitRejected,
		m.AuthFailures,
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware returns HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)

		m.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		m.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordAuction records the outcome of one auction round
func (m *Metrics) RecordAuction(status string, duration time.Duration, adUnits int) {
	m.AuctionsTotal.WithLabelValues(status).Inc()
	m.AuctionDuration.Observe(duration.Seconds())
	if adUnits > 0 {
		m.AdUnitsPerRound.Observe(float64(adUnits))
	}
}

// RecordBidResult records one ad unit result. CPM is observed for
// available bids only.
func (m *Metrics) RecordBidResult(bidder, status string, cpm float64) {
	m.BidResults.WithLabelValues(bidder, status).Inc()
	if status == "available" {
		m.BidCPM.WithLabelValues(bidder).Observe(cpm)
	}
}

// RecordBidderRequest records a request to a bidder. errorType is empty
// for a successful call.
func (m *Metrics) RecordBidderRequest(bidder string, latency time.Duration, errorType string, timedOut bool) {
	m.BidderRequests.WithLabelValues(bidder).Inc()
	m.BidderLatency.WithLabelValues(bidder).Observe(latency.Seconds())

	if errorType != "" {
		m.BidderErrors.WithLabelValues(bidder, errorType).Inc()
	}
	if timedOut {
		m.BidderTimeouts.WithLabelValues(bidder).Inc()
	}
}

// RecordMalformedResponse records a discarded bidder response
func (m *Metrics) RecordMalformedResponse(bidder string) {
	m.MalformedResponses.WithLabelValues(bidder).Inc()
}

// RecordUnknownAdUnits records results that named no ad unit in the round
func (m *Metrics) RecordUnknownAdUnits(bidder string, count int) {
	if count > 0 {
		m.UnknownAdUnits.WithLabelValues(bidder).Add(float64(count))
	}
}

// RecordPixel records a pixel sync outcome.
// Implements usersync.SchedulerMetrics interface
func (m *Metrics) RecordPixel(bidder, outcome string) {
	m.PixelSyncs.WithLabelValues(bidder, outcome).Inc()
}

// RecordSettingsLookup records a settings store lookup outcome
func (m *Metrics) RecordSettingsLookup(outcome string) {
	m.SettingsLookups.WithLabelValues(outcome).Inc()
}

// IncSizeLimitRejected increments the size limit rejected counter.
// Implements middleware.SizeLimitMetrics interface
func (m *Metrics) IncSizeLimitRejected(reason string) {
	m.SizeLimitRejected.WithLabelValues(reason).Inc()
}

// IncRateLimitRejected increments the rate limit rejected counter.
// Implements middleware.RateLimitMetrics interface
func (m *Metrics) IncRateLimitRejected() {
	m.RateLimitRejected.Inc()
}

// IncAuthFailures increments the admin auth failure counter.
// Implements middleware.AuthMetrics interface
func (m *Metrics) IncAuthFailures() {
	m.AuthFailures.Inc()
}
