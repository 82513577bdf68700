package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/thenexusengine/tne_c1x/internal/adapters"
	_ "github.com/thenexusengine/tne_c1x/internal/adapters/c1x"
	pbsconfig "github.com/thenexusengine/tne_c1x/internal/config"
	"github.com/thenexusengine/tne_c1x/internal/endpoints"
	"github.com/thenexusengine/tne_c1x/internal/exchange"
	"github.com/thenexusengine/tne_c1x/internal/metrics"
	"github.com/thenexusengine/tne_c1x/internal/middleware"
	"github.com/thenexusengine/tne_c1x/internal/settings"
	"github.com/thenexusengine/tne_c1x/internal/storage"
	"github.com/thenexusengine/tne_c1x/internal/usersync"
	"github.com/thenexusengine/tne_c1x/pkg/logger"
	"github.com/thenexusengine/tne_c1x/pkg/redis"
)

// Server represents the header-tag bridge server
type Server struct {
	config      *ServerConfig
	httpServer  *http.Server
	metrics     *metrics.Metrics
	exchange    *exchange.Exchange
	scheduler   *usersync.Scheduler
	rateLimiter *middleware.RateLimiter
	rounds      *endpoints.RoundLog
	settings    settings.Store
	publisher   *storage.PublisherStore
	redisClient *redis.Client
}

// NewServer creates a new server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	s := &Server{
		config: cfg,
	}

	if err := s.initialize(); err != nil {
		return nil, err
	}

	return s, nil
}

// initialize sets up all server components
func (s *Server) initialize() error {
	log := logger.Log

	log.Info().
		Str("port", s.config.Port).
		Str("c1x_endpoint", s.config.C1X.Endpoint).
		Bool("server_pixel", s.config.C1X.ServerPixel).
		Dur("timeout", s.config.Timeout).
		Msg("Initializing C1X header-tag bridge")

	s.metrics = metrics.NewMetrics("c1x")

	// Database and Redis failures are non-fatal: static settings still work
	if err := s.initDatabase(); err != nil {
		log.Warn().Err(err).Msg("Database initialization failed, continuing with reduced functionality")
	}
	if err := s.initRedis(); err != nil {
		log.Warn().Err(err).Msg("Redis initialization failed, continuing with reduced functionality")
	}

	s.initSettings()
	s.initExchange()

	bidders := adapters.DefaultRegistry.ListBidders()
	log.Info().
		Int("count", len(bidders)).
		Strs("bidders", bidders).
		Msg("Bidders registered")

	s.initHandlers()

	return nil
}

// initDatabase initializes the publisher store
func (s *Server) initDatabase() error {
	log := logger.Log

	if s.config.DatabaseConfig == nil {
		log.Info().Msg("DB_HOST not set, publisher settings from PostgreSQL disabled")
		return nil
	}

	dbCfg := s.config.DatabaseConfig
	dbConn, err := storage.NewDBConnection(
		dbCfg.Host,
		dbCfg.Port,
		dbCfg.User,
		dbCfg.Password,
		dbCfg.Name,
		dbCfg.SSLMode,
	)
	if err != nil {
		return err
	}

	s.publisher = storage.NewPublisherStore(dbConn)
	log.Info().Str("host", dbCfg.Host).Str("database", dbCfg.Name).Msg("PostgreSQL publisher store connected")
	return nil
}

// initRedis initializes Redis client
func (s *Server) initRedis() error {
	log := logger.Log

	if s.config.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, Redis-backed settings disabled")
		return nil
	}

	client, err := redis.New(s.config.RedisURL)
	if err != nil {
		return err
	}
	s.redisClient = client

	log.Info().Msg("Redis client initialized")
	return nil
}

// initSettings builds the settings lookup: per-publisher settings from
// Redis and PostgreSQL first, host settings from the environment last
func (s *Server) initSettings() {
	var publisherStore settings.Store
	switch {
	case s.publisher != nil && s.redisClient != nil:
		publisherStore = settings.NewCached(s.redisClient, settings.NewDatabase(s.publisher), s.config.SettingsCacheTTL)
	case s.redisClient != nil:
		publisherStore = settings.NewRedis(s.redisClient)
	case s.publisher != nil:
		publisherStore = settings.NewDatabase(s.publisher)
	}

	s.settings = settings.NewChain(publisherStore, settings.NewStatic(s.config.StaticSettings()))

	logger.Log.Info().
		Bool("redis", s.redisClient != nil).
		Bool("database", s.publisher != nil).
		Dur("cache_ttl", s.config.SettingsCacheTTL).
		Msg("Settings lookup initialized")
}

// initExchange initializes the exchange and the pixel scheduler
func (s *Server) initExchange() {
	s.exchange = exchange.New(adapters.DefaultRegistry, s.config.ToExchangeConfig())
	s.exchange.SetMetrics(s.metrics)
	s.exchange.SetSettingsStore(s.settings)

	if s.config.C1X.ServerPixel {
		s.scheduler = usersync.NewScheduler(adapters.NewPixelFirer(adapters.NewHTTPClient(pbsconfig.PixelTimeout)), pbsconfig.PixelTimeout)
		s.scheduler.SetMetrics(s.metrics)
		s.exchange.SetPixelScheduler(s.scheduler)
		logger.Log.Info().Dur("delay", pbsconfig.PixelFireDelay).Msg("Server-side pixel firing enabled")
	}
}

// initHandlers initializes HTTP handlers and builds the handler chain
func (s *Server) initHandlers() {
	s.rounds = endpoints.NewRoundLog(100)

	// Keep nil interfaces nil so the admin handler sees missing backends
	var cache endpoints.SettingsCache
	if s.redisClient != nil {
		cache = s.redisClient
	}
	var db endpoints.SettingsDB
	if s.publisher != nil {
		db = s.publisher
	}
	settingsAdmin := endpoints.NewSettingsAdminHandler(s.settings, cache, db)

	rateLimitConfig := middleware.DefaultRateLimitConfig()
	auction := endpoints.NewAuctionHandler(s.exchange, s.rounds)
	auction.SetTrustedProxies(rateLimitConfig.TrustedProxies)

	mux := http.NewServeMux()
	mux.Handle("/c1x/auction", auction)
	mux.Handle("/status", endpoints.NewStatusHandler())
	mux.Handle("/health", healthHandler())
	mux.Handle("/health/ready", readyHandler(s.redisClient))
	mux.Handle("/info/bidders", endpoints.NewInfoBiddersHandler(adapters.DefaultRegistry))
	mux.Handle("/metrics", s.metrics.Handler())

	mux.Handle("/admin/rounds", endpoints.NewRoundsHandler(s.rounds))
	mux.Handle("/admin/settings/", settingsAdmin)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.buildHandler(mux, rateLimitConfig),
		ReadTimeout:  pbsconfig.ServerReadTimeout,
		WriteTimeout: pbsconfig.ServerWriteTimeout,
		IdleTimeout:  pbsconfig.ServerIdleTimeout,
	}
}

// buildHandler builds the middleware chain
func (s *Server) buildHandler(mux *http.ServeMux, rateLimitConfig *middleware.RateLimitConfig) http.Handler {
	auth := middleware.NewAuth(middleware.DefaultAuthConfig())
	sizeLimiter := middleware.NewSizeLimiter(middleware.DefaultSizeLimitConfig())
	gzipMiddleware := middleware.NewGzip(middleware.DefaultGzipConfig())
	s.rateLimiter = middleware.NewRateLimiter(rateLimitConfig)

	auth.SetMetrics(s.metrics)
	sizeLimiter.SetMetrics(s.metrics)
	s.rateLimiter.SetMetrics(s.metrics)

	logger.Log.Info().
		Bool("admin_auth_enabled", auth.IsEnabled()).
		Int64("max_body_size", sizeLimiter.GetConfig().MaxBodySize).
		Msg("Middleware chain built")

	// Logging -> Size Limit -> Auth -> Rate Limit -> Metrics -> Gzip -> Handler
	handler := http.Handler(mux)
	handler = gzipMiddleware.Middleware(handler)
	handler = s.metrics.Middleware(handler)
	handler = s.rateLimiter.Middleware(handler)
	handler = auth.Middleware(handler)
	handler = sizeLimiter.Middleware(handler)
	handler = middleware.Logging(handler)

	return handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logger.Log.Info().Str("addr", s.httpServer.Addr).Msg("Server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown performs graceful shutdown. Pending pixels are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	log := logger.Log
	log.Info().Msg("Starting graceful shutdown")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	if s.scheduler != nil {
		cancelled := s.scheduler.Stop()
		log.Info().Int("cancelled", cancelled).Msg("Pixel scheduler stopped")
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing Redis client")
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}

// healthHandler returns a simple liveness check
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode health response")
		}
	})
}

// readyHandler returns a readiness check with dependency verification
func readyHandler(redisClient *redis.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]interface{})
		allHealthy := true

		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				checks["redis"] = map[string]interface{}{
					"status": "unhealthy",
					"error":  err.Error(),
				}
				allHealthy = false
			} else {
				checks["redis"] = map[string]interface{}{
					"status": "healthy",
				}
			}
		} else {
			checks["redis"] = map[string]interface{}{
				"status": "disabled",
			}
		}

		status := http.StatusOK
		if !allHealthy {
			status = http.StatusServiceUnavailable
		}

		response := map[string]interface{}{
			"ready":     allHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode readiness response")
		}
	})
}
