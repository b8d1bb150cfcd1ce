package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/report-sentinel/internal/config"
	"github.com/raaihank/report-sentinel/internal/logger"
	"github.com/raaihank/report-sentinel/internal/privacy"
	"github.com/raaihank/report-sentinel/internal/security"
	"github.com/raaihank/report-sentinel/internal/websocket"
	"go.uber.org/zap"
)

const (
	version        = "0.1.0"
	statusInterval = 10 * time.Second
)

// Server serves the detection API and the live websocket endpoint
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	detector  *privacy.Detector
	feedback  websocket.FeedbackSink
	limiter   *security.RateLimiter
	router    *mux.Router
	server    *http.Server
	wsHub     *websocket.Hub
	startedAt time.Time
}

// New creates a server. hub and sink may be nil when the websocket
// endpoint or feedback recording is disabled.
func New(cfg *config.Config, log *logger.Logger, detector *privacy.Detector, hub *websocket.Hub, sink websocket.FeedbackSink) *Server {
	if log == nil {
		log = logger.Wrap(nil)
	}

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		detector:  detector,
		feedback:  sink,
		limiter:   security.NewRateLimiter(cfg.Security.RateLimit),
		router:    mux.NewRouter(),
		wsHub:     hub,
		startedAt: time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	api.HandleFunc("/redact-one", s.handleRedactOne).Methods(http.MethodPost)
	api.HandleFunc("/feedback", s.handleFeedback).Methods(http.MethodPost)

	// The upgrade needs the raw ResponseWriter, so the logging wrapper is
	// not applied here; the hub logs connections itself.
	if s.wsHub != nil && s.config.WebSocket.Enabled {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.Handle(path, s.rateLimitMiddleware(http.HandlerFunc(s.wsHub.HandleWebSocket))).Methods(http.MethodGet)
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and background loops, then serves until the server
// is stopped. Background work ends when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting report-sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("backend", s.config.Privacy.Backend),
		zap.Bool("websocket_enabled", s.wsHub != nil && s.config.WebSocket.Enabled),
	)

	s.limiter.StartCleanupRoutine(ctx.Done())

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
		go s.broadcastStatus(ctx)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping report-sentinel server")
	return s.server.Shutdown(ctx)
}

// broadcastStatus periodically publishes a status snapshot to dashboards
func (s *Server) broadcastStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.wsHub.BroadcastSystemStatus(s.systemStatus())
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	stats := s.wsHub.GetStats()
	return websocket.SystemStatusEvent{
		Status:           "healthy",
		Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
		Backend:          s.detector.Options().Backend,
		TotalDetections:  stats.TotalDetections,
		ActiveRules:      len(s.detector.GetEnabledRules()),
		ConnectedClients: int(stats.ActiveConnections),
		ActiveSessions:   stats.ActiveSessions,
	}
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}
