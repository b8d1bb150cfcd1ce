package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raaihank/report-sentinel/internal/cache"
	"github.com/raaihank/report-sentinel/internal/config"
	"github.com/raaihank/report-sentinel/internal/feedback"
	"github.com/raaihank/report-sentinel/internal/logger"
	"github.com/raaihank/report-sentinel/internal/privacy"
	"github.com/raaihank/report-sentinel/internal/server"
	"github.com/raaihank/report-sentinel/internal/websocket"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the health endpoint at this base URL (e.g. http://localhost:8080) and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("report-sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting report-sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	var detectorOpts []privacy.Option
	var responseCache *cache.DetectionCache
	if cfg.Cache.Enabled {
		responseCache, err = cache.NewDetectionCache(cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			// detection works without the cache
			log.Warn("Remote response cache unavailable", zap.Error(err))
		} else {
			defer responseCache.Close()
			detectorOpts = append(detectorOpts, privacy.WithResponseCache(responseCache))
		}
	}

	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"), detectorOpts...)
	if err != nil {
		log.Fatal("Failed to create privacy detector", zap.Error(err))
	}

	var sink websocket.FeedbackSink
	var recorder *feedback.Recorder
	if cfg.Feedback.Enabled {
		store, err := openFeedbackStore(cfg.Feedback, log)
		if err != nil {
			log.Fatal("Failed to open feedback store", zap.Error(err))
		}
		recorder = feedback.NewRecorder(store, feedback.RecorderConfig{
			BufferSize:    cfg.Feedback.BufferSize,
			BatchSize:     cfg.Feedback.BatchSize,
			FlushInterval: cfg.Feedback.FlushInterval,
		}, log.WithComponent("feedback").Logger)
		sink = recorder
	}

	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(websocket.HubConfig{
			BroadcastDetections:  cfg.WebSocket.Events.BroadcastDetections,
			BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
			BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
			Username:             cfg.WebSocket.Username,
			Password:             cfg.WebSocket.Password,
			MaxConnections:       cfg.WebSocket.MaxConnections,
			MaxFields:            cfg.WebSocket.MaxFields,
			MaxMessageSize:       cfg.WebSocket.MaxMessageSize,
			ReadBufferSize:       cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:      cfg.WebSocket.WriteBufferSize,
			PingInterval:         cfg.WebSocket.PingInterval,
			PongTimeout:          cfg.WebSocket.PongTimeout,
			WriteTimeout:         cfg.WebSocket.WriteTimeout,
			AllowedOrigins:       cfg.WebSocket.AllowedOrigins,
		}, detector, sink, log.Logger)
	}

	srv := server.New(cfg, log, detector, hub, sink)

	err = config.Watch(func(newConfig *config.Config) {
		if err := detector.UpdateConfig(newConfig.Privacy); err != nil {
			log.Error("Rejected privacy configuration reload", zap.Error(err))
			return
		}
		log.Info("Configuration reloaded")
	}, func(err error) {
		log.Error("Configuration reload failed", zap.Error(err))
	})
	if err != nil {
		log.Info("Configuration hot reload disabled", zap.String("reason", err.Error()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()

		if err := srv.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
	}

	cancel()
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Error("Failed to close feedback recorder", zap.Error(err))
		}
		stats := recorder.Stats()
		log.Info("Feedback recorder closed",
			zap.Int64("recorded", stats.Recorded),
			zap.Int64("dropped", stats.Dropped),
			zap.Int64("failed", stats.Failed),
		)
	}

	log.Info("Server shutdown complete")
}

// openFeedbackStore returns the Postgres store when a database is
// configured and an in-memory store otherwise
func openFeedbackStore(cfg config.FeedbackConfig, log *logger.Logger) (feedback.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("No feedback database configured, keeping feedback in memory")
		return feedback.NewMemoryStore(), nil
	}

	return feedback.NewPostgresStore(feedback.Config{
		DatabaseURL:     cfg.DatabaseURL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, log.WithComponent("feedback_store").Logger)
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
