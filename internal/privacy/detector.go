package privacy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/raaihank/report-sentinel/internal/config"
	"github.com/raaihank/report-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Options are resolved once per detection call
type Options struct {
	Backend               string
	ConfidenceThreshold   float64
	EnableContextAnalysis bool
}

// Detector is the detection façade. It selects the local or remote engine
// per call from its current configuration.
type Detector struct {
	mu     sync.RWMutex
	config config.PrivacyConfig
	base   *Registry
	local  *LocalEngine
	remote *RemoteEngine
	cache  ResponseCache
	client *http.Client
	logger *logger.Logger
}

// Option customises a Detector
type Option func(*Detector)

// WithResponseCache enables caching of remote service responses
func WithResponseCache(c ResponseCache) Option {
	return func(d *Detector) { d.cache = c }
}

// WithHTTPClient overrides the HTTP client used by the remote engine
func WithHTTPClient(c *http.Client) Option {
	return func(d *Detector) { d.client = c }
}

// WithRegistry replaces the built-in rule catalog
func WithRegistry(r *Registry) Option {
	return func(d *Detector) { d.base = r }
}

// New creates a new PII detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger, opts ...Option) (*Detector, error) {
	if log == nil {
		log = logger.Wrap(nil)
	}

	detector := &Detector{
		base:   DefaultRegistry(),
		logger: log,
	}
	for _, opt := range opts {
		opt(detector)
	}

	if err := detector.configure(cfg); err != nil {
		return nil, err
	}

	log.Info("Privacy detector initialized",
		zap.Int("total_rules", detector.base.Len()),
		zap.Int("enabled_rules", detector.local.Registry().Len()),
		zap.String("backend", cfg.Backend),
		zap.Bool("remote_configured", detector.remote != nil),
	)

	return detector, nil
}

// configure builds the engines for cfg and swaps them in
func (d *Detector) configure(cfg config.PrivacyConfig) error {
	names := cfg.Detectors
	if len(names) == 0 {
		names = []string{"all"}
	}
	registry, err := d.base.Select(names)
	if err != nil {
		return fmt.Errorf("failed to configure detectors: %w", err)
	}

	var remote *RemoteEngine
	if strings.TrimSpace(cfg.Remote.URL) != "" {
		remote, err = NewRemoteEngine(RemoteConfig{
			Endpoint: cfg.Remote.URL,
			APIKey:   cfg.Remote.APIKey,
			Timeout:  cfg.Remote.Timeout,
			Client:   d.client,
			Registry: d.base,
			Cache:    d.cache,
			Defaults: RemoteOptions{
				EnableAI:            cfg.EnableContextAnalysis,
				ConfidenceThreshold: cfg.ConfidenceThreshold,
				EntityTypes:         cfg.Remote.EntityTypes,
			},
		}, d.logger.WithComponent("remote_detector").Logger)
		if err != nil {
			return fmt.Errorf("failed to configure remote detector: %w", err)
		}
	}

	d.mu.Lock()
	d.config = cfg
	d.local = NewLocalEngine(registry)
	d.remote = remote
	d.mu.Unlock()

	return nil
}

// UpdateConfig applies a reloaded privacy configuration. Calls already in
// progress finish with the configuration they started with.
func (d *Detector) UpdateConfig(cfg config.PrivacyConfig) error {
	if err := d.configure(cfg); err != nil {
		return err
	}
	d.logger.Info("Privacy detector reconfigured",
		zap.String("backend", cfg.Backend),
		zap.Strings("detectors", cfg.Detectors),
	)
	return nil
}

// Options returns the per-call options derived from the current configuration
func (d *Detector) Options() Options {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Options{
		Backend:               d.config.Backend,
		ConfidenceThreshold:   d.config.ConfidenceThreshold,
		EnableContextAnalysis: d.config.EnableContextAnalysis,
	}
}

// Debounce returns the configured live-input debounce interval
func (d *Detector) Debounce() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config.Debounce()
}

// Detect runs one detection pass with the current configuration
func (d *Detector) Detect(ctx context.Context, text string) DetectionResult {
	return d.DetectWith(ctx, text, d.Options())
}

// DetectWith runs one detection pass. The backend is chosen once, up front;
// an unknown backend, or remote without an endpoint, falls back to local.
func (d *Detector) DetectWith(ctx context.Context, text string, opts Options) DetectionResult {
	d.mu.RLock()
	enabled := d.config.Enabled
	local, remote := d.local, d.remote
	entityTypes := d.config.Remote.EntityTypes
	d.mu.RUnlock()

	if !enabled {
		return EmptyResult(text)
	}

	backend, known := ParseBackend(opts.Backend)
	if !known {
		d.logger.Warn("Unknown detection backend, using local",
			zap.String("backend", opts.Backend),
		)
	}
	if backend == BackendRemote && remote == nil {
		d.logger.Warn("Remote backend selected without an endpoint, using local")
		backend = BackendLocal
	}

	var result DetectionResult
	switch backend {
	case BackendRemote:
		result = remote.DetectWith(ctx, text, RemoteOptions{
			EnableAI:            opts.EnableContextAnalysis,
			ConfidenceThreshold: opts.ConfidenceThreshold,
			EntityTypes:         entityTypes,
		})
	default:
		result = local.Detect(ctx, text)
	}

	d.logger.LogDetection(result.Backend, result.Stats, result.Unavailable)
	return result
}

// GetEnabledRules returns the enabled rule types in scan order
func (d *Detector) GetEnabledRules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.local.Registry().Types()
}
