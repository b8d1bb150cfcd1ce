package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Privacy   PrivacyConfig   `yaml:"privacy" mapstructure:"privacy"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Feedback  FeedbackConfig  `yaml:"feedback" mapstructure:"feedback"`
	Security  SecurityConfig  `yaml:"security" mapstructure:"security"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// Detection backends
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// PrivacyConfig contains PII detection and redaction configuration
type PrivacyConfig struct {
	Enabled   bool     `yaml:"enabled" mapstructure:"enabled"`
	Detectors []string `yaml:"detectors" mapstructure:"detectors"`
	// Backend is "local" or "remote". Anything else is treated as local
	// when a detection call is made.
	Backend               string       `yaml:"backend" mapstructure:"backend"`
	DebounceMs            int          `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	ConfidenceThreshold   float64      `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	EnableContextAnalysis bool         `yaml:"enable_context_analysis" mapstructure:"enable_context_analysis"`
	Remote                RemoteConfig `yaml:"remote" mapstructure:"remote"`
}

// Debounce returns the debounce interval as a duration
func (p PrivacyConfig) Debounce() time.Duration {
	return time.Duration(p.DebounceMs) * time.Millisecond
}

// RemoteConfig describes the external detection service
type RemoteConfig struct {
	URL         string        `yaml:"url" mapstructure:"url"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	EntityTypes []string      `yaml:"entity_types" mapstructure:"entity_types"`
}

// CacheConfig contains Redis cache configuration for remote detection responses
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// FeedbackConfig contains feedback recorder configuration
type FeedbackConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// DatabaseURL selects the Postgres store; empty keeps feedback in memory
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	BufferSize      int           `yaml:"buffer_size" mapstructure:"buffer_size"`
	BatchSize       int           `yaml:"batch_size" mapstructure:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`
}

// SecurityConfig contains request guardrails configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-client request limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	MaxFields       int           `yaml:"max_fields" mapstructure:"max_fields"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Username        string        `yaml:"username" mapstructure:"username"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Events          struct {
		BroadcastDetections  bool `yaml:"broadcast_detections" mapstructure:"broadcast_detections"`
		BroadcastSystem      bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Privacy: PrivacyConfig{
			Enabled:               true,
			Detectors:             []string{"all"},
			Backend:               BackendLocal,
			DebounceMs:            500,
			ConfidenceThreshold:   0.5,
			EnableContextAnalysis: false,
			Remote: RemoteConfig{
				URL:     "http://localhost:5001/api/detect-pii",
				Timeout: 5 * time.Second,
			},
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     10 * time.Minute,
			KeyPrefix:      "pii:remote:",
		},
		Feedback: FeedbackConfig{
			Enabled:         true,
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			BufferSize:      1024,
			BatchSize:       50,
			FlushInterval:   2 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 600,
				Burst:          60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  64 * 1024, // report fields can be long
			MaxFields:       16,
			AllowedOrigins:  []string{"*"},
		},
	}

	cfg.Logging.File.Path = "logs/report-sentinel.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true

	cfg.WebSocket.Events.BroadcastDetections = true
	cfg.WebSocket.Events.BroadcastSystem = true
	cfg.WebSocket.Events.BroadcastConnections = false

	return cfg
}
