package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	loadedMu sync.Mutex
	loaded   *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/report-sentinel/")
	v.AddConfigPath("$HOME/.report-sentinel/")

	// Environment variable overrides
	v.SetEnvPrefix("SENTINEL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	registerEnvDefaults(v, config)

	// Use specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read configuration
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loadedMu.Lock()
	loaded = v
	loadedMu.Unlock()

	return config, nil
}

// registerEnvDefaults makes the keys most often overridden from the
// environment known to viper; AutomaticEnv only resolves known keys.
func registerEnvDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("privacy.enabled", c.Privacy.Enabled)
	v.SetDefault("privacy.backend", c.Privacy.Backend)
	v.SetDefault("privacy.debounce_ms", c.Privacy.DebounceMs)
	v.SetDefault("privacy.confidence_threshold", c.Privacy.ConfidenceThreshold)
	v.SetDefault("privacy.enable_context_analysis", c.Privacy.EnableContextAnalysis)
	v.SetDefault("privacy.remote.url", c.Privacy.Remote.URL)
	v.SetDefault("privacy.remote.api_key", c.Privacy.Remote.APIKey)
	v.SetDefault("cache.enabled", c.Cache.Enabled)
	v.SetDefault("cache.redis_url", c.Cache.RedisURL)
	v.SetDefault("feedback.database_url", c.Feedback.DatabaseURL)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Privacy.DebounceMs < 0 {
		return fmt.Errorf("invalid debounce_ms: %d (must not be negative)", config.Privacy.DebounceMs)
	}

	if config.Privacy.ConfidenceThreshold < 0 || config.Privacy.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid confidence_threshold: %.2f (must be between 0 and 1)", config.Privacy.ConfidenceThreshold)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the most recently loaded configuration file and
// invokes callback with every valid new configuration. Invalid updates are
// reported through onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	loadedMu.Lock()
	v := loaded
	loadedMu.Unlock()

	if v == nil {
		return errors.New("configuration has not been loaded")
	}
	if v.ConfigFileUsed() == "" {
		return errors.New("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
