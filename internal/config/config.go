// Package config handles configuration loading and management for Lever.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// Config holds all configuration for Lever.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Templates TemplatesConfig `mapstructure:"templates"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Model is the Claude model name.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes requests through AWS Bedrock.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the host:port the API server binds to.
	ListenAddr string `mapstructure:"listen_addr"`
	// ShutdownGrace bounds graceful shutdown.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// StorageConfig holds event store settings.
type StorageConfig struct {
	// DBPath is the sqlite database path. Empty uses the XDG data default.
	DBPath string `mapstructure:"db_path"`
	// InMemory uses the in-memory store instead of sqlite.
	InMemory bool `mapstructure:"in_memory"`
}

// EngineConfig holds orchestration settings.
type EngineConfig struct {
	// DispatchTimeout bounds a single agent dispatch.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	// RetryBackoff is the base backoff between phase retry attempts.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// UIRequestTimeout is the default expiry for UI augmentation requests.
	UIRequestTimeout time.Duration `mapstructure:"ui_request_timeout"`
	// ResumeTokenTTL is how long resume tokens stay valid.
	ResumeTokenTTL time.Duration `mapstructure:"resume_token_ttl"`
	// ExpirySweepInterval is how often expired requests are swept.
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
}

// TemplatesConfig holds task template settings.
type TemplatesConfig struct {
	// Dir is the directory containing task-type template YAML files.
	Dir string `mapstructure:"dir"`
	// HotReload watches Dir and reloads templates on change.
	HotReload bool `mapstructure:"hot_reload"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, LEVER_*)
// 2. Project config (.lever.yaml in current directory or parent)
// 3. User config (~/.config/lever/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("LEVER")

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("server.listen_addr", "LEVER_LISTEN_ADDR")
	v.BindEnv("storage.db_path", "LEVER_DB_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetAPIKey returns the Anthropic API key. It checks the environment
// variable first, then the config file.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		return cfg.Anthropic.APIKey, nil
	}
	return "", ErrNoAPIKey
}

// MaskAPIKey returns a masked version of the API key for display.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("server.listen_addr", "127.0.0.1:8090")
	v.SetDefault("server.shutdown_grace", "10s")

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.in_memory", false)

	v.SetDefault("engine.dispatch_timeout", "5m")
	v.SetDefault("engine.retry_backoff", "2s")
	v.SetDefault("engine.ui_request_timeout", "24h")
	v.SetDefault("engine.resume_token_ttl", "72h")
	v.SetDefault("engine.expiry_sweep_interval", "1m")

	v.SetDefault("templates.dir", "templates")
	v.SetDefault("templates.hot_reload", false)
}

// getUserConfigDir returns the XDG config directory for Lever.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "lever")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "lever")
	}
	return filepath.Join(home, ".config", "lever")
}

// findProjectConfig searches for .lever.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".lever.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:    "127.0.0.1:8090",
			ShutdownGrace: 10 * time.Second,
		},
		Engine: EngineConfig{
			DispatchTimeout:     5 * time.Minute,
			RetryBackoff:        2 * time.Second,
			UIRequestTimeout:    24 * time.Hour,
			ResumeTokenTTL:      72 * time.Hour,
			ExpirySweepInterval: time.Minute,
		},
		Templates: TemplatesConfig{
			Dir: "templates",
		},
	}
}
