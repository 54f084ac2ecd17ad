package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Bridge    BridgeConfig
	Hub       HubConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// BridgeConfig holds the communication bridge settings.
type BridgeConfig struct {
	Origin         string        `envconfig:"BRIDGE_ORIGIN" default:"http://localhost:8787"`
	AllowedOrigins []string      `envconfig:"BRIDGE_ALLOWED_ORIGINS"`
	MessageTimeout time.Duration `envconfig:"BRIDGE_MESSAGE_TIMEOUT" default:"5s"`
	MaxMessageSize int           `envconfig:"BRIDGE_MAX_MESSAGE_SIZE" default:"1048576"`
	MaxMessageAge  time.Duration `envconfig:"BRIDGE_MAX_MESSAGE_AGE" default:"60s"`
	SecurityLevel  string        `envconfig:"BRIDGE_SECURITY_LEVEL" default:"strict"`
	Debug          bool          `envconfig:"BRIDGE_DEBUG" default:"false"`
}

// HubConfig holds the WebSocket relay configuration.
type HubConfig struct {
	Port         string        `envconfig:"PORT" default:"8787"`
	Host         string        `envconfig:"HOST" default:"0.0.0.0"`
	Path         string        `envconfig:"HUB_PATH" default:"/bridge"`
	WriteTimeout time.Duration `envconfig:"HUB_WRITE_TIMEOUT" default:"10s"`
	ResourceDir  string        `envconfig:"HUB_RESOURCE_DIR"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-connection inbound rate limiting.
type RateLimitConfig struct {
	MessagesPerSecond int  `envconfig:"RATE_LIMIT_MPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Security levels. The level is informational; it is logged and exported
// but does not change enforcement.
const (
	SecurityStrict     = "strict"
	SecurityStandard   = "standard"
	SecurityPermissive = "permissive"
)

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads environment configuration and overlays a YAML or TOML file.
// File values win over environment values.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	file.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Origin:         "http://localhost:8787",
			MessageTimeout: 5 * time.Second,
			MaxMessageSize: 1024 * 1024,
			MaxMessageAge:  60 * time.Second,
			SecurityLevel:  SecurityStrict,
		},
		Hub: HubConfig{
			Port:         "8787",
			Host:         "0.0.0.0",
			Path:         "/bridge",
			WriteTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			MessagesPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate checks values that would make the bridge unusable.
func (c *Config) Validate() error {
	b := c.Bridge
	switch {
	case b.Origin == "":
		return fmt.Errorf("invalid config: bridge origin is required")
	case b.MessageTimeout <= 0:
		return fmt.Errorf("invalid config: message timeout must be positive")
	case b.MaxMessageSize <= 0:
		return fmt.Errorf("invalid config: max message size must be positive")
	case b.MaxMessageAge <= 0:
		return fmt.Errorf("invalid config: max message age must be positive")
	}
	switch b.SecurityLevel {
	case SecurityStrict, SecurityStandard, SecurityPermissive:
	default:
		return fmt.Errorf("invalid config: unknown security level %q", b.SecurityLevel)
	}
	return nil
}

// Addr returns the hub listen address.
func (h HubConfig) Addr() string {
	return h.Host + ":" + h.Port
}

// fileConfig mirrors the file layout; durations are milliseconds as in the
// browser-side configuration surface.
type fileConfig struct {
	Bridge struct {
		Origin           *string  `yaml:"origin" toml:"origin"`
		AllowedOrigins   []string `yaml:"allowed_origins" toml:"allowed_origins"`
		MessageTimeoutMs *int64   `yaml:"message_timeout_ms" toml:"message_timeout_ms"`
		MaxMessageSize   *int     `yaml:"max_message_size" toml:"max_message_size"`
		MaxMessageAgeMs  *int64   `yaml:"max_message_age_ms" toml:"max_message_age_ms"`
		SecurityLevel    *string  `yaml:"security_level" toml:"security_level"`
		Debug            *bool    `yaml:"debug" toml:"debug"`
	} `yaml:"bridge" toml:"bridge"`
	Hub struct {
		Host        *string `yaml:"host" toml:"host"`
		Port        *string `yaml:"port" toml:"port"`
		Path        *string `yaml:"path" toml:"path"`
		ResourceDir *string `yaml:"resource_dir" toml:"resource_dir"`
	} `yaml:"hub" toml:"hub"`
	Logging struct {
		Level       *string `yaml:"level" toml:"level"`
		Development *bool   `yaml:"development" toml:"development"`
	} `yaml:"logging" toml:"logging"`
	RateLimit struct {
		MessagesPerSecond *int  `yaml:"messages_per_second" toml:"messages_per_second"`
		Burst             *int  `yaml:"burst" toml:"burst"`
		Enabled           *bool `yaml:"enabled" toml:"enabled"`
	} `yaml:"rate_limit" toml:"rate_limit"`
}

func (f *fileConfig) apply(cfg *Config) {
	b := f.Bridge
	setString(&cfg.Bridge.Origin, b.Origin)
	if b.AllowedOrigins != nil {
		cfg.Bridge.AllowedOrigins = b.AllowedOrigins
	}
	if b.MessageTimeoutMs != nil {
		cfg.Bridge.MessageTimeout = time.Duration(*b.MessageTimeoutMs) * time.Millisecond
	}
	if b.MaxMessageSize != nil {
		cfg.Bridge.MaxMessageSize = *b.MaxMessageSize
	}
	if b.MaxMessageAgeMs != nil {
		cfg.Bridge.MaxMessageAge = time.Duration(*b.MaxMessageAgeMs) * time.Millisecond
	}
	setString(&cfg.Bridge.SecurityLevel, b.SecurityLevel)
	setBool(&cfg.Bridge.Debug, b.Debug)

	setString(&cfg.Hub.Host, f.Hub.Host)
	setString(&cfg.Hub.Port, f.Hub.Port)
	setString(&cfg.Hub.Path, f.Hub.Path)
	setString(&cfg.Hub.ResourceDir, f.Hub.ResourceDir)

	setString(&cfg.Logging.Level, f.Logging.Level)
	setBool(&cfg.Logging.Development, f.Logging.Development)

	if f.RateLimit.MessagesPerSecond != nil {
		cfg.RateLimit.MessagesPerSecond = *f.RateLimit.MessagesPerSecond
	}
	if f.RateLimit.Burst != nil {
		cfg.RateLimit.Burst = *f.RateLimit.Burst
	}
	setBool(&cfg.RateLimit.Enabled, f.RateLimit.Enabled)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
