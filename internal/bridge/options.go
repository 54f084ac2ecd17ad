package bridge

import (
	"time"

	"github.com/GriffinCanCode/envbridge/internal/bridge/envelope"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/envbridge/internal/shared/id"
)

// DefaultMessageTimeout bounds how long a request waits for its response
const DefaultMessageTimeout = 5 * time.Second

// Config holds the settings of one bridge
type Config struct {
	// Origin is stamped as source on every outbound envelope
	Origin         string
	AllowedOrigins []string
	MessageTimeout time.Duration
	MaxMessageSize int
	MaxMessageAge  time.Duration
	// SecurityLevel is informational; it is logged but changes no behavior
	SecurityLevel string
	// Debug enables diagnostic logs for drops and dead letters
	Debug bool
}

// ConfigFrom converts the application configuration section
func ConfigFrom(c config.BridgeConfig) Config {
	return Config{
		Origin:         c.Origin,
		AllowedOrigins: append([]string(nil), c.AllowedOrigins...),
		MessageTimeout: c.MessageTimeout,
		MaxMessageSize: c.MaxMessageSize,
		MaxMessageAge:  c.MaxMessageAge,
		SecurityLevel:  c.SecurityLevel,
		Debug:          c.Debug,
	}
}

func (c Config) withDefaults() Config {
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = DefaultMessageTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = envelope.DefaultMaxMessageSize
	}
	if c.MaxMessageAge <= 0 {
		c.MaxMessageAge = envelope.DefaultMaxAge
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = config.SecurityStrict
	}
	return c
}

// SendOptions controls a single send
type SendOptions struct {
	RequiresResponse bool
	// Timeout overrides Config.MessageTimeout when positive
	Timeout time.Duration
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *monitoring.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithClock replaces time.Now for envelope stamping, age checks and elapsed times
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// WithIDGenerator replaces the message id source
func WithIDGenerator(g *id.Generator) Option {
	return func(b *Bridge) {
		b.ids = g
	}
}

// WithInboundObserver receives every inbound state transition
func WithInboundObserver(fn func(InboundEvent)) Option {
	return func(b *Bridge) {
		b.observe = fn
	}
}
