// Package config provides 12-factor configuration for the bridge daemon.
//
// Configuration is loaded from environment variables with sensible defaults.
// A YAML or TOML file can overlay the environment for deployments that prefer
// checked-in settings.
//
// Configuration Sections:
//   - Bridge: origin, allowlist, timeouts, size and age limits, diagnostics
//   - Hub: WebSocket relay listen address and path
//   - Logging: Log level and output format
//   - RateLimit: Per-connection inbound message rate
//
// Example Usage:
//
//	cfg, err := config.LoadFile("bridged.yaml")
//	if err != nil {
//		cfg = config.LoadOrDefault()
//	}
//
// Environment Variables:
//   - BRIDGE_ORIGIN, BRIDGE_ALLOWED_ORIGINS (comma separated)
//   - BRIDGE_MESSAGE_TIMEOUT, BRIDGE_MAX_MESSAGE_SIZE, BRIDGE_MAX_MESSAGE_AGE
//   - BRIDGE_SECURITY_LEVEL, BRIDGE_DEBUG
//   - PORT, HOST, HUB_PATH, HUB_WRITE_TIMEOUT, HUB_RESOURCE_DIR
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_MPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
