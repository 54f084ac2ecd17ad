// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Bridges log message drops and dead letters at debug level. Diagnostic(false)
// silences those entries without touching warnings and errors.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Hub listening", zap.String("addr", ":8787"))
//	logger.Named("bridge").Diagnostic(cfg.Debug).Debug("dropped", zap.String("reason", "origin"))
package logging
