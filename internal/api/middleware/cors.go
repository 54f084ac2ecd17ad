package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines CORS configuration options.
type CORSConfig struct {
	// AllowOriginFunc decides per request; it takes precedence over AllowOrigins.
	AllowOriginFunc  func(origin string) bool
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig returns a configuration that admits origins accepted by allow.
func DefaultCORSConfig(allow func(origin string) bool) CORSConfig {
	return CORSConfig{
		AllowOriginFunc: allow,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Accept",
			"Origin",
			"Cache-Control",
			"X-Requested-With",
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
}

// CORS creates a CORS middleware with the provided configuration.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
	if cfg.AllowOriginFunc != nil {
		c.AllowOriginFunc = cfg.AllowOriginFunc
	} else {
		c.AllowOrigins = cfg.AllowOrigins
	}
	return cors.New(c)
}
