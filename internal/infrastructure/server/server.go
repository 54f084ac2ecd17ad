package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envbridge/internal/api/middleware"
	"github.com/GriffinCanCode/envbridge/internal/bridge"
	"github.com/GriffinCanCode/envbridge/internal/bridge/router"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/envbridge/internal/resources"
	"github.com/GriffinCanCode/envbridge/internal/shared/types"
	"github.com/GriffinCanCode/envbridge/internal/transport/ws"
)

// Server wraps the HTTP server, the relay hub and the host bridge
type Server struct {
	router    *gin.Engine
	http      *http.Server
	hub       *ws.Hub
	host      *bridge.Bridge
	resources *resources.Registry
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Info("Initializing bridge hub",
		zap.String("addr", cfg.Hub.Addr()),
		zap.String("origin", cfg.Bridge.Origin),
		zap.Strings("allowed_origins", cfg.Bridge.AllowedOrigins),
		zap.String("security_level", cfg.Bridge.SecurityLevel),
	)

	promRegistry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(promRegistry)

	// The hub admits the same origins the host bridge trusts. host is set
	// before the first connection can arrive.
	var host *bridge.Bridge
	allow := func(o string) bool { return host != nil && host.IsAllowed(o) }

	hub := ws.NewHub(allow,
		ws.WithLogger(logger),
		ws.WithMetrics(metrics),
		ws.WithRateLimit(cfg.RateLimit),
		ws.WithWriteTimeout(cfg.Hub.WriteTimeout),
	)

	endpoint, err := hub.Attach(cfg.Bridge.Origin)
	if err != nil {
		return nil, fmt.Errorf("failed to attach host endpoint: %w", err)
	}
	host, err = bridge.New(bridge.ConfigFrom(cfg.Bridge), endpoint,
		bridge.WithLogger(logger),
		bridge.WithMetrics(metrics),
	)
	if err != nil {
		_ = hub.Close()
		return nil, err
	}

	reg := resources.NewRegistry()
	if cfg.Hub.ResourceDir != "" {
		if _, err := resources.NewSeeder(reg, cfg.Hub.ResourceDir, logger).Seed(); err != nil {
			logger.Warn("Failed to seed resources", zap.Error(err))
		}
	}

	s := &Server{
		hub:       hub,
		host:      host,
		resources: reg,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
	}
	s.registerHandlers()
	reg.OnChange(s.announce)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(host.IsAllowed)))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))
	hubRoutes := r.Group("")
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("mps", cfg.RateLimit.MessagesPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		hubRoutes.Use(middleware.RateLimit(cfg.RateLimit))
	}
	hub.Routes(hubRoutes, cfg.Hub.Path)

	s.router = r
	s.http = &http.Server{
		Addr:              cfg.Hub.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// Handler exposes the HTTP routes
func (s *Server) Handler() http.Handler {
	return s.router
}

// Bridge returns the host bridge
func (s *Server) Bridge() *bridge.Bridge {
	return s.host
}

// Resources returns the resource registry served to peers
func (s *Server) Resources() *resources.Registry {
	return s.resources
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes the host bridge and disconnects
// every peer
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if cerr := s.host.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := s.hub.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Server) registerHandlers() {
	s.host.RegisterHandler(types.MessagePing, func(context.Context, json.RawMessage, router.Meta) (any, error) {
		return types.Pong{Pong: true}, nil
	})
	s.host.RegisterHandler(types.MessageResourceRequest, resources.Handler(s.resources))
	s.host.OnMessage(s.observe)
}

// observe logs notifications that have no handler of their own
func (s *Server) observe(_ context.Context, payload json.RawMessage, meta router.Meta) {
	switch meta.Type {
	case types.MessageTemplateApplied:
		var ev types.TemplateApplied
		if err := sonic.Unmarshal(payload, &ev); err != nil {
			s.logger.Warn("Malformed template event", zap.String("source", meta.Source), zap.Error(err))
			return
		}
		s.logger.Info("Template applied",
			zap.String("source", meta.Source),
			zap.String("template_id", ev.TemplateID),
			zap.String("target", ev.Target),
		)
	case types.MessageConflictDetected:
		var ev types.ConflictDetected
		if err := sonic.Unmarshal(payload, &ev); err != nil {
			s.logger.Warn("Malformed conflict event", zap.String("source", meta.Source), zap.Error(err))
			return
		}
		s.logger.Warn("Conflict detected",
			zap.String("source", meta.Source),
			zap.String("kind", ev.Kind),
			zap.String("name", ev.Name),
			zap.Strings("sources", ev.Sources),
			zap.Bool("resolved", ev.Resolved),
		)
	default:
		s.logger.Debug("Unhandled message", zap.String("source", meta.Source), zap.String("type", meta.Type))
	}
}

// announce broadcasts a resource change to every connected peer
func (s *Server) announce(res resources.Resource) {
	if !res.Access.Has(resources.AccessShared) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Hub.WriteTimeout)
	defer cancel()
	if _, err := s.host.Send(ctx, resources.Updated(res), ws.Broadcast, bridge.SendOptions{}); err != nil {
		s.logger.Warn("Failed to announce resource update",
			zap.String("type", string(res.Type)),
			zap.String("id", res.ID),
			zap.Error(err),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"origin":      s.host.Origin(),
		"origins":     s.hub.Origins(),
		"connections": s.hub.Connections(),
		"pending":     s.host.Pending(),
		"resources":   s.resources.Len(),
	})
}
