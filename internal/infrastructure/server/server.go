package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/Jackela/Novel-Engine-sub019/internal/api/http"
	"github.com/Jackela/Novel-Engine-sub019/internal/api/middleware"
	"github.com/Jackela/Novel-Engine-sub019/internal/domain/workspace"
	"github.com/Jackela/Novel-Engine-sub019/internal/infrastructure/config"
	"github.com/Jackela/Novel-Engine-sub019/internal/infrastructure/logging"
	"github.com/Jackela/Novel-Engine-sub019/internal/infrastructure/monitoring"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router   *gin.Engine
	manager  *workspace.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	httpSrv  *http.Server
	stopReap chan struct{}
}

// NewServer creates a new server instance.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing guest workspace store",
		zap.String("port", cfg.Server.Port),
		zap.String("store_root", cfg.Store.Root),
		zap.Duration("ttl", cfg.Store.TTL),
	)

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	manager, err := workspace.NewManager(cfg.Store.Root, cfg.Store.TTL, logger.Logger)
	if err != nil {
		return nil, err
	}
	characters := workspace.NewCharacterStore(manager)
	runs := workspace.NewRunStore(manager)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(manager, characters, runs, metrics, logger, cfg.Store.MaxArchiveBytes)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Everything under /api is session-scoped: the middleware resolves the
	// token to a workspace (creating one when needed) before handlers run.
	api := router.Group("/api")
	api.Use(middleware.Session(manager, metrics))
	{
		api.GET("/workspace", handlers.GetWorkspace)
		api.DELETE("/workspace", handlers.DeleteWorkspace)
		api.GET("/workspace/export", handlers.ExportWorkspace)

		api.GET("/characters", handlers.ListCharacters)
		api.GET("/characters/:id", handlers.GetCharacter)
		api.PUT("/characters/:id", handlers.PutCharacter)
		api.DELETE("/characters/:id", handlers.DeleteCharacter)

		api.GET("/runs", handlers.ListRuns)
		api.POST("/runs", handlers.CreateRun)
		api.GET("/runs/:id", handlers.GetRun)
		api.POST("/runs/:id/status", handlers.UpdateRunStatus)
	}

	// Import establishes its own session binding, so it sits outside the
	// session group.
	router.POST("/api/workspace/import", handlers.ImportWorkspace)

	router.POST("/admin/reap", handlers.Reap)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		manager:  manager,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		stopReap: make(chan struct{}),
	}, nil
}

// Router exposes the configured engine, used by tests to drive requests
// without a listener.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and, when configured, the background reap
// scheduler. Blocks until the listener stops.
func (s *Server) Run() error {
	if s.config.Store.ReapInterval > 0 {
		go s.reapLoop(s.config.Store.ReapInterval)
	}

	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// reapLoop invokes the idempotent sweep on a fixed interval until Close.
func (s *Server) reapLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopReap:
			return
		case <-ticker.C:
			result, err := s.manager.Reap(context.Background())
			if err != nil {
				s.logger.Error("scheduled reap failed", zap.Error(err))
				continue
			}
			if result.Skipped {
				continue
			}
			s.metrics.ReapSweeps.Inc()
			s.metrics.WorkspacesReaped.Add(float64(result.Reaped))
			s.metrics.ReapFailures.Add(float64(result.Failed))
			if result.Reaped > 0 || result.Failed > 0 {
				s.logger.Info("scheduled reap finished",
					zap.Int("scanned", result.Scanned),
					zap.Int("reaped", result.Reaped),
					zap.Int("failed", result.Failed),
				)
			}
		}
	}
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	close(s.stopReap)

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
			return err
		}
	}

	s.logger.Sync()
	return nil
}
