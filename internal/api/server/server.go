package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelbench-go/internal/api/auth"
	apigraphql "github.com/modelbench-go/internal/api/graphql"
	"github.com/modelbench-go/internal/api/handlers"
	"github.com/modelbench-go/internal/api/ws"
	"github.com/modelbench-go/internal/coordinator"
	"github.com/modelbench-go/internal/plugins"
	"github.com/modelbench-go/pkg/config"
	"github.com/modelbench-go/pkg/logger"
	"github.com/modelbench-go/pkg/metrics"
	"github.com/modelbench-go/pkg/ratelimit"
	"github.com/modelbench-go/pkg/telemetry"
)

// Server is the multi-protocol API surface: REST under /v1, GraphQL on
// /graphql, the event stream on /ws, all sharing one coordinator facade.
type Server struct {
	config     config.APIConfig
	logger     logger.Logger
	httpServer *http.Server
	hub        *ws.Hub
}

func New(cfg config.APIConfig, coord *coordinator.Coordinator, pluginManager *plugins.Manager, tel *telemetry.Telemetry, log logger.Logger) *Server {
	jwtManager := auth.NewManager(cfg.JWTSecret, "modelbench", time.Duration(cfg.JWTExpiration)*time.Second)
	hub := ws.NewHub(coord.Bus(), log)
	h := handlers.New(coord, pluginManager, jwtManager, cfg.OperatorUser, cfg.OperatorHash, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.Use(metricsMiddleware())
	if tel != nil {
		router.Use(tel.HTTPMiddleware())
	}
	if cfg.RateLimitRPS > 0 {
		router.Use(ratelimit.Middleware(ratelimit.NewPerClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))
	}

	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	router.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "connections": hub.ConnectionCount()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.EnableREST {
		registerREST(router, h, jwtManager)
		log.Info("REST API enabled", "prefix", "/v1")
	}

	if cfg.EnableGraphQL {
		resolver := apigraphql.NewResolver(coord, pluginManager, log)
		schema := apigraphql.ParseSchema(resolver)
		gqlHandler := apigraphql.Handler(schema)
		router.GET("/graphql", gqlHandler)
		router.POST("/graphql", auth.OptionalToken(jwtManager), gqlHandler)
		log.Info("GraphQL API enabled", "endpoint", "/graphql")
	}

	if cfg.EnableWebSocket {
		router.GET("/ws", func(c *gin.Context) {
			hub.Serve(c.Writer, c.Request)
		})
		log.Info("WebSocket API enabled", "endpoint", "/ws")
	}

	if cfg.EnableSwagger {
		registerSwagger(router)
		log.Info("Swagger UI enabled", "endpoint", "/swagger")
	}

	httpServer := &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return &Server{
		config:     cfg,
		logger:     log,
		httpServer: httpServer,
		hub:        hub,
	}
}

func registerREST(router *gin.Engine, h *handlers.Handlers, jwtManager *auth.Manager) {
	v1 := router.Group("/v1")

	// Reads are open; every mutation goes through the token gate.
	v1.POST("/auth/token", h.Token)
	v1.GET("/jobs/:id", h.GetJob)
	v1.GET("/workers", h.ListWorkers)
	v1.GET("/cluster/stats", h.ClusterStats)
	v1.GET("/plugins", h.ListPlugins)
	v1.GET("/plugins/:id", h.GetPlugin)

	secured := v1.Group("", auth.RequireToken(jwtManager))
	secured.POST("/workers", h.RegisterWorker)
	secured.DELETE("/workers/:id", h.DeregisterWorker)
	secured.POST("/workers/:id/heartbeat", h.Heartbeat)
	secured.POST("/workers/:id/pull", h.PullTasks)
	secured.POST("/tasks/:id/complete", h.CompleteTask)
	secured.POST("/jobs", h.SubmitJob)
	secured.DELETE("/jobs/:id", h.CancelJob)
	secured.POST("/plugins", h.LoadPlugin)
	secured.DELETE("/plugins/:id", h.UnloadPlugin)
	secured.POST("/plugins/:id/execute", h.ExecutePlugin)
}

// Start blocks serving until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", "addr", s.config.BindAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	s.hub.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowed[origin]; ok {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
		metrics.RecordHTTPDuration(c.Request.Method, path, time.Since(start).Seconds())
	}
}
