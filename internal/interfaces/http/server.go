package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/application/usecase"
	"github.com/xyz-jphil/ccapis/internal/domain/service"
	"github.com/xyz-jphil/ccapis/internal/interfaces/http/handlers"
)

// Server is the proxy's HTTP front.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the HTTP server.
type Config struct {
	Host string
	Port int
	Mode string // "debug" enables gin's debug output
}

// NewServer wires the handlers and builds the server. Start must be called
// to begin listening.
func NewServer(
	cfg Config,
	completions *usecase.CompletionUseCase,
	pool service.PoolProvider,
	health *service.HealthMonitor,
	version string,
	logger *zap.Logger,
) *Server {
	if cfg.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(logger))
	router.Use(recovery(logger))

	messagesHandler := handlers.NewMessagesHandler(completions, logger)
	healthHandler := handlers.NewHealthHandler(pool, health, version, logger)

	setupRoutes(router, messagesHandler, healthHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, messagesHandler *handlers.MessagesHandler, healthHandler *handlers.HealthHandler) {
	v1 := router.Group("/v1")
	{
		v1.POST("/messages", messagesHandler.CreateMessage)
		v1.POST("/complete", messagesHandler.CompleteNotSupported)
	}

	router.GET("/health", healthHandler.Health)
	router.GET("/health/accounts", healthHandler.Accounts)
}

// requestID tags every request with a correlation id, honoring one supplied
// by the client.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// ginLogger logs one line per request.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// recovery converts handler panics into the internal-error envelope with a
// logged stack trace.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Handler panicked",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
			zap.Stack("stack"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "internal server error",
		})
	})
}
