package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/api"
	"blue-carbon/registry-portal/registry-portal-backend/internal/app"
	"blue-carbon/registry-portal/registry-portal-backend/internal/auth"
	"blue-carbon/registry-portal/registry-portal-backend/internal/config"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}

	// Initialize logger
	logger, err := app.NewLogger(cfg.Logging.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	services, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	// The registry is bootstrapped lazily by the first write when this
	// fails, so a ledger that is still starting is not fatal.
	if err := services.Bootstrap(ctx, 10*time.Second); err != nil {
		logger.Warn("Registry not ready at startup", zap.Error(err))
	}

	// Setup Router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.MaxMultipartMemory = api.MaxUploadMemory
	router.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	// Register Routes
	v1 := router.Group("/api/v1")
	{
		auth.RegisterRoutes(v1, auth.NewHandler(services.Auth))
		api.NewHandler(api.Deps{
			Orchestrator: services.Orchestrator,
			Views:        services.Views,
			Source:       services.Source,
			Pinner:       services.Pinner,
			Certificates: services.Certificates,
			Tokens:       services.Auth.Tokens(),
			Sockets:      services.Sockets,
		}, logger).RegisterRoutes(v1)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		status := services.Guard.Status()
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"registry":    status.State,
			"connections": services.Sockets.GetConnectionCount(),
			"timestamp":   time.Now(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{})))

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("ledger", cfg.Ledger.Mode),
		zap.String("admin", services.Admin.String()))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origins["*"] || origins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+api.SessionHeader)
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
