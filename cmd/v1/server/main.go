package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/warboardhq/warboard/internal/v1/auth"
	"github.com/warboardhq/warboard/internal/v1/config"
	"github.com/warboardhq/warboard/internal/v1/health"
	"github.com/warboardhq/warboard/internal/v1/httpapi"
	"github.com/warboardhq/warboard/internal/v1/logging"
	"github.com/warboardhq/warboard/internal/v1/middleware"
	"github.com/warboardhq/warboard/internal/v1/ratelimit"
	"github.com/warboardhq/warboard/internal/v1/store"
	"github.com/warboardhq/warboard/internal/v1/tracing"
	"github.com/warboardhq/warboard/internal/v1/transport"
)

func main() {
	// Load .env file for local development. Try multiple paths to handle
	// different ways of running the app.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Tracing (optional) ---
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(ctx, "warboard", cfg.OtelCollector)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				slog.Error("Failed to shut down tracer", "error", err)
			}
		}()
	}

	// --- Store ---
	var st store.Store
	var redisClient *redis.Client
	switch cfg.StoreBackend {
	case "redis":
		rs, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		st = rs
		// Share the connection with the rate limiter so limits hold
		// across replicas.
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	default:
		ss, err := store.NewSQLiteStore(cfg.DataDir)
		if err != nil {
			slog.Error("Failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		st = ss
	}

	// --- Dependencies ---
	validator := auth.NewValidator(cfg.JWTSecret, st)

	limiter, err := ratelimit.New(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to configure rate limiter", "error", err)
		os.Exit(1)
	}

	allowedOrigins := splitOrigins(cfg.AllowedOrigins)
	hub := transport.NewHub(ctx, st, validator, limiter, allowedOrigins)
	api := httpapi.NewHandler(st, validator, hub, cfg.PacksDir, !cfg.DevelopmentMode)

	// --- Router ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelEnabled {
		router.Use(otelgin.Middleware("warboard"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AddAllowHeaders("Authorization")
	router.Use(cors.New(corsConfig))

	api.Register(router, limiter.APIMiddleware())

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/rooms/:roomId", hub.ServeWs)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(st)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful shutdown ---
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Flush every dirty room before the process exits.
	hub.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if err := st.Close(); err != nil {
		slog.Error("Failed to close store:", "error", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}

	slog.Info("Server exiting")
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
