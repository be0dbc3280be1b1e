package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kottokmotors/clockin.click/internal/attendance"
	"github.com/kottokmotors/clockin.click/internal/config"
	"github.com/kottokmotors/clockin.click/internal/handler"
	"github.com/kottokmotors/clockin.click/internal/httpmiddleware"
	"github.com/kottokmotors/clockin.click/internal/queue"
	"github.com/kottokmotors/clockin.click/internal/store"
	"github.com/kottokmotors/clockin.click/internal/user"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	tables := []store.TableSpec{user.TableSpec, attendance.TableSpec}

	redisClient := store.NewRedis(cfg.RedisAddr, tables, cfg.StoreTimeout)
	defer redisClient.Close()

	var kv store.KV
	var pg *store.Postgres
	switch cfg.StoreBackend {
	case "memory":
		kv = store.NewMemory()
	case "postgres":
		var err error
		pg, err = store.NewPostgres(cfg.DatabaseURL, cfg.StoreTimeout)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(context.Background(), tables); err != nil {
			return err
		}
		kv = pg
	default:
		kv = redisClient
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "clockin:repairs")
	}

	users := user.NewRepository(kv)
	events := attendance.NewLog(kv)
	reporter := attendance.NewReporter(events, users)
	h := handler.New(users, events, reporter, q, cfg)

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		healthy := true
		checks := gin.H{}
		switch cfg.StoreBackend {
		case "postgres":
			checks["postgres"] = pg != nil
			healthy = pg != nil
		case "memory":
			checks["memory"] = true
		default:
			ok := redisClient.Healthy(c.Request.Context())
			checks["redis"] = ok
			healthy = ok
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		checks["status"] = "ok"
		c.JSON(status, checks)
	})

	h.Register(r)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
