package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/approvals_backend/config"
	"github.com/mmdatafocus/approvals_backend/middlewares"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/outbox"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// newRouter wires middleware and routes. db is read per request so the
// server can listen before the database is connected.
func newRouter(db func() *gorm.DB, logger *logrus.Logger, limiter *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if db() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", headerIdempotencyKey, middlewares.HeaderCorrelationID)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.HeaderCorrelationID)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins

	r.Use(cors.New(corsConfig))
	if limiter != nil {
		r.Use(limiter.RateLimitMiddleware)
	}
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	h := &approvalHandlers{db: db, logger: logger}
	api := r.Group("/approvals", middlewares.RequireSession())
	api.POST("", h.requireApproval)
	api.GET("/instances/:id", h.instanceStatus)
	api.POST("/instances/:id/tasks/:taskId/decision", h.decide)

	// Ops tooling (admin only): replay outbox events that were marked FAILED.
	ops := r.Group("/internal/ops", middlewares.RequireSession(), middlewares.RequireAdmin())
	ops.POST("/outbox/replay", h.outboxReplay)
	ops.GET("/outbox/stats", h.outboxStats)

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var limiter *RateLimiter
	if config.RateLimitEnabled() {
		// The limiter owns its client so the API never blocks on Redis at startup.
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS")})
		defer client.Close()
		limiter = NewRateLimiter(client, config.RateLimitMaxRequests(), time.Duration(config.RateLimitWindowSeconds())*time.Second)
	}

	// Start the HTTP server ASAP; until the DB is ready app endpoints return 503.
	r := newRouter(config.GetDB, logger, limiter)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	} else {
		logger.WithFields(logrus.Fields{"field": "database"}).Warn("sql handle unavailable: " + err.Error())
	}

	if !config.SkipMigrations() {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal("auto migrate failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Optional in-process outbox worker (publishes AFTER commit).
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	var workerWG sync.WaitGroup
	if config.EmbeddedOutboxWorker() {
		cfg := config.LoadOutboxWorkerConfig()
		pub, err := config.NewOutboxPublisher(sigCtx, cfg, logger)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "OutboxWorker"}).Error("outbox publisher unavailable; embedded worker disabled: " + err.Error())
		} else {
			w := outbox.NewWorker(outbox.NewGormStore(db), pub, logger, cfg.Worker)
			workerWG.Add(1)
			go func() {
				defer workerWG.Done()
				if err := w.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.WithFields(logrus.Fields{"field": "OutboxWorker"}).Error("outbox worker stopped: " + err.Error())
				}
			}()
		}
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("approvals api listening on :", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// The worker drains in-flight deliveries within its own shutdown timeout.
	cancelWorker()
	workerWG.Wait()

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client redis.Cmdable, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
