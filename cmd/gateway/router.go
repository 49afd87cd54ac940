package main

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/config"
	"github.com/pbsnet/gateway/internal/handler"
	"github.com/pbsnet/gateway/internal/health"
	"github.com/pbsnet/gateway/internal/identity"
	"github.com/pbsnet/gateway/internal/media"
	"github.com/pbsnet/gateway/internal/profile"
	"github.com/pbsnet/gateway/internal/sysdata"
	"github.com/pbsnet/gateway/internal/users"
)

// maxJSONBody bounds every request body except picture uploads.
const maxJSONBody = 1 << 20

type services struct {
	users       *users.Service
	profiles    *profile.Store
	sysdata     *sysdata.Store
	media       *media.Service
	tokens      *identity.TokenService
	health      *health.Checker
	serveFiles  bool
	adminSecret string
}

func newRouter(cfg *config.Config, s services, logger *zap.Logger) (*gin.Engine, error) {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS
	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Admin-Secret"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit; the upload route enforces its own.
	router.Use(func(c *gin.Context) {
		if c.FullPath() != "/api/me/pic" {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBody)
		}
		c.Next()
	})

	// Per-IP rate limiting
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		limiter, err := handler.RateLimiter(rps, rps*2)
		if err != nil {
			return nil, err
		}
		router.Use(limiter)
	}

	router.Use(handler.RequestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if s.health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		if ok, down := s.health.Ready(); !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "degraded": down})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "dependencies": s.health.Status()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	api := router.Group("/api")
	handler.NewAuthHandler(s.users, logger).Register(api)
	handler.NewMeHandler(s.profiles, s.users, s.media, s.tokens, cfg.Server.MaxUploadBytes, logger).Register(api)
	handler.NewDirectoryHandler(s.profiles, s.media, s.tokens, logger).Register(api)
	handler.NewAdminHandler(s.profiles, s.sysdata, s.adminSecret, logger).Register(api)

	if s.serveFiles {
		handler.NewFilesHandler(s.media, logger).Register(router.Group("/v1"))
	}
	return router, nil
}
