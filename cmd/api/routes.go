package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/authgate/internal/audit"
	"github.com/yourusername/authgate/internal/auth"
	"github.com/yourusername/authgate/internal/config"
	"github.com/yourusername/authgate/internal/logging"
	"github.com/yourusername/authgate/internal/user"
)

// newRouter はミドルウェアとルーティングを組み立てます。
func newRouter(cfg *config.Config, logger *slog.Logger, deps *dependencies) (*gin.Engine, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	service, err := auth.NewService(deps.users, hasher, tokens, logger)
	if err != nil {
		return nil, err
	}

	var events audit.Recorder = audit.NewLogRecorder(logger)
	var activity audit.Reader
	if deps.audit != nil {
		events = deps.audit
		activity = deps.audit
	}

	authManager, err := auth.NewManager(service, tokens, auth.ManagerOptions{
		Limiter: deps.limiter,
		Events:  events,
		Metrics: auth.NewMetrics(registry),
		Secure:  cfg.Secure(),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	cookieStore, err := auth.NewCookieStore(cfg.CookieSecret, cfg.Secure())
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(logging.GinLogger(logger))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered", "panic", recovered, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong!"})
	}))
	router.Use(cors.New(corsConfig(cfg)))
	router.Use(auth.CookieMiddleware(cookieStore))

	setupRoutes(router, authManager, user.NewHandler(activity, logger), registry)
	return router, nil
}

func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	origins := cfg.AllowedOrigins()
	if len(origins) == 1 && origins[0] == "*" {
		// クッキーを送るため * は使えない。リクエスト元をそのまま許可する
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = origins
	}
	corsCfg.AllowCredentials = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	return corsCfg
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, authManager *auth.Manager, userHandler *user.Handler, registry *prometheus.Registry) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	api := router.Group("/api")
	{
		api.GET("/health", handleHealth)

		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", authManager.Register)
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout", authManager.RequireAuth(), authManager.Logout)
		}

		userRoutes := api.Group("/user")
		userRoutes.Use(authManager.RequireAuth())
		{
			userRoutes.GET("/profile", userHandler.Profile)
			userRoutes.GET("/activity", userHandler.Activity)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Server is running",
		"timestamp": user.Timestamp(time.Now()),
	})
}
