package api

import (
	"salesflow/internal/metrics"
	"salesflow/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	Webhook       *WebhookHandler
	SecretChecker middleware.SecretChecker
	Admin         *AdminHandler
	Auth          *AuthHandler
	Stream        *StreamHandler
	Tokens        middleware.TokenParser
	// Redis is optional; rate limits fall back to per-process buckets.
	Redis             *redis.Client
	RequestsPerSecond int
	AllowOrigins      []string
}

func RegisterRoutes(d RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.CORS(d.AllowOrigins),
		middleware.RequestID(),
		middleware.TraceMiddleware(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
	)
	r.SetTrustedProxies(nil)

	r.GET("/health", d.Admin.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	limiter := middleware.RateLimitMiddleware(d.Redis, d.RequestsPerSecond)

	if d.Webhook != nil {
		hooks := r.Group("/v1/webhook")
		hooks.Use(limiter, middleware.WebhookSecretMiddleware(d.SecretChecker))
		{
			hooks.POST("/telegram", d.Webhook.Telegram)
		}
	}

	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", limiter, d.Auth.Login)
		auth.POST("/refresh", limiter, d.Auth.Refresh)
	}

	authProtected := r.Group("/v1/auth")
	authProtected.Use(middleware.JWTMiddleware(d.Tokens))
	{
		authProtected.GET("/me", d.Auth.GetProfile)
		authProtected.POST("/logout", d.Auth.Logout)
	}

	admin := r.Group("/v1/admin")
	admin.Use(middleware.JWTMiddleware(d.Tokens))
	{
		admin.GET("/queue", d.Admin.ListQueue)
		admin.GET("/queue/stats", d.Admin.QueueStats)
		admin.GET("/queue/:id", d.Admin.GetEntry)
		admin.POST("/queue/:id/requeue", limiter, d.Admin.RequeueEntry)
		admin.GET("/leads", d.Admin.ListLeads)
		admin.GET("/conversations/:user_key", d.Admin.Conversation)
		admin.GET("/audit", d.Admin.ListAudit)
		admin.GET("/stream", d.Stream.QueueEvents)
	}
	return r
}
