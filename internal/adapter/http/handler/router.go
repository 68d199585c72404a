package handler

import (
	"crypto-escrow-gateway/config"
	"crypto-escrow-gateway/internal/adapter/http/middleware"
	redisStore "crypto-escrow-gateway/internal/adapter/storage/redis"
	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	EscrowSvc      ports.EscrowService
	WalletSvc      ports.WalletService
	ReportingSvc   ports.ReportingService
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore
	TokenSvc       ports.TokenService
	Storefront     config.StorefrontConfig
	WebhookSecret  string
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	escrowHandler := NewEscrowHandler(deps.EscrowSvc)
	chainhookHandler := NewChainhookHandler(deps.EscrowSvc)
	walletHandler := NewWalletHandler(deps.WalletSvc)
	dashboardHandler := NewDashboardHandler(deps.ReportingSvc)

	// --- HMAC-authenticated routes (storefront server-to-server) ---
	hmacAuth := middleware.HMACAuth(deps.Storefront, deps.SigSvc, deps.NonceStore, deps.Logger)
	storefront := v1.Group("/escrows", hmacAuth)
	{
		storefront.POST("", rl("escrows"), escrowHandler.Create)
	}

	// --- Chain provider push callbacks (webhook-signed) ---
	webhookAuth := middleware.WebhookAuth(deps.WebhookSecret, deps.SigSvc, deps.Logger)
	chain := v1.Group("/chain", webhookAuth)
	{
		chain.POST("/events", rl("chain_events"), chainhookHandler.HandleEvent)
	}

	// --- JWT-authenticated routes (buyers, sellers, arbiters) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	escrows := v1.Group("/escrows", jwtAuth)
	{
		escrows.GET("", rl("dashboard"), dashboardHandler.ListEscrows)
		escrows.GET("/:id", rl("dashboard"), escrowHandler.Get)
		escrows.POST("/:id/release", rl("mutations"), escrowHandler.Release)
		escrows.POST("/:id/refund", rl("mutations"), escrowHandler.Refund)
		escrows.POST("/:id/dispute", rl("mutations"), escrowHandler.Dispute)
		escrows.POST("/:id/resolve", rl("mutations"),
			middleware.RequireRole(domain.RoleAdmin), escrowHandler.Resolve)
	}

	// --- Operator wallet administration (admin only) ---
	adminOnly := middleware.RequireRole(domain.RoleAdmin)
	wallets := v1.Group("/wallets", jwtAuth, adminOnly)
	{
		wallets.POST("", rl("wallets"), walletHandler.Import)
		wallets.GET("", rl("dashboard"), walletHandler.List)
		wallets.PUT("/:id/active", rl("wallets"), walletHandler.SetActive)
		wallets.POST("/:id/promote", rl("wallets"), walletHandler.Promote)
	}

	dashboard := v1.Group("/dashboard", jwtAuth, adminOnly)
	{
		dashboard.GET("/stats", rl("dashboard"), dashboardHandler.GetStats)
	}

	return r
}
