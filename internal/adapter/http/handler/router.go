package handler

import (
	"stableflow/internal/adapter/http/middleware"
	redisStore "stableflow/internal/adapter/storage/redis"
	"stableflow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	IntakeSvc      ports.IntakeService
	SettlementSvc  ports.SettlementService
	WalletSvc      ports.WalletService
	LimitSvc       ports.LimitService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	AuditSvc       ports.AuditService         // nil = intake audit disabled
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	WebhookRepo    ports.WebhookRepository    // nil = no delivery history on settlement views
	HealthCheckers []ports.HealthChecker
	MaxBodyBytes   int64
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBody))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()
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

	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))
	if deps.AuditSvc != nil {
		v1.Use(middleware.AuditIntake(deps.AuditSvc))
	}

	txHandler := NewTransactionHandler(deps.IntakeSvc, deps.ReportingSvc)
	transactions := v1.Group("/transactions")
	{
		transactions.POST("/mint", rl("intake"), txHandler.Mint)
		transactions.POST("/burn", rl("intake"), txHandler.Burn)
		transactions.POST("/transfer", rl("intake"), txHandler.Transfer)
		transactions.POST("/bulk-transfer", rl("intake_bulk"), txHandler.BulkTransfer)
		transactions.GET("", rl("query"), txHandler.List)
		transactions.GET("/stats", rl("query"), txHandler.Stats)
		transactions.GET("/:id", rl("query"), txHandler.Get)
		transactions.POST("/:id/cancel", rl("cancel"), txHandler.Cancel)
	}

	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallets := v1.Group("/wallets")
	{
		wallets.POST("", rl("admin"), walletHandler.Provision)
		wallets.GET("/:owner/:currency", rl("query"), walletHandler.Get)
		wallets.GET("/:owner/:currency/history", rl("query"), walletHandler.History)
		wallets.POST("/:owner/:currency/freeze", rl("admin"), walletHandler.Freeze)
		wallets.POST("/:owner/:currency/unfreeze", rl("admin"), walletHandler.Unfreeze)
		wallets.POST("/:owner/:currency/close", rl("admin"), walletHandler.Close)
	}

	limitHandler := NewLimitHandler(deps.LimitSvc)
	limits := v1.Group("/limits")
	{
		limits.GET("/:owner", rl("query"), limitHandler.Get)
		limits.PUT("/:owner", rl("admin"), limitHandler.Update)
	}

	settlementHandler := NewSettlementHandler(deps.SettlementSvc, deps.WebhookRepo)
	settlements := v1.Group("/settlements")
	{
		settlements.GET("/dead-letter", rl("admin"), settlementHandler.DeadLetters)
		settlements.GET("/:id", rl("admin"), settlementHandler.Get)
	}

	return r
}
