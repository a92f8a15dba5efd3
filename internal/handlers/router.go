package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mroshb/szludo_wallet/internal/metrics"
	"github.com/mroshb/szludo_wallet/internal/middleware"
	"gorm.io/gorm"
)

type RouterConfig struct {
	JWTSecret    string
	ServiceToken string
	UploadDir    string // served to admins at /uploads when set
	Limiter      *middleware.RateLimiter
	Metrics      *metrics.Metrics
	DB           *gorm.DB // pinged by /healthz when set
}

func NewRouter(h *HandlerManager, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestLogger())

	r.GET("/healthz", healthz(cfg.DB))
	r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	if cfg.UploadDir != "" {
		// payment screenshots are for reviewers only
		uploads := r.Group("/uploads", middleware.Auth(cfg.JWTSecret), middleware.RequireAdmin())
		uploads.Static("/", cfg.UploadDir)
	}

	r.POST("/webhooks/razorpay", h.RazorpayWebhook)

	api := r.Group("/api/v1")
	if cfg.Limiter != nil {
		api.Use(cfg.Limiter.LimitByIP())
	}
	api.Use(middleware.Auth(cfg.JWTSecret))
	if cfg.Limiter != nil {
		api.Use(cfg.Limiter.LimitByUser())
	}

	wallet := api.Group("/wallet")
	{
		wallet.GET("", h.GetWallet)
		wallet.GET("/transactions", h.ListMyTransactions)
		wallet.POST("/deposits", h.SubmitDeposit)
		wallet.POST("/checkout", h.CreateCheckout)
		wallet.POST("/withdrawals", h.RequestWithdrawal)
		wallet.POST("/withdrawals/:id/cancel", h.CancelWithdrawal)
	}

	admin := api.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("/transactions", h.ListTransactions)
		admin.GET("/transactions/export", h.ExportTransactions)
		admin.POST("/transactions/bulk", h.BulkUpdate)
		admin.POST("/transactions/:id/approve", h.ApproveTransaction)
		admin.POST("/transactions/:id/reject", h.RejectTransaction)
		admin.PUT("/users/:id/kyc", h.SetKYCStatus)
	}

	internal := r.Group("/internal", middleware.ServiceToken(cfg.ServiceToken))
	{
		internal.POST("/users", h.RegisterUser)
		internal.POST("/battles/fee", h.DebitBattleFee)
		internal.POST("/battles/win", h.CreditBattleWin)
		internal.POST("/referrals/complete", h.CompleteReferral)
		internal.POST("/sweep", h.Sweep)
	}

	return r
}

func healthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
