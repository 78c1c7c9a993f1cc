package http

import (
	"context"
	"log/slog"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/http/handlers"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/http/middleware"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/payments"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/rental"
)

type RouterDeps struct {
	Logger    *slog.Logger
	DB        *gorm.DB
	Engine    *payments.Engine
	JWTSecret []byte
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.ErrorHandler(d.Logger))
	r.Use(middleware.Recovery(d.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"ok": true})
	})
	r.GET("/readyz", readiness(d.DB))

	// gateway webhooks carry no bearer token
	cb := handlers.NewCallbacksHandler(d.Logger, d.Engine)
	callbacks := r.Group("/callbacks")
	callbacks.POST("/rent", cb.STK(payments.KindRent))
	callbacks.POST("/deposit", cb.STK(payments.KindDeposit))
	callbacks.POST("/subscription", cb.STK(payments.KindSubscription))
	callbacks.POST("/b2c", cb.Payout)

	ph := handlers.NewPaymentsHandler(d.Logger, d.Engine)
	authed := r.Group("/", middleware.BearerAuth(d.JWTSecret))
	{
		authed.POST("/payments/rent/:unitID", middleware.RequireRole(rental.RoleTenant), ph.PayRent)
		authed.POST("/payments/deposit", middleware.RequireRole(rental.RoleTenant), ph.PayDeposit)
		authed.GET("/payments", ph.List)
		authed.GET("/payments/summary", middleware.RequireRole(rental.RoleLandlord), ph.Summary)
		authed.GET("/payments/:id/status", ph.Status)

		authed.POST("/subscriptions/stk-push", middleware.RequireRole(rental.RoleLandlord), ph.Subscribe)
		authed.GET("/subscriptions/payments", ph.ListSubscriptionPayments)
		authed.GET("/subscriptions/payments/:id/status", ph.SubscriptionStatus)
	}

	return r
}

func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(nethttp.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
		c.JSON(nethttp.StatusOK, gin.H{"ok": true})
	}
}
