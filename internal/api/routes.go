package api

import (
	"io"
	"net/http"
	"os"

	"sparlo_go_backend/internal/auth"
	apperrors "sparlo_go_backend/internal/errors"
	"sparlo_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func SetupRoutes(r *gin.Engine, reportService *services.ReportService, usageService services.UsageLedger, chatStore services.ChatStore, stripeService *services.StripeService, userService *services.UserService) {
	api := r.Group("/api")
	{
		api.POST("/reports", auth.AuthMiddleware(userService), createReportHandler(reportService))
		api.GET("/reports", auth.AuthMiddleware(userService), listReportsHandler(reportService))
		api.GET("/reports/:id", auth.AuthMiddleware(userService), getReportHandler(reportService, chatStore))
		api.POST("/reports/:id/cancel", auth.AuthMiddleware(userService), cancelReportHandler(reportService))
		api.POST("/reports/:id/clarify", auth.AuthMiddleware(userService), clarifyReportHandler(reportService))

		api.GET("/usage", auth.AuthMiddleware(userService), getUsageHandler(usageService))
		api.GET("/usage/check", auth.AuthMiddleware(userService), checkUsageHandler(usageService))
		api.POST("/usage/increment", auth.AuthMiddleware(userService), incrementUsageHandler(usageService))

		api.POST("/subscribe", auth.AuthMiddleware(userService), subscribeHandler(stripeService))
		api.POST("/stripe/webhook", stripeWebhookHandler(stripeService))
	}
}

func subscribeHandler(stripeService *services.StripeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			PriceTier string `json:"price_tier" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		var priceID string
		switch request.PriceTier {
		case "starter":
			priceID = os.Getenv("STRIPE_STARTER_PRICE_ID")
		case "pro":
			priceID = os.Getenv("STRIPE_PRO_PRICE_ID")
		case "team":
			priceID = os.Getenv("STRIPE_TEAM_PRICE_ID")
		default:
			apperrors.HandleError(c, apperrors.New400Error("Invalid price tier"))
			return
		}

		user := currentUser(c)
		if user == nil {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		session, err := stripeService.CreateSubscriptionCheckout(user.ID, priceID, request.PriceTier)
		if err != nil {
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"session_id": session.ID})
	}
}

func stripeWebhookHandler(stripeService *services.StripeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const MaxBodyBytes = int64(65536)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
			return
		}

		signatureHeader := c.GetHeader("Stripe-Signature")
		event, err := stripeService.HandleWebhook(payload, signatureHeader)
		if err != nil {
			log.Warn().Err(err).Msg("stripe webhook signature verification failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to verify webhook signature"})
			return
		}

		if err := stripeService.ProcessEvent(event); err != nil {
			log.Error().Err(err).Str("type", string(event.Type)).Msg("failed to process stripe event")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
