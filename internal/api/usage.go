package api

import (
	"errors"
	"net/http"
	"strconv"

	apperrors "sparlo_go_backend/internal/errors"
	"sparlo_go_backend/internal/services"

	"github.com/gin-gonic/gin"
)

func getUsageHandler(usageService services.UsageLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		// Resolving the period first means a fresh account (or a new month)
		// reads back a full budget instead of a missing-period error.
		if _, err := usageService.GetOrCreateActivePeriod(c.Request.Context(), user.ID); err != nil {
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}
		snapshot, err := usageService.Snapshot(c.Request.Context(), user.ID)
		if err != nil {
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

func checkUsageHandler(usageService services.UsageLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		estimated, err := strconv.ParseInt(c.DefaultQuery("estimated_tokens", "0"), 10, 64)
		if err != nil || estimated < 0 {
			apperrors.HandleError(c, apperrors.New400Error("Invalid estimated_tokens value"))
			return
		}

		snapshot, err := usageService.CheckUsage(c.Request.Context(), user.ID, estimated)
		if err != nil {
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

// incrementUsageHandler is the retry-safe accounting endpoint: callers supply
// an idempotency key, and replays acknowledge without charging twice.
func incrementUsageHandler(usageService services.UsageLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Tokens         int64  `json:"tokens" binding:"required"`
			IdempotencyKey string `json:"idempotency_key" binding:"required"`
			ReportID       *uint  `json:"report_id"`
			Kind           string `json:"kind"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}
		if request.Tokens <= 0 {
			apperrors.HandleError(c, apperrors.New400Error("tokens must be positive"))
			return
		}

		user := currentUser(c)
		if user == nil {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		if _, err := usageService.GetOrCreateActivePeriod(c.Request.Context(), user.ID); err != nil {
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}

		var result *services.IncrementResult
		var err error
		if request.Kind == "chat" {
			result, err = usageService.IncrementChatTokensIdempotent(c.Request.Context(), user.ID, request.Tokens, request.IdempotencyKey, request.ReportID)
		} else {
			result, err = usageService.IncrementUsageIdempotent(c.Request.Context(), user.ID, request.Tokens, request.IdempotencyKey, request.ReportID)
		}
		if err != nil {
			if errors.Is(err, services.ErrNoActivePeriod) {
				apperrors.HandleError(c, apperrors.New409Error("No active usage period"))
				return
			}
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
