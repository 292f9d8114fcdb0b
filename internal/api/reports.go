package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	apperrors "sparlo_go_backend/internal/errors"
	"sparlo_go_backend/internal/models"
	"sparlo_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func currentUser(c *gin.Context) *models.User {
	user, exists := c.Get("user")
	if !exists {
		return nil
	}
	userModel, ok := user.(*models.User)
	if !ok {
		return nil
	}
	return userModel
}

func reportParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		apperrors.HandleError(c, apperrors.New400Error("Invalid report id"))
		return 0, false
	}
	return uint(id), true
}

// handleReportError translates service errors into the API's error shapes.
// A blown budget is a 402 carrying the numbers the client needs to show the
// user what remains.
func handleReportError(c *gin.Context, err error) {
	var budgetErr *services.InsufficientBudgetError
	switch {
	case errors.As(err, &budgetErr):
		apperrors.HandleError(c, apperrors.New402Error("Token budget exceeded for the current period", map[string]any{
			"requested": budgetErr.Requested,
			"used":      budgetErr.Used,
			"limit":     budgetErr.Limit,
			"remaining": budgetErr.Remaining,
		}))
	case errors.Is(err, services.ErrReportNotFound):
		apperrors.HandleError(c, apperrors.New404Error("Report not found"))
	case errors.Is(err, services.ErrNotReportOwner):
		apperrors.HandleError(c, apperrors.New403Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		apperrors.HandleError(c, apperrors.New404Error("Report not found"))
	default:
		apperrors.HandleError(c, apperrors.LogAndReturn500(err))
	}
}

func createReportHandler(reportService *services.ReportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Challenge       string `json:"challenge" binding:"required"`
			EstimatedTokens int64  `json:"estimated_tokens"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		user := currentUser(c)
		if user == nil {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		rep, err := reportService.CreateReport(c.Request.Context(), user.ID, request.Challenge, request.EstimatedTokens)
		if err != nil {
			handleReportError(c, err)
			return
		}

		// Generation continues past the request lifetime; progress streams
		// over the websocket.
		go func(reportID uint) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := reportService.Generate(ctx, reportID); err != nil {
				log.Error().Err(err).Uint("report_id", reportID).Msg("report generation failed")
			}
		}(rep.ID)

		c.JSON(http.StatusAccepted, gin.H{
			"report_id":       rep.ID,
			"status":          rep.Status,
			"reserved_tokens": rep.ReservedTokens,
		})
	}
}

func listReportsHandler(reportService *services.ReportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		reports, err := reportService.ListReports(c.Request.Context(), user.ID)
		if err != nil {
			handleReportError(c, err)
			return
		}

		summaries := make([]gin.H, 0, len(reports))
		for _, rep := range reports {
			summaries = append(summaries, gin.H{
				"report_id":  rep.ID,
				"challenge":  rep.Challenge,
				"status":     rep.Status,
				"created_at": rep.CreatedAt.Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, gin.H{"reports": summaries})
	}
}

func getReportHandler(reportService *services.ReportService, chatStore services.ChatStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}
		reportID, ok := reportParam(c)
		if !ok {
			return
		}

		rep, err := reportService.GetReport(c.Request.Context(), reportID, user.ID)
		if err != nil {
			handleReportError(c, err)
			return
		}

		body := gin.H{
			"report_id":       rep.ID,
			"challenge":       rep.Challenge,
			"status":          rep.Status,
			"reserved_tokens": rep.ReservedTokens,
			"actual_tokens":   rep.ActualTokens,
			"created_at":      rep.CreatedAt.Format(time.RFC3339),
		}
		if rep.FailureReason != "" {
			body["failure_reason"] = rep.FailureReason
		}
		if len(rep.Payload) > 0 {
			var payload map[string]any
			if err := gojson.Unmarshal(rep.Payload, &payload); err == nil {
				body["report"] = payload
			}
		}
		if rep.Status == models.ReportStatusClarifying {
			if chat, err := chatStore.GetChatByReportID(rep.ID); err == nil {
				questions := make([]string, 0, len(chat.Messages))
				for _, msg := range chat.Messages {
					if msg.Type == "ai" {
						questions = append(questions, msg.Content)
					}
				}
				body["clarifying_questions"] = questions
			}
		}

		c.JSON(http.StatusOK, body)
	}
}

func cancelReportHandler(reportService *services.ReportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}
		reportID, ok := reportParam(c)
		if !ok {
			return
		}

		if err := reportService.Cancel(c.Request.Context(), reportID, user.ID); err != nil {
			if errors.Is(err, services.ErrReportNotFound) || errors.Is(err, services.ErrNotReportOwner) {
				handleReportError(c, err)
				return
			}
			apperrors.HandleError(c, apperrors.New409Error(err.Error()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"report_id": reportID, "status": models.ReportStatusCancelled})
	}
}

func clarifyReportHandler(reportService *services.ReportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Answer string `json:"answer" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		user := currentUser(c)
		if user == nil {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}
		reportID, ok := reportParam(c)
		if !ok {
			return
		}

		if err := reportService.Clarify(c.Request.Context(), reportID, user.ID, request.Answer); err != nil {
			if errors.Is(err, services.ErrReportNotFound) || errors.Is(err, services.ErrNotReportOwner) {
				handleReportError(c, err)
				return
			}
			apperrors.HandleError(c, apperrors.New409Error(err.Error()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"report_id": reportID})
	}
}
