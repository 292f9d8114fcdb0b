package wsocket

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sparlo_go_backend/internal/models"
	"sparlo_go_backend/internal/services"
	"sparlo_go_backend/internal/utils/broker"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler streams report generation progress to the client. One connection
// follows one report; the stream closes itself once the report reaches a
// terminal state.
type Handler struct {
	reportService *services.ReportService
	events        *broker.Broker[services.ReportEvent]
	upgrader      websocket.Upgrader
	pingInterval  time.Duration
}

func NewHandler(reportService *services.ReportService, events *broker.Broker[services.ReportEvent], upgrader websocket.Upgrader, pingInterval time.Duration) *Handler {
	return &Handler{
		reportService: reportService,
		events:        events,
		upgrader:      upgrader,
		pingInterval:  pingInterval,
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, user interface{}) {
	userModel, ok := user.(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	reportID64, err := strconv.ParseUint(r.URL.Query().Get("reportId"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid or missing reportId", http.StatusBadRequest)
		return
	}
	reportID := uint(reportID64)

	// Ownership is checked before the upgrade so a foreign report gets a
	// plain 403 instead of a half-open socket.
	rep, err := h.reportService.GetReport(r.Context(), reportID, userModel.ID)
	if err != nil {
		http.Error(w, "Report not found", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	topic := fmt.Sprintf("report_%d", reportID)
	eventsCh := h.events.Subscribe(topic)
	defer h.events.Unsubscribe(topic, eventsCh)

	// The report may already be terminal; replay its state so late
	// subscribers see the outcome instead of a silent socket.
	if err := conn.WriteJSON(services.ReportEvent{
		ReportID: reportID,
		Status:   rep.Status,
		At:       time.Now(),
	}); err != nil {
		return
	}
	if rep.Status.Terminal() {
		return
	}

	// Drain client frames so close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, open := <-eventsCh:
			if !open {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Uint("report_id", reportID).Msg("websocket write failed")
				return
			}
			if event.Status.Terminal() {
				return
			}
		}
	}
}
