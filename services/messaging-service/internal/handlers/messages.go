package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/tracker"
)

// MessageLog is the read access the audit endpoint needs.
type MessageLog interface {
	ListByAppointment(ctx context.Context, appointmentID string) ([]tracker.ScheduledMessage, error)
}

// MessageLogHandler exposes the per-appointment message audit trail
// for care-team tooling.
type MessageLogHandler struct {
	log    MessageLog
	logger *slog.Logger
}

func NewMessageLogHandler(log MessageLog, logger *slog.Logger) *MessageLogHandler {
	return &MessageLogHandler{log: log, logger: logger}
}

func (h *MessageLogHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/appointments/messages", h.List)
}

type messageLogItem struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Channel      string `json:"channel"`
	Status       string `json:"status"`
	ScheduledFor string `json:"scheduled_for"`
	SentAt       string `json:"sent_at,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (h *MessageLogHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	appointmentID := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if appointmentID == "" {
		http.Error(w, "missing appointment_id", http.StatusBadRequest)
		return
	}

	rows, err := h.log.ListByAppointment(r.Context(), appointmentID)
	if err != nil {
		h.logger.Error("message log query failed", "err", err, "appointment_id", appointmentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]messageLogItem, 0, len(rows))
	for _, row := range rows {
		item := messageLogItem{
			ID:           row.ID,
			Type:         string(row.Type),
			Channel:      string(row.Channel),
			Status:       string(row.Status),
			ScheduledFor: row.ScheduledFor.UTC().Format(time.RFC3339),
			Error:        row.Error,
		}
		if row.SentAt != nil {
			item.SentAt = row.SentAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"appointment_id": appointmentID,
		"messages":       items,
	}); err != nil {
		h.logger.Error("message log encode failed", "err", err)
	}
}
