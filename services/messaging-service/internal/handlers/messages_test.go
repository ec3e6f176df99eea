package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/tracker"
)

type fakeMessageLog struct {
	rows []tracker.ScheduledMessage
	err  error
}

func (f *fakeMessageLog) ListByAppointment(_ context.Context, _ string) ([]tracker.ScheduledMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func newMessageLogHandler(log *fakeMessageLog) *MessageLogHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMessageLogHandler(log, logger)
}

func TestMessageLogList(t *testing.T) {
	sent := time.Date(2026, 3, 5, 19, 0, 30, 0, time.UTC)
	h := newMessageLogHandler(&fakeMessageLog{rows: []tracker.ScheduledMessage{
		{
			ID:            "msg-1",
			AppointmentID: "appt-1",
			Type:          message.TypeConfirmationSMS,
			Channel:       message.ChannelSMS,
			ScheduledFor:  time.Date(2026, 3, 5, 19, 0, 0, 0, time.UTC),
			Status:        message.StatusSent,
			SentAt:        &sent,
		},
		{
			ID:            "msg-2",
			AppointmentID: "appt-1",
			Type:          message.TypeNoShowInitialSMS,
			Channel:       message.ChannelSMS,
			ScheduledFor:  time.Date(2026, 3, 5, 19, 35, 0, 0, time.UTC),
			Status:        message.StatusFailed,
			Error:         "twilio sms: status 500",
		},
	}})

	req := httptest.NewRequest(http.MethodGet, "/appointments/messages?appointment_id=appt-1", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		AppointmentID string           `json:"appointment_id"`
		Messages      []messageLogItem `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AppointmentID != "appt-1" || len(body.Messages) != 2 {
		t.Fatalf("body: %+v", body)
	}
	if body.Messages[0].SentAt != "2026-03-05T19:00:30Z" {
		t.Fatalf("sent_at %q", body.Messages[0].SentAt)
	}
	if body.Messages[1].Error != "twilio sms: status 500" {
		t.Fatalf("error %q", body.Messages[1].Error)
	}
	if body.Messages[1].SentAt != "" {
		t.Fatalf("unsent row has sent_at %q", body.Messages[1].SentAt)
	}
}

func TestMessageLogList_MissingParam(t *testing.T) {
	h := newMessageLogHandler(&fakeMessageLog{})

	req := httptest.NewRequest(http.MethodGet, "/appointments/messages", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestMessageLogList_RejectsPost(t *testing.T) {
	h := newMessageLogHandler(&fakeMessageLog{})

	req := httptest.NewRequest(http.MethodPost, "/appointments/messages?appointment_id=appt-1", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", rec.Code)
	}
}
