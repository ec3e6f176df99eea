// Package lifecycle maps appointment lifecycle events onto cascade
// scheduling and cancellation.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/appointments"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/cascade"
)

// Topics the messaging engine consumes.
const (
	TopicBookingCreated       = "booking.created.v1"
	TopicBookingCancelled     = "booking.cancelled.v1"
	TopicBookingRescheduled   = "booking.rescheduled.v1"
	TopicAppointmentCompleted = "appointment.completed.v1"
)

func Topics() []string {
	return []string{
		TopicBookingCreated,
		TopicBookingCancelled,
		TopicBookingRescheduled,
		TopicAppointmentCompleted,
	}
}

// AppointmentStore is the appointment state the lifecycle handler
// reads and transitions.
type AppointmentStore interface {
	GetWithPatient(ctx context.Context, appointmentID string) (appointments.Appointment, appointments.Patient, error)
	UpdateStatus(ctx context.Context, appointmentID string, status string) error
}

type Handler struct {
	scheduler *cascade.Scheduler
	canceller *cascade.Canceller
	appts     AppointmentStore
	logger    *slog.Logger
}

func NewHandler(scheduler *cascade.Scheduler, canceller *cascade.Canceller, appts AppointmentStore, logger *slog.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		canceller: canceller,
		appts:     appts,
		logger:    logger,
	}
}

type bookingEvent struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	ScheduledAt   string `json:"scheduled_at"`
}

// Handle routes one event by topic. Malformed payloads are logged and
// dropped; a redelivery would fail the same way.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var evt bookingEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		h.logger.Error("invalid lifecycle payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if evt.AppointmentID == "" {
		h.logger.Error("lifecycle event missing appointment_id", "topic", msg.Topic)
		return nil
	}

	switch msg.Topic {
	case TopicBookingCreated:
		consultAt, ok := h.parseScheduledAt(evt, msg.Topic)
		if !ok {
			return nil
		}
		rows, err := h.scheduler.ScheduleBooking(ctx, evt.AppointmentID, evt.PatientID, consultAt)
		if err != nil {
			return err
		}
		h.logger.Info("booking cascade scheduled",
			"appointment_id", evt.AppointmentID, "messages", len(rows))
		return nil

	case TopicBookingCancelled, TopicBookingRescheduled:
		// A reschedule retires the old cascade only; the replacement
		// booking arrives as its own created event.
		status := appointments.StatusCancelled
		if msg.Topic == TopicBookingRescheduled {
			status = appointments.StatusRescheduled
		}
		if err := h.appts.UpdateStatus(ctx, evt.AppointmentID, status); err != nil {
			return err
		}
		cancelled, err := h.canceller.CancelAllPending(ctx, evt.AppointmentID)
		if err != nil {
			return err
		}
		h.logger.Info("cascade cancelled",
			"appointment_id", evt.AppointmentID, "topic", msg.Topic, "cancelled", cancelled)
		return nil

	case TopicAppointmentCompleted:
		appt, _, err := h.appts.GetWithPatient(ctx, evt.AppointmentID)
		if err != nil {
			if errors.Is(err, appointments.ErrNotFound) {
				h.logger.Error("completed event for unknown appointment",
					"appointment_id", evt.AppointmentID)
				return nil
			}
			return err
		}
		if appt.Status == appointments.StatusCompleted {
			h.logger.Info("appointment already completed, ignoring",
				"appointment_id", evt.AppointmentID)
			return nil
		}
		if err := h.appts.UpdateStatus(ctx, evt.AppointmentID, appointments.StatusCompleted); err != nil {
			return err
		}
		cancelled, err := h.canceller.CancelNoShowCascade(ctx, evt.AppointmentID)
		if err != nil {
			return err
		}
		rows, err := h.scheduler.SchedulePostConsult(ctx, evt.AppointmentID, evt.PatientID)
		if err != nil {
			return err
		}
		h.logger.Info("post-consult cascade scheduled",
			"appointment_id", evt.AppointmentID, "no_show_cancelled", cancelled, "messages", len(rows))
		return nil
	}

	h.logger.Warn("unhandled lifecycle topic", "topic", msg.Topic)
	return nil
}

func (h *Handler) parseScheduledAt(evt bookingEvent, topic string) (time.Time, bool) {
	if evt.PatientID == "" || evt.ScheduledAt == "" {
		h.logger.Error("lifecycle event missing fields", "topic", topic, "appointment_id", evt.AppointmentID)
		return time.Time{}, false
	}
	consultAt, err := time.Parse(time.RFC3339, evt.ScheduledAt)
	if err != nil {
		h.logger.Error("invalid scheduled_at", "err", err, "topic", topic, "appointment_id", evt.AppointmentID)
		return time.Time{}, false
	}
	return consultAt, true
}
