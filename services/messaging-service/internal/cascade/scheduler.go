package cascade

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	otelx "github.com/valleyweightloss/messaging/libs/otel"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/tracker"
)

// Queue is the durable delayed queue the scheduler submits jobs to.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload []byte, delay time.Duration) (string, error)
	Remove(ctx context.Context, handle string) (bool, error)
}

// Tracker is the scheduled-message store.
type Tracker interface {
	Insert(ctx context.Context, m tracker.ScheduledMessage) (tracker.ScheduledMessage, error)
	FindPending(ctx context.Context, appointmentID string, types []message.Type) ([]tracker.ScheduledMessage, error)
	MarkCancelled(ctx context.Context, id string) error
}

// Scheduler turns cascade entries into queue jobs plus tracker rows.
type Scheduler struct {
	queue   Queue
	tracker Tracker
	logger  *slog.Logger
	loc     *time.Location
	now     func() time.Time
}

func NewScheduler(queue Queue, trk Tracker, logger *slog.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		queue:   queue,
		tracker: trk,
		logger:  logger,
		loc:     loc,
		now:     time.Now,
	}
}

// ScheduleBooking schedules the full pre-consult and no-show cascade
// for a new booking and returns the created tracker rows.
func (s *Scheduler) ScheduleBooking(ctx context.Context, appointmentID, patientID string, consultAt time.Time) ([]tracker.ScheduledMessage, error) {
	now := s.now()
	created, err := s.schedule(ctx, appointmentID, patientID, now, BuildBookingCascade(now, consultAt, s.loc))
	if err != nil {
		return created, err
	}
	s.logger.Info("booking cascade queued", "appointment_id", appointmentID, "messages", len(created))
	return created, nil
}

// SchedulePostConsult schedules the follow-up set after a completed
// consult, anchored to now.
func (s *Scheduler) SchedulePostConsult(ctx context.Context, appointmentID, patientID string) ([]tracker.ScheduledMessage, error) {
	now := s.now()
	created, err := s.schedule(ctx, appointmentID, patientID, now, BuildPostConsultCascade())
	if err != nil {
		return created, err
	}
	s.logger.Info("post-consult cascade queued", "appointment_id", appointmentID, "messages", len(created))
	return created, nil
}

// schedule enqueues each entry and tracks it as a PENDING row with
// the queue handle attached. Queue submission and row persistence are
// not atomic: a crash between the two leaves a queue job whose
// dispatch finds no tracker row and drops it. Entries with an unknown
// type are logged and skipped without aborting the rest.
func (s *Scheduler) schedule(ctx context.Context, appointmentID, patientID string, now time.Time, entries []Entry) ([]tracker.ScheduledMessage, error) {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)

	var created []tracker.ScheduledMessage
	for _, e := range entries {
		if _, ok := message.SpecFor(e.Type); !ok {
			s.logger.Error("unknown message type, skipping cascade entry", "type", string(e.Type), "appointment_id", appointmentID)
			continue
		}

		delay := e.Delay
		if delay < 0 {
			delay = 0
		}

		row := tracker.ScheduledMessage{
			ID:            uuid.NewString(),
			AppointmentID: appointmentID,
			PatientID:     patientID,
			Type:          e.Type,
			Channel:       e.Channel,
			ScheduledFor:  now.Add(delay),
			Status:        message.StatusPending,
		}

		payload, err := message.JobPayload{
			MessageID:     row.ID,
			AppointmentID: appointmentID,
			PatientID:     patientID,
			Type:          e.Type,
			Channel:       e.Channel,
			Traceparent:   traceparent,
			Tracestate:    tracestate,
		}.Marshal()
		if err != nil {
			return created, err
		}

		handle, err := s.queue.Enqueue(ctx, string(e.Type), payload, delay)
		if err != nil {
			return created, err
		}
		row.JobHandle = handle

		row, err = s.tracker.Insert(ctx, row)
		if err != nil {
			s.logger.Error("tracker insert failed after enqueue, queue job orphaned",
				"err", err, "type", string(e.Type), "appointment_id", appointmentID, "job_handle", handle)
			return created, err
		}
		created = append(created, row)
	}
	return created, nil
}
