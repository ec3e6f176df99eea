// Package dispatch consumes due message jobs, re-validates the
// appointment they were scheduled against, and delivers or skips
// them. Appointment state may have changed any time between schedule
// and fire, so nothing decided at scheduling time is trusted here.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/valleyweightloss/messaging/libs/otel"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/appointments"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/channels"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/chatbot"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/outbox"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/queue"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/templates"
)

// AppointmentStore is the appointment/patient read model.
type AppointmentStore interface {
	GetWithPatient(ctx context.Context, appointmentID string) (appointments.Appointment, appointments.Patient, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, appointmentID string, status string) error
}

// TrackerStore transitions the message's tracker row.
type TrackerStore interface {
	MarkQueued(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, errText string) error
	MarkCancelled(ctx context.Context, id string) error
}

// OutboxStore records domain events transactionally.
type OutboxStore interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// TxBeginner starts database transactions; *db.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Config struct {
	BaseURL         string
	ConsultLink     string
	RescheduleLink  string
	EscalationPhone string
	EscalationEmail string
	MaxAttempts     int
	ClinicTZ        *time.Location
}

// Worker is the queue handler. Failures it can resolve locally
// (vanished appointment, stale state, bad payload) finish the job;
// delivery failures are marked FAILED and signalled back to the queue
// as retryable so a later attempt can overwrite FAILED with SENT.
type Worker struct {
	pool    TxBeginner
	appts   AppointmentStore
	tracker TrackerStore
	outbox  OutboxStore
	sms     channels.SMSSender
	voice   channels.VoiceCaller
	email   channels.EmailSender
	chatbot chatbot.Generator
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func NewWorker(
	pool TxBeginner,
	appts AppointmentStore,
	tracker TrackerStore,
	outboxRepo OutboxStore,
	sms channels.SMSSender,
	voice channels.VoiceCaller,
	email channels.EmailSender,
	assistant chatbot.Generator,
	logger *slog.Logger,
	cfg Config,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ClinicTZ == nil {
		cfg.ClinicTZ = time.UTC
	}
	return &Worker{
		pool:    pool,
		appts:   appts,
		tracker: tracker,
		outbox:  outboxRepo,
		sms:     sms,
		voice:   voice,
		email:   email,
		chatbot: assistant,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// permanentError marks a send failure the queue must not retry
// (missing template, unknown type). The row stays FAILED.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// Handle processes one due job.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	p, err := message.UnmarshalJobPayload(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid job payload: %w", err)
	}

	ctx = otelx.ContextWithTraceContext(ctx, p.Traceparent, p.Tracestate)
	ctx, span := otel.Tracer("dispatch").Start(ctx, "message.dispatch",
		trace.WithAttributes(
			attribute.String("message.type", string(p.Type)),
			attribute.String("appointment.id", p.AppointmentID),
		),
	)
	defer span.End()

	spec, ok := message.SpecFor(p.Type)
	if !ok {
		w.logger.Error("unknown message type", "type", string(p.Type), "message_id", p.MessageID)
		_ = w.tracker.MarkFailed(ctx, p.MessageID, "unknown message type: "+string(p.Type))
		return nil
	}

	appt, patient, err := w.appts.GetWithPatient(ctx, p.AppointmentID)
	if errors.Is(err, appointments.ErrNotFound) {
		w.logger.Warn("appointment not found, dropping message",
			"appointment_id", p.AppointmentID, "type", string(p.Type))
		_ = w.tracker.MarkFailed(ctx, p.MessageID, "appointment not found")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return w.retryOrFail(ctx, job, p, err)
	}

	// Stale-state skips. The cancellation engine should have removed
	// these jobs already; this is the safety net for the window where
	// a job fires between the state change and queue removal.
	if spec.NoShow && appt.Status == appointments.StatusCompleted {
		w.logger.Info("skipping no-show message, consult completed",
			"type", string(p.Type), "appointment_id", p.AppointmentID)
		return w.cancelRow(ctx, p.MessageID)
	}
	if appt.Status == appointments.StatusCancelled {
		w.logger.Info("skipping message, appointment cancelled",
			"type", string(p.Type), "appointment_id", p.AppointmentID)
		return w.cancelRow(ctx, p.MessageID)
	}

	if err := w.tracker.MarkQueued(ctx, p.MessageID); err != nil {
		span.RecordError(err)
		return w.retryOrFail(ctx, job, p, err)
	}

	// The initial no-show SMS is the authoritative signal that the
	// miss was detected; flip the appointment before sending so the
	// status change survives a delivery failure.
	if spec.MarksNoShow && appt.Status != appointments.StatusNoShow {
		if err := w.markNoShow(ctx, appt); err != nil {
			span.RecordError(err)
			return w.retryOrFail(ctx, job, p, err)
		}
	}

	local := appt.ScheduledAt.In(w.cfg.ClinicTZ)
	data := templates.Data{
		PatientName:    firstName(patient.Name),
		ConsultDate:    templates.FormatDate(local),
		ConsultTime:    templates.FormatTime(local),
		ConsultLink:    w.cfg.ConsultLink,
		RescheduleLink: w.cfg.RescheduleLink,
	}

	deliveryID, sendErr := w.send(ctx, spec, p, patient, data)
	if sendErr != nil {
		span.RecordError(sendErr)
		_ = w.tracker.MarkFailed(ctx, p.MessageID, sendErr.Error())

		var perm *permanentError
		if errors.As(sendErr, &perm) {
			w.logger.Error("message failed permanently", "err", sendErr,
				"type", string(p.Type), "appointment_id", p.AppointmentID)
			w.emitMessageEvent(ctx, outbox.EventMessageFailed, p, "", sendErr.Error())
			return nil
		}

		w.logger.Error("message delivery failed", "err", sendErr,
			"type", string(p.Type), "appointment_id", p.AppointmentID, "attempts", job.Attempts+1)
		if job.Attempts+1 >= w.cfg.MaxAttempts {
			w.emitMessageEvent(ctx, outbox.EventMessageFailed, p, "", sendErr.Error())
		}
		return queue.Retryable(sendErr)
	}

	if err := w.tracker.MarkSent(ctx, p.MessageID, w.now()); err != nil {
		span.RecordError(err)
		return w.retryOrFail(ctx, job, p, err)
	}
	w.emitMessageEvent(ctx, outbox.EventMessageSent, p, deliveryID, "")
	w.logger.Info("message sent", "type", string(p.Type),
		"appointment_id", p.AppointmentID, "channel", string(spec.Channel), "delivery_id", deliveryID)
	return nil
}

func (w *Worker) cancelRow(ctx context.Context, messageID string) error {
	if err := w.tracker.MarkCancelled(ctx, messageID); err != nil {
		return queue.Retryable(err)
	}
	return nil
}

// retryOrFail signals the queue to retry a transient failure. On the
// last attempt the queue drops the job afterwards, so the tracker row
// is closed out as FAILED first; a row must never stay PENDING or
// QUEUED once its job is gone.
func (w *Worker) retryOrFail(ctx context.Context, job queue.Job, p message.JobPayload, cause error) error {
	if job.Attempts+1 >= w.cfg.MaxAttempts {
		if err := w.tracker.MarkFailed(ctx, p.MessageID, cause.Error()); err != nil {
			w.logger.Error("final attempt tracker update failed", "err", err, "message_id", p.MessageID)
		}
		w.emitMessageEvent(ctx, outbox.EventMessageFailed, p, "", cause.Error())
	}
	return queue.Retryable(cause)
}

func (w *Worker) send(ctx context.Context, spec message.Spec, p message.JobPayload, patient appointments.Patient, data templates.Data) (string, error) {
	switch spec.Channel {
	case message.ChannelSMS:
		content, err := templates.Render(p.Type, data)
		if err != nil {
			return "", permanent(err)
		}
		return w.sms.Send(ctx, patient.Phone, content.Body)

	case message.ChannelChatbot:
		body, err := w.chatbotBody(ctx, spec, p, data)
		if err != nil {
			return "", err
		}
		return w.sms.Send(ctx, patient.Phone, body)

	case message.ChannelEmail:
		content, err := templates.Render(p.Type, data)
		if err != nil {
			return "", permanent(err)
		}
		if err := w.email.Send(patient.Email, content.Subject, content.HTML); err != nil {
			return "", err
		}
		return "", nil

	case message.ChannelVoice:
		return w.voice.Call(ctx, patient.Phone, w.twimlURL(p))

	case message.ChannelInternal:
		return "", w.sendEscalation(ctx, patient)
	}

	return "", permanent(fmt.Errorf("unsupported channel %q", spec.Channel))
}

// chatbotBody resolves the SMS body for CHATBOT-channel types: the
// intro uses fixed copy, the follow-ups ask the assistant.
func (w *Worker) chatbotBody(ctx context.Context, spec message.Spec, p message.JobPayload, data templates.Data) (string, error) {
	if spec.ChatbotPrompt == "" {
		content, err := templates.Render(p.Type, data)
		if err != nil {
			return "", permanent(err)
		}
		return content.Body, nil
	}
	return w.chatbot.GenerateProactive(ctx, p.PatientID, spec.ChatbotContext, spec.ChatbotPrompt)
}

func (w *Worker) twimlURL(p message.JobPayload) string {
	script := "confirmation-twiml"
	if p.Type == message.TypeNoShowVoiceCall {
		script = "no-show-twiml"
	}
	return fmt.Sprintf("%s/voice/%s?appointment_id=%s", w.cfg.BaseURL, script, p.AppointmentID)
}

// sendEscalation notifies the operator contact instead of the
// patient: the recovery cascade ran out without a response.
func (w *Worker) sendEscalation(ctx context.Context, patient appointments.Patient) error {
	body := fmt.Sprintf(
		"[VWL ESCALATION] Patient %s (%s) has not responded after no-show recovery. Manual outreach needed.",
		patient.Name, patient.Phone)
	if _, err := w.sms.Send(ctx, w.cfg.EscalationPhone, body); err != nil {
		return err
	}

	subject := "Patient Escalation: " + patient.Name
	html := fmt.Sprintf(
		"<p>Patient <strong>%s</strong> (%s, %s) missed their consultation and has not responded to automated recovery messages.</p><p>Please reach out manually.</p>",
		patient.Name, patient.Phone, patient.Email)
	return w.email.Send(w.cfg.EscalationEmail, subject, html)
}

// markNoShow flips the appointment and records the status-change
// event in one transaction.
func (w *Worker) markNoShow(ctx context.Context, appt appointments.Appointment) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := w.appts.UpdateStatusTx(ctx, tx, appt.ID, appointments.StatusNoShow); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"detected_at":    w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentNoShow,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// emitMessageEvent records a sent/failed event in its own
// transaction. Failures here are logged, not propagated: the tracker
// row is the source of truth and has already been updated.
func (w *Worker) emitMessageEvent(ctx context.Context, eventType string, p message.JobPayload, deliveryID string, reason string) {
	payload, err := json.Marshal(map[string]any{
		"message_id":     p.MessageID,
		"appointment_id": p.AppointmentID,
		"type":           string(p.Type),
		"channel":        string(p.Channel),
		"delivery_id":    deliveryID,
		"error_reason":   reason,
		"at":             w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		w.logger.Error("message event marshal failed", "err", err)
		return
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		w.logger.Error("message event tx failed", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "message",
		AggregateID:   p.MessageID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		w.logger.Error("message event insert failed", "err", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		w.logger.Error("message event commit failed", "err", err)
	}
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}
