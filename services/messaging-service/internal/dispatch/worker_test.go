package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/appointments"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/outbox"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/queue"
)

type fakeTx struct{ committed bool }

func (tx *fakeTx) Begin(context.Context) (pgx.Tx, error) { return tx, nil }
func (tx *fakeTx) Commit(context.Context) error          { tx.committed = true; return nil }
func (tx *fakeTx) Rollback(context.Context) error        { return nil }
func (tx *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (tx *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (tx *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (tx *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (tx *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (tx *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (tx *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (tx *fakeTx) Conn() *pgx.Conn                                         { return nil }

type fakeBeginner struct{ err error }

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &fakeTx{}, nil
}

type fakeAppts struct {
	appt          appointments.Appointment
	patient       appointments.Patient
	err           error
	statusUpdates []string
}

func (f *fakeAppts) GetWithPatient(context.Context, string) (appointments.Appointment, appointments.Patient, error) {
	if f.err != nil {
		return appointments.Appointment{}, appointments.Patient{}, f.err
	}
	return f.appt, f.patient, nil
}

func (f *fakeAppts) UpdateStatusTx(_ context.Context, _ pgx.Tx, _ string, status string) error {
	f.statusUpdates = append(f.statusUpdates, status)
	f.appt.Status = status
	return nil
}

type fakeTracker struct {
	statuses  []message.Status
	lastErr   string
	queuedErr error
}

func (f *fakeTracker) MarkQueued(context.Context, string) error {
	if f.queuedErr != nil {
		return f.queuedErr
	}
	f.statuses = append(f.statuses, message.StatusQueued)
	return nil
}

func (f *fakeTracker) MarkSent(context.Context, string, time.Time) error {
	f.statuses = append(f.statuses, message.StatusSent)
	return nil
}

func (f *fakeTracker) MarkFailed(_ context.Context, _ string, errText string) error {
	f.statuses = append(f.statuses, message.StatusFailed)
	f.lastErr = errText
	return nil
}

func (f *fakeTracker) MarkCancelled(context.Context, string) error {
	f.statuses = append(f.statuses, message.StatusCancelled)
	return nil
}

func (f *fakeTracker) last() message.Status {
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeOutbox struct {
	events []outbox.Event
}

func (f *fakeOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeOutbox) has(eventType string) bool {
	for _, e := range f.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type fakeSMS struct {
	to   []string
	body []string
	err  error
}

func (f *fakeSMS) Send(_ context.Context, to string, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.to = append(f.to, to)
	f.body = append(f.body, body)
	return "SM123", nil
}

type fakeVoice struct {
	urls []string
}

func (f *fakeVoice) Call(_ context.Context, _ string, twimlURL string) (string, error) {
	f.urls = append(f.urls, twimlURL)
	return "CA123", nil
}

type fakeEmail struct {
	to      []string
	subject []string
	err     error
}

func (f *fakeEmail) Send(to string, subject string, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.subject = append(f.subject, subject)
	return nil
}

type fakeChatbot struct {
	contexts []message.ChatbotContext
	reply    string
}

func (f *fakeChatbot) GenerateProactive(_ context.Context, _ string, convContext message.ChatbotContext, _ string) (string, error) {
	f.contexts = append(f.contexts, convContext)
	return f.reply, nil
}

type workerFixture struct {
	worker  *Worker
	appts   *fakeAppts
	tracker *fakeTracker
	outbox  *fakeOutbox
	sms     *fakeSMS
	voice   *fakeVoice
	email   *fakeEmail
	chatbot *fakeChatbot
}

func newFixture(apptStatus string) *workerFixture {
	f := &workerFixture{
		appts: &fakeAppts{
			appt: appointments.Appointment{
				ID:          "appt-1",
				PatientID:   "pat-1",
				Status:      apptStatus,
				ScheduledAt: time.Date(2026, 3, 5, 19, 0, 0, 0, time.UTC),
			},
			patient: appointments.Patient{
				ID:    "pat-1",
				Name:  "Dana Whitfield",
				Phone: "+15551230001",
				Email: "dana@example.com",
			},
		},
		tracker: &fakeTracker{},
		outbox:  &fakeOutbox{},
		sms:     &fakeSMS{},
		voice:   &fakeVoice{},
		email:   &fakeEmail{},
		chatbot: &fakeChatbot{reply: "Hi Dana, checking in!"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.worker = NewWorker(&fakeBeginner{}, f.appts, f.tracker, f.outbox, f.sms, f.voice, f.email, f.chatbot, logger, Config{
		BaseURL:         "https://msg.vwl.test",
		ConsultLink:     "https://vwl.test/consult",
		RescheduleLink:  "https://vwl.test/reschedule",
		EscalationPhone: "+15559990000",
		EscalationEmail: "team@vwl.test",
		MaxAttempts:     3,
		ClinicTZ:        time.UTC,
	})
	return f
}

func job(t *testing.T, typ message.Type, attempts int) queue.Job {
	t.Helper()
	spec, ok := message.SpecFor(typ)
	if !ok {
		t.Fatalf("unknown type %s", typ)
	}
	payload, err := message.JobPayload{
		MessageID:     "msg-1",
		AppointmentID: "appt-1",
		PatientID:     "pat-1",
		Type:          typ,
		Channel:       spec.Channel,
	}.Marshal()
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return queue.Job{Handle: "job-1", Kind: string(typ), Payload: payload, Attempts: attempts}
}

func TestHandle_SendsConfirmationSMS(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)

	if err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.sms.to) != 1 || f.sms.to[0] != "+15551230001" {
		t.Fatalf("sms recipients: %v", f.sms.to)
	}
	if !strings.Contains(f.sms.body[0], "Dana") {
		t.Fatalf("sms body missing first name: %q", f.sms.body[0])
	}
	if f.tracker.last() != message.StatusSent {
		t.Fatalf("final status %s, want SENT", f.tracker.last())
	}
	if !f.outbox.has(outbox.EventMessageSent) {
		t.Fatal("message.sent event not recorded")
	}
}

func TestHandle_SkipsNoShowMessageAfterCompletion(t *testing.T) {
	f := newFixture(appointments.StatusCompleted)

	if err := f.worker.Handle(context.Background(), job(t, message.TypeNoShowNextDaySMS, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.sms.to) != 0 {
		t.Fatalf("sms sent despite completed consult: %v", f.sms.to)
	}
	if f.tracker.last() != message.StatusCancelled {
		t.Fatalf("final status %s, want CANCELLED", f.tracker.last())
	}
}

func TestHandle_SkipsAnyMessageWhenCancelled(t *testing.T) {
	f := newFixture(appointments.StatusCancelled)

	if err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.sms.to) != 0 {
		t.Fatalf("sms sent despite cancelled appointment: %v", f.sms.to)
	}
	if f.tracker.last() != message.StatusCancelled {
		t.Fatalf("final status %s, want CANCELLED", f.tracker.last())
	}
}

func TestHandle_AppointmentGone(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)
	f.appts.err = appointments.ErrNotFound

	if err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.tracker.last() != message.StatusFailed {
		t.Fatalf("final status %s, want FAILED", f.tracker.last())
	}
	if f.tracker.lastErr != "appointment not found" {
		t.Fatalf("failure reason: %q", f.tracker.lastErr)
	}
}

func TestHandle_TransientFailureIsRetryable(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)
	f.sms.err = errors.New("twilio sms: status 500")

	err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 0))
	if err == nil {
		t.Fatal("expected error")
	}
	var retryable *queue.RetryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("error not retryable: %v", err)
	}
	if f.tracker.last() != message.StatusFailed {
		t.Fatalf("final status %s, want FAILED", f.tracker.last())
	}
	// Not the last attempt yet: no failure event.
	if f.outbox.has(outbox.EventMessageFailed) {
		t.Fatal("failure event recorded before retries exhausted")
	}
}

func TestHandle_RetryOverwritesFailed(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)
	f.sms.err = errors.New("twilio sms: status 500")

	if err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 0)); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	f.sms.err = nil
	if err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 1)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.tracker.last() != message.StatusSent {
		t.Fatalf("final status %s, want SENT after retry", f.tracker.last())
	}
}

func TestHandle_FinalAttemptEmitsFailureEvent(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)
	f.sms.err = errors.New("twilio sms: status 500")

	if err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 2)); err == nil {
		t.Fatal("expected error")
	}
	if !f.outbox.has(outbox.EventMessageFailed) {
		t.Fatal("failure event not recorded on final attempt")
	}
}

func TestHandle_InitialNoShowFlipsAppointment(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)

	if err := f.worker.Handle(context.Background(), job(t, message.TypeNoShowInitialSMS, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.appts.statusUpdates) != 1 || f.appts.statusUpdates[0] != appointments.StatusNoShow {
		t.Fatalf("status updates: %v", f.appts.statusUpdates)
	}
	if !f.outbox.has(outbox.EventAppointmentNoShow) {
		t.Fatal("no-show event not recorded")
	}
	if len(f.sms.to) != 1 {
		t.Fatalf("sms sends: %d", len(f.sms.to))
	}
}

func TestHandle_NoShowFlipHappensOnce(t *testing.T) {
	f := newFixture(appointments.StatusNoShow)

	if err := f.worker.Handle(context.Background(), job(t, message.TypeNoShowInitialSMS, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.appts.statusUpdates) != 0 {
		t.Fatalf("status updated again: %v", f.appts.statusUpdates)
	}
}

func TestHandle_EscalationGoesToOperator(t *testing.T) {
	f := newFixture(appointments.StatusNoShow)

	if err := f.worker.Handle(context.Background(), job(t, message.TypeNoShowEscalation, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.sms.to) != 1 || f.sms.to[0] != "+15559990000" {
		t.Fatalf("escalation sms went to %v", f.sms.to)
	}
	if len(f.email.to) != 1 || f.email.to[0] != "team@vwl.test" {
		t.Fatalf("escalation email went to %v", f.email.to)
	}
	if !strings.Contains(f.sms.body[0], "Dana Whitfield") {
		t.Fatalf("escalation body: %q", f.sms.body[0])
	}
}

func TestHandle_ChatbotFollowUpUsesGenerator(t *testing.T) {
	f := newFixture(appointments.StatusNoShow)

	if err := f.worker.Handle(context.Background(), job(t, message.TypeNoShowChatbotSMS, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.chatbot.contexts) != 1 || f.chatbot.contexts[0] != message.ContextNoShowRecovery {
		t.Fatalf("chatbot contexts: %v", f.chatbot.contexts)
	}
	if f.sms.body[0] != "Hi Dana, checking in!" {
		t.Fatalf("sms body: %q", f.sms.body[0])
	}
}

func TestHandle_ChatbotIntroUsesTemplate(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)

	if err := f.worker.Handle(context.Background(), job(t, message.TypeChatbotIntroSMS, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.chatbot.contexts) != 0 {
		t.Fatal("intro should not call the generator")
	}
	if len(f.sms.to) != 1 {
		t.Fatalf("sms sends: %d", len(f.sms.to))
	}
}

func TestHandle_VoiceCallsFetchScriptURL(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)
	if err := f.worker.Handle(context.Background(), job(t, message.TypeDayOfVoiceCall, 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.voice.urls) != 1 || !strings.Contains(f.voice.urls[0], "/voice/confirmation-twiml?appointment_id=appt-1") {
		t.Fatalf("twiml urls: %v", f.voice.urls)
	}

	f2 := newFixture(appointments.StatusNoShow)
	if err := f2.worker.Handle(context.Background(), job(t, message.TypeNoShowVoiceCall, 0)); err != nil {
		t.Fatalf("handle no-show call: %v", err)
	}
	if len(f2.voice.urls) != 1 || !strings.Contains(f2.voice.urls[0], "/voice/no-show-twiml?appointment_id=appt-1") {
		t.Fatalf("twiml urls: %v", f2.voice.urls)
	}
}

func TestHandle_BadPayloadIsPermanent(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)

	err := f.worker.Handle(context.Background(), queue.Job{Handle: "job-1", Payload: []byte("{")})
	if err == nil {
		t.Fatal("expected error")
	}
	var retryable *queue.RetryableError
	if errors.As(err, &retryable) {
		t.Fatalf("bad payload must not be retryable: %v", err)
	}
}

func TestHandle_UnknownTypeFailsPermanently(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)

	payload, err := message.JobPayload{
		MessageID:     "msg-1",
		AppointmentID: "appt-1",
		PatientID:     "pat-1",
		Type:          message.Type("CARRIER_PIGEON"),
	}.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := f.worker.Handle(context.Background(), queue.Job{Handle: "job-1", Payload: payload}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.tracker.last() != message.StatusFailed {
		t.Fatalf("final status %s, want FAILED", f.tracker.last())
	}
	if !strings.Contains(f.tracker.lastErr, "CARRIER_PIGEON") {
		t.Fatalf("failure reason: %q", f.tracker.lastErr)
	}
}

func TestHandle_LookupErrorIsRetryable(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)
	f.appts.err = fmt.Errorf("connection refused")

	err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 0))
	if err == nil {
		t.Fatal("expected error")
	}
	var retryable *queue.RetryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("lookup error not retryable: %v", err)
	}
	// Not the last attempt: the row stays live for the retry.
	if f.tracker.last() == message.StatusFailed {
		t.Fatal("row failed before retries exhausted")
	}
}

func TestHandle_LookupErrorFinalAttemptClosesRow(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)
	f.appts.err = fmt.Errorf("connection refused")

	err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 2))
	if err == nil {
		t.Fatal("expected error")
	}
	if f.tracker.last() != message.StatusFailed {
		t.Fatalf("final status %s, want FAILED once the queue drops the job", f.tracker.last())
	}
	if f.tracker.lastErr != "connection refused" {
		t.Fatalf("failure reason: %q", f.tracker.lastErr)
	}
	if !f.outbox.has(outbox.EventMessageFailed) {
		t.Fatal("failure event not recorded on final attempt")
	}
}

func TestHandle_TrackerErrorFinalAttemptClosesRow(t *testing.T) {
	f := newFixture(appointments.StatusScheduled)
	f.tracker.queuedErr = errors.New("pool exhausted")

	err := f.worker.Handle(context.Background(), job(t, message.TypeConfirmationSMS, 2))
	if err == nil {
		t.Fatal("expected error")
	}
	if f.tracker.last() != message.StatusFailed {
		t.Fatalf("final status %s, want FAILED once the queue drops the job", f.tracker.last())
	}
	if len(f.sms.to) != 0 {
		t.Fatalf("sms sent despite tracker failure: %v", f.sms.to)
	}
}
