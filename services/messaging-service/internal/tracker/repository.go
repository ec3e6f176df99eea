package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/valleyweightloss/messaging/libs/db"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
)

// ScheduledMessage is one tracked cascade entry. Rows are never
// deleted; they only transition to a terminal status, so the table is
// the audit trail for everything the engine ever scheduled.
type ScheduledMessage struct {
	ID            string
	AppointmentID string
	PatientID     string
	Type          message.Type
	Channel       message.Channel
	ScheduledFor  time.Time
	Status        message.Status
	JobHandle     string
	Error         string
	SentAt        *time.Time
	CreatedAt     time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a new PENDING row. The id is generated here when
// the caller leaves it empty.
func (r *Repository) Insert(ctx context.Context, m ScheduledMessage) (ScheduledMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = message.StatusPending
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduled_messages (id, appointment_id, patient_id, type, channel, scheduled_for, status, job_handle)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.AppointmentID, m.PatientID, string(m.Type), string(m.Channel), m.ScheduledFor, string(m.Status), m.JobHandle)
	return m, err
}

func (r *Repository) MarkQueued(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, string(message.StatusQueued))
	return err
}

// MarkSent records a successful delivery. It overwrites a FAILED
// status left by an earlier attempt that the queue retried.
func (r *Repository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = $2, sent_at = $3, error = '', updated_at = now()
		WHERE id = $1
	`, id, string(message.StatusSent), sentAt)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id string, errText string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1
	`, id, string(message.StatusFailed), errText)
	return err
}

func (r *Repository) MarkCancelled(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = $2, job_handle = '', updated_at = now()
		WHERE id = $1
	`, id, string(message.StatusCancelled))
	return err
}

// FindPending returns the PENDING/QUEUED rows for an appointment,
// optionally restricted to a type subset. Terminal rows never match,
// which is what makes the cancellation engine idempotent.
func (r *Repository) FindPending(ctx context.Context, appointmentID string, types []message.Type) ([]ScheduledMessage, error) {
	query := `
		SELECT id, appointment_id, patient_id, type, channel, scheduled_for, status, job_handle, error, sent_at, created_at
		FROM scheduled_messages
		WHERE appointment_id = $1 AND status IN ('PENDING', 'QUEUED')
	`
	args := []any{appointmentID}
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, string(t))
		}
		query += ` AND type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY scheduled_for`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListByAppointment returns every row ever tracked for an appointment.
func (r *Repository) ListByAppointment(ctx context.Context, appointmentID string) ([]ScheduledMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, patient_id, type, channel, scheduled_for, status, job_handle, error, sent_at, created_at
		FROM scheduled_messages
		WHERE appointment_id = $1
		ORDER BY scheduled_for
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]ScheduledMessage, error) {
	var out []ScheduledMessage
	for rows.Next() {
		var m ScheduledMessage
		var typ, channel, status string
		if err := rows.Scan(&m.ID, &m.AppointmentID, &m.PatientID, &typ, &channel, &m.ScheduledFor, &status, &m.JobHandle, &m.Error, &m.SentAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = message.Type(typ)
		m.Channel = message.Channel(channel)
		m.Status = message.Status(status)
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
