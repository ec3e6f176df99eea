package appointments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/valleyweightloss/messaging/libs/db"
)

// Appointment status values. Transitions are one-directional except
// RESCHEDULED, which spawns a replacement appointment.
const (
	StatusScheduled   = "SCHEDULED"
	StatusCompleted   = "COMPLETED"
	StatusCancelled   = "CANCELLED"
	StatusNoShow      = "NO_SHOW"
	StatusRescheduled = "RESCHEDULED"
)

var ErrNotFound = errors.New("appointment not found")

type Appointment struct {
	ID          string
	PatientID   string
	ScheduledAt time.Time
	Status      string
}

type Patient struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetWithPatient fetches the current appointment state and its
// patient profile in one round trip.
func (r *Repository) GetWithPatient(ctx context.Context, appointmentID string) (Appointment, Patient, error) {
	var a Appointment
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.patient_id, a.scheduled_at, a.status,
		       p.id, p.name, p.email, p.phone
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.id = $1
	`, appointmentID).Scan(&a.ID, &a.PatientID, &a.ScheduledAt, &a.Status, &p.ID, &p.Name, &p.Email, &p.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, Patient{}, ErrNotFound
	}
	if err != nil {
		return Appointment{}, Patient{}, err
	}
	return a, p, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, appointmentID string, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, appointmentID, status)
	return err
}

// UpdateStatusTx is the transactional variant, used when a status
// flip must commit together with an outbox event.
func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, appointmentID string, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, appointmentID, status)
	return err
}
