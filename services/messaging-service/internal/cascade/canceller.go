package cascade

import (
	"context"
	"log/slog"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
)

// Canceller retires not-yet-fired cascade entries: it removes their
// queue jobs and marks their tracker rows CANCELLED. Rows already in
// a terminal status are never touched, so both operations are
// idempotent.
type Canceller struct {
	queue   Queue
	tracker Tracker
	logger  *slog.Logger
}

func NewCanceller(queue Queue, trk Tracker, logger *slog.Logger) *Canceller {
	return &Canceller{queue: queue, tracker: trk, logger: logger}
}

// CancelNoShowCascade cancels the pending no-show recovery entries
// for an appointment, called when the consult completes. Returns the
// number of rows cancelled.
func (c *Canceller) CancelNoShowCascade(ctx context.Context, appointmentID string) (int, error) {
	n, err := c.cancel(ctx, appointmentID, message.NoShowTypes())
	if err != nil {
		return n, err
	}
	c.logger.Info("no-show cascade cancelled", "appointment_id", appointmentID, "cancelled", n)
	return n, nil
}

// CancelAllPending cancels every pending entry for an appointment,
// called on booking cancellation or reschedule.
func (c *Canceller) CancelAllPending(ctx context.Context, appointmentID string) (int, error) {
	n, err := c.cancel(ctx, appointmentID, nil)
	if err != nil {
		return n, err
	}
	c.logger.Info("all pending messages cancelled", "appointment_id", appointmentID, "cancelled", n)
	return n, nil
}

// cancel is best-effort against the dispatch worker: a job already
// claimed when its queue entry is removed may still deliver once; the
// worker's own appointment-status check is the second line of
// defense.
func (c *Canceller) cancel(ctx context.Context, appointmentID string, types []message.Type) (int, error) {
	rows, err := c.tracker.FindPending(ctx, appointmentID, types)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, row := range rows {
		if row.JobHandle != "" {
			removed, err := c.queue.Remove(ctx, row.JobHandle)
			if err != nil {
				c.logger.Warn("queue remove failed, cancelling tracker row anyway",
					"err", err, "job_handle", row.JobHandle, "message_id", row.ID)
			} else if !removed {
				// Already fired or already removed; the row still
				// moves to CANCELLED so dispatch skips it.
				c.logger.Info("queue job already gone", "job_handle", row.JobHandle, "message_id", row.ID)
			}
		}
		if err := c.tracker.MarkCancelled(ctx, row.ID); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}
