package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
)

func scheduleFullCascade(t *testing.T, q *fakeQueue, trk *fakeTracker) {
	t.Helper()
	s := NewScheduler(q, trk, testLogger(), time.UTC)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	if _, err := s.ScheduleBooking(context.Background(), "appt-1", "pat-1", now.Add(72*time.Hour)); err != nil {
		t.Fatalf("schedule booking: %v", err)
	}
}

func TestCancelNoShowCascade_OnlyNoShowSubset(t *testing.T) {
	q := newFakeQueue()
	trk := newFakeTracker()
	scheduleFullCascade(t, q, trk)
	c := NewCanceller(q, trk, testLogger())

	n, err := c.CancelNoShowCascade(context.Background(), "appt-1")
	if err != nil {
		t.Fatalf("cancel no-show cascade: %v", err)
	}
	if n != 7 {
		t.Fatalf("cancelled %d, want 7", n)
	}

	for _, row := range trk.rows {
		if message.IsNoShow(row.Type) {
			if row.Status != message.StatusCancelled {
				t.Fatalf("%s: status %s, want CANCELLED", row.Type, row.Status)
			}
		} else if row.Status != message.StatusPending {
			t.Fatalf("%s: status %s, want PENDING untouched", row.Type, row.Status)
		}
	}
	if len(q.jobs) != 8 {
		t.Fatalf("queue has %d jobs, want 8 reminders left", len(q.jobs))
	}
}

func TestCancelAllPending_Everything(t *testing.T) {
	q := newFakeQueue()
	trk := newFakeTracker()
	scheduleFullCascade(t, q, trk)
	c := NewCanceller(q, trk, testLogger())

	n, err := c.CancelAllPending(context.Background(), "appt-1")
	if err != nil {
		t.Fatalf("cancel all pending: %v", err)
	}
	if n != 15 {
		t.Fatalf("cancelled %d, want 15", n)
	}
	if len(q.jobs) != 0 {
		t.Fatalf("queue has %d jobs, want 0", len(q.jobs))
	}
	for _, row := range trk.rows {
		if row.Status != message.StatusCancelled {
			t.Fatalf("%s: status %s, want CANCELLED", row.Type, row.Status)
		}
	}
}

func TestCancel_Idempotent(t *testing.T) {
	q := newFakeQueue()
	trk := newFakeTracker()
	scheduleFullCascade(t, q, trk)
	c := NewCanceller(q, trk, testLogger())

	if _, err := c.CancelAllPending(context.Background(), "appt-1"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	n, err := c.CancelAllPending(context.Background(), "appt-1")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if n != 0 {
		t.Fatalf("second cancel touched %d rows, want 0", n)
	}
}

func TestCancel_RowStillCancelledWhenJobAlreadyGone(t *testing.T) {
	q := newFakeQueue()
	trk := newFakeTracker()
	scheduleFullCascade(t, q, trk)
	c := NewCanceller(q, trk, testLogger())

	// Simulate a job that fired before cancellation reached it.
	var victim string
	for handle := range q.jobs {
		victim = handle
		break
	}
	delete(q.jobs, victim)

	n, err := c.CancelAllPending(context.Background(), "appt-1")
	if err != nil {
		t.Fatalf("cancel all pending: %v", err)
	}
	if n != 15 {
		t.Fatalf("cancelled %d, want 15", n)
	}
}

func TestCancel_OtherAppointmentsUntouched(t *testing.T) {
	q := newFakeQueue()
	trk := newFakeTracker()
	s := NewScheduler(q, trk, testLogger(), time.UTC)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.ScheduleBooking(context.Background(), "appt-1", "pat-1", now.Add(72*time.Hour)); err != nil {
		t.Fatalf("schedule appt-1: %v", err)
	}
	if _, err := s.ScheduleBooking(context.Background(), "appt-2", "pat-2", now.Add(48*time.Hour)); err != nil {
		t.Fatalf("schedule appt-2: %v", err)
	}

	c := NewCanceller(q, trk, testLogger())
	if _, err := c.CancelAllPending(context.Background(), "appt-1"); err != nil {
		t.Fatalf("cancel appt-1: %v", err)
	}

	for _, row := range trk.rows {
		if row.AppointmentID == "appt-2" && row.Status != message.StatusPending {
			t.Fatalf("appt-2 row %s: status %s, want PENDING", row.Type, row.Status)
		}
	}
}
