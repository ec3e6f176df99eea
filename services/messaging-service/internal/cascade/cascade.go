// Package cascade computes and schedules the notification cascades
// derived from appointment lifecycle events, and cancels them when
// the appointment's state makes them moot.
package cascade

import (
	"time"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
)

// Entry is one computed cascade job: what to send and how long from
// now it fires.
type Entry struct {
	Type    message.Type
	Channel message.Channel
	Delay   time.Duration
}

// Cascade entries split into two inclusion policies, kept deliberately
// distinct: unconditional entries (the immediate set and the whole
// no-show cascade) are always scheduled, with negative delays clamped
// to zero at enqueue time; conditional entries (the reminders) are
// omitted entirely when their instant has already passed.

// BuildBookingCascade computes the full offset table for a new
// booking. now is the scheduling instant, consultAt the consult time,
// loc the clinic timezone used for the day-of 9 AM call.
func BuildBookingCascade(now, consultAt time.Time, loc *time.Location) []Entry {
	lead := consultAt.Sub(now)

	entries := []Entry{
		{Type: message.TypeConfirmationSMS, Delay: 0},
		{Type: message.TypeChatbotIntroSMS, Delay: 3 * time.Minute},
		{Type: message.TypeConfirmationEmail, Delay: 30 * time.Second},
	}

	// Pre-consult reminder lands at T-24h, so it only exists for
	// bookings made more than a day out.
	if lead > 24*time.Hour {
		entries = append(entries, Entry{Type: message.TypePreConsultReminderSMS, Delay: lead - 24*time.Hour})
	}

	// Morning-of voice call at 9:00 AM clinic time on the consult's
	// calendar date, if that hasn't already passed.
	local := consultAt.In(loc)
	morning := time.Date(local.Year(), local.Month(), local.Day(), 9, 0, 0, 0, loc)
	if d := morning.Sub(now); d > 0 {
		entries = append(entries, Entry{Type: message.TypeDayOfVoiceCall, Delay: d})
	}

	if d := lead - 2*time.Hour; d > 0 {
		entries = append(entries,
			Entry{Type: message.TypeTwoHourReminderSMS, Delay: d},
			Entry{Type: message.TypeTwoHourReminderEmail, Delay: d},
		)
	}

	if d := lead - 10*time.Minute; d > 0 {
		entries = append(entries, Entry{Type: message.TypeTenMinReminderSMS, Delay: d})
	}

	// No-show recovery is always scheduled, anchored to the consult
	// time; completion cancels it.
	entries = append(entries,
		Entry{Type: message.TypeNoShowInitialSMS, Delay: lead + 35*time.Minute},
		Entry{Type: message.TypeNoShowInitialEmail, Delay: lead + 35*time.Minute},
		Entry{Type: message.TypeNoShowVoiceCall, Delay: lead + 2*time.Hour},
		Entry{Type: message.TypeNoShowNextDaySMS, Delay: lead + 24*time.Hour},
		Entry{Type: message.TypeNoShowNextDayEmail, Delay: lead + 24*time.Hour},
		Entry{Type: message.TypeNoShowChatbotSMS, Delay: lead + 24*time.Hour + 30*time.Minute},
		Entry{Type: message.TypeNoShowEscalation, Delay: lead + 48*time.Hour},
	)

	return fillChannels(entries)
}

// BuildPostConsultCascade computes the follow-up set scheduled when a
// consult completes, anchored to the completion instant.
func BuildPostConsultCascade() []Entry {
	return fillChannels([]Entry{
		{Type: message.TypePostConsultThankYouSMS, Delay: 0},
		{Type: message.TypePostConsultSummaryEmail, Delay: 1 * time.Minute},
		{Type: message.TypePostConsultChatbotSMS, Delay: 15 * time.Minute},
	})
}

func fillChannels(entries []Entry) []Entry {
	for i := range entries {
		if spec, ok := message.SpecFor(entries[i].Type); ok {
			entries[i].Channel = spec.Channel
		}
	}
	return entries
}
