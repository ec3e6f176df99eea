// Package templates resolves patient-facing message copy by type.
//
// These are starter templates carried from the launch copy deck; keep
// SMS bodies under 160 chars where possible (or accept multi-segment).
package templates

import (
	"fmt"
	"time"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
)

// Data is the fixed shape every template renders from.
type Data struct {
	PatientName    string // first name
	ConsultDate    string // e.g. "Tuesday, March 4"
	ConsultTime    string // e.g. "2:00 PM"
	ConsultLink    string
	RescheduleLink string
}

// Content is the rendered output. SMS types fill Body; email types
// fill Subject and HTML.
type Content struct {
	Body    string
	Subject string
	HTML    string
}

// FormatDate renders a consult timestamp the way templates expect.
func FormatDate(t time.Time) string {
	return t.Format("Monday, January 2")
}

// FormatTime renders a consult time the way templates expect.
func FormatTime(t time.Time) string {
	return t.Format("3:04 PM")
}

// Render resolves the template for t. Chatbot, voice and internal
// types have no template here: chatbot bodies are generated, voice
// content is a TwiML script, and escalations are composed from the
// patient record at dispatch time.
func Render(t message.Type, d Data) (Content, error) {
	switch t {
	case message.TypeConfirmationSMS:
		return Content{Body: fmt.Sprintf(
			"Hi %s! Your consultation with Valley Weight Loss is confirmed for %s at %s. This is a physician-led medical consultation — we're here to help you reach your goals. Questions? Just reply to this text.",
			d.PatientName, d.ConsultDate, d.ConsultTime)}, nil

	case message.TypeConfirmationEmail:
		return Content{
			Subject: fmt.Sprintf("Your Valley Weight Loss Consultation — %s at %s", d.ConsultDate, d.ConsultTime),
			HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #2c5282;">Your Consultation is Confirmed</h2>
<p>Hi %s,</p>
<p>Thank you for scheduling your consultation with Valley Weight Loss. Here are your details:</p>
<div style="background: #f7fafc; border-left: 4px solid #2c5282; padding: 16px; margin: 20px 0;">
<p style="margin: 0;"><strong>Date:</strong> %s</p>
<p style="margin: 0;"><strong>Time:</strong> %s</p>
<p style="margin: 0;"><strong>Link:</strong> <a href="%s">Join Consultation</a></p>
</div>
<h3>What to Expect</h3>
<p>Your consultation is a one-on-one conversation with our medical team. We'll discuss your health history, weight loss goals, and whether our physician-led program is right for you. There's no pressure and no obligation.</p>
<p>Need to reschedule? <a href="%s">Click here</a> or reply to our text.</p>
<p>— The Valley Weight Loss Team</p>
</div>`, d.PatientName, d.ConsultDate, d.ConsultTime, d.ConsultLink, d.RescheduleLink),
		}, nil

	case message.TypeChatbotIntroSMS:
		return Content{Body: fmt.Sprintf(
			"Hi %s, this is Dr. Patel's assistant at Valley Weight Loss. I'm available 24/7 to answer any questions before your consultation — medications, pricing, what to expect, anything. Just text me here!",
			d.PatientName)}, nil

	case message.TypePreConsultReminderSMS:
		return Content{Body: fmt.Sprintf(
			"Friendly reminder: your Valley Weight Loss consultation is tomorrow, %s at %s. If you need to change the time, just text us here and we'll take care of it.",
			d.ConsultDate, d.ConsultTime)}, nil

	case message.TypeTwoHourReminderSMS:
		return Content{Body: fmt.Sprintf(
			"Your Valley Weight Loss consultation is in 2 hours at %s. Here's your link to join: %s",
			d.ConsultTime, d.ConsultLink)}, nil

	case message.TypeTwoHourReminderEmail:
		return Content{
			Subject: fmt.Sprintf("Your consultation is in 2 hours — %s", d.ConsultTime),
			HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #2c5282;">Your Consultation is Coming Up</h2>
<p>Hi %s,</p>
<p>Just a reminder — your consultation is at <strong>%s</strong> today.</p>
<div style="text-align: center; margin: 24px 0;">
<a href="%s" style="background: #2c5282; color: white; padding: 12px 32px; text-decoration: none; border-radius: 6px; font-size: 16px;">Join Your Consultation</a>
</div>
<p>No special preparation needed — just be ready to have an open conversation about your goals.</p>
<p>— Valley Weight Loss</p>
</div>`, d.PatientName, d.ConsultTime, d.ConsultLink),
		}, nil

	case message.TypeTenMinReminderSMS:
		return Content{Body: fmt.Sprintf(
			"Starting soon! Your consultation is in 10 minutes. Join here: %s", d.ConsultLink)}, nil

	case message.TypePostConsultThankYouSMS:
		return Content{Body: fmt.Sprintf(
			"Thanks for meeting with us today, %s! Dr. Patel and our team are here to support your next steps. We're sending over a summary email with everything we discussed. Questions? Just text us.",
			d.PatientName)}, nil

	case message.TypePostConsultSummaryEmail:
		return Content{
			Subject: "Your Consultation Summary — Valley Weight Loss",
			HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #2c5282;">Thanks for Your Consultation</h2>
<p>Hi %s,</p>
<p>It was great speaking with you today. Here's a recap of what we discussed:</p>
<div style="background: #f7fafc; border-left: 4px solid #2c5282; padding: 16px; margin: 20px 0;">
<p><strong>Your Recommended Plan</strong></p>
<p>Based on your consultation, our team will follow up with specific plan recommendations tailored to your goals.</p>
</div>
<h3>Next Steps</h3>
<p>When you're ready to move forward, simply reply to this email or text us. We offer flexible payment options and our team is here to answer any remaining questions.</p>
<p>— Valley Weight Loss</p>
</div>`, d.PatientName),
		}, nil

	case message.TypeNoShowInitialSMS:
		return Content{Body: fmt.Sprintf(
			"Hi %s, we missed you at your consultation today. No worries at all — life happens! When you're ready, here's a link to reschedule at a time that works: %s",
			d.PatientName, d.RescheduleLink)}, nil

	case message.TypeNoShowInitialEmail:
		return Content{
			Subject: "We missed you — let's reschedule your consultation",
			HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #2c5282;">We Missed You Today</h2>
<p>Hi %s,</p>
<p>We noticed you weren't able to make your consultation, and that's completely okay. We'd love to get you rescheduled at a time that works better.</p>
<div style="text-align: center; margin: 24px 0;">
<a href="%s" style="background: #2c5282; color: white; padding: 12px 32px; text-decoration: none; border-radius: 6px; font-size: 16px;">Reschedule Now</a>
</div>
<p>Your consultation is free and takes about 15 minutes. We're here whenever you're ready.</p>
<p>— Valley Weight Loss</p>
</div>`, d.PatientName, d.RescheduleLink),
		}, nil

	case message.TypeNoShowNextDaySMS:
		return Content{Body: fmt.Sprintf(
			"Hi %s, just checking in from Valley Weight Loss. Your free consultation is still available whenever you're ready. Reschedule here: %s — or just text us if you have any questions first.",
			d.PatientName, d.RescheduleLink)}, nil

	case message.TypeNoShowNextDayEmail:
		return Content{
			Subject: "Your consultation is still available — Valley Weight Loss",
			HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #2c5282;">Still Thinking It Over?</h2>
<p>Hi %s,</p>
<p>We wanted to follow up and let you know your free consultation is still available. If you had questions or concerns, Dr. Patel's assistant can help — just reply to our text.</p>
<div style="text-align: center; margin: 24px 0;">
<a href="%s" style="background: #2c5282; color: white; padding: 12px 32px; text-decoration: none; border-radius: 6px; font-size: 16px;">Reschedule Your Consultation</a>
</div>
<p>— Valley Weight Loss</p>
</div>`, d.PatientName, d.RescheduleLink),
		}, nil
	}

	return Content{}, fmt.Errorf("no template for message type %q", t)
}
