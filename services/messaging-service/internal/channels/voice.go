package channels

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// VoiceCaller places one outbound call that fetches its script from
// a TwiML URL when the call connects.
type VoiceCaller interface {
	Call(ctx context.Context, to string, twimlURL string) (string, error)
}

// TwilioVoiceCaller places calls through the Twilio Calls API. It
// shares the HTTP plumbing with the SMS sender.
type TwilioVoiceCaller struct {
	sms *TwilioSMSSender
}

func NewTwilioVoiceCaller(sms *TwilioSMSSender) *TwilioVoiceCaller {
	return &TwilioVoiceCaller{sms: sms}
}

func (c *TwilioVoiceCaller) Call(ctx context.Context, to string, twimlURL string) (string, error) {
	if c.sms.accountSID == "" || c.sms.authToken == "" {
		return "", errors.New("twilio credentials not configured")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.sms.from)
	form.Set("Url", twimlURL)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.sms.baseURL, c.sms.accountSID)
	sid, err := c.sms.post(ctx, endpoint, form)
	if err != nil {
		return "", fmt.Errorf("twilio voice: %w", err)
	}
	return sid, nil
}

// NoopVoiceCaller is the dev-mode caller.
type NoopVoiceCaller struct{}

func NewNoopVoiceCaller() *NoopVoiceCaller {
	return &NoopVoiceCaller{}
}

func (c *NoopVoiceCaller) Call(_ context.Context, _ string, _ string) (string, error) {
	return "noop", nil
}

// ConfirmationCallTwiML is the script for the morning-of confirmation
// call, fetched by the provider when the call connects.
func ConfirmationCallTwiML(patientName, consultTime, baseURL, appointmentID string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say voice="Polly.Joanna">
    Hello %s. This is Valley Weight Loss calling to confirm your consultation today at %s.
  </Say>
  <Gather numDigits="1" action="%s/voice/confirm-response?appointment_id=%s" method="POST">
    <Say voice="Polly.Joanna">
      Press 1 to confirm your appointment. Press 2 if you need to reschedule.
    </Say>
  </Gather>
  <Say voice="Polly.Joanna">
    We didn't receive a response. We'll send you a text with your appointment details. Goodbye.
  </Say>
</Response>`, patientName, consultTime, baseURL, url.QueryEscape(appointmentID))
}

// NoShowCallTwiML is the script for the no-show recovery call.
func NoShowCallTwiML(patientName, baseURL, appointmentID string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say voice="Polly.Joanna">
    Hello %s. This is Valley Weight Loss. We noticed you weren't able to make your consultation today, and we wanted to check in.
  </Say>
  <Gather numDigits="1" action="%s/voice/reschedule-response?appointment_id=%s" method="POST">
    <Say voice="Polly.Joanna">
      We'd love to help you reschedule at a time that works better. Press 1 and we'll send you a link to pick a new time. Press 2 if you'd like to speak with someone from our team.
    </Say>
  </Gather>
  <Say voice="Polly.Joanna">
    No worries. We'll follow up with a text message. Take care.
  </Say>
</Response>`, patientName, baseURL, url.QueryEscape(appointmentID))
}
