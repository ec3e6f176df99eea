package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/appointments"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/channels"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/templates"
)

// AppointmentGetter is the read access the voice endpoints need.
type AppointmentGetter interface {
	GetWithPatient(ctx context.Context, appointmentID string) (appointments.Appointment, appointments.Patient, error)
}

// VoiceHandler serves the call scripts the telephony provider fetches
// when an outbound call connects, plus the keypad-response webhooks.
type VoiceHandler struct {
	appts          AppointmentGetter
	sms            channels.SMSSender
	logger         *slog.Logger
	baseURL        string
	rescheduleLink string
	clinicTZ       *time.Location
}

func NewVoiceHandler(appts AppointmentGetter, sms channels.SMSSender, logger *slog.Logger, baseURL, rescheduleLink string, clinicTZ *time.Location) *VoiceHandler {
	if clinicTZ == nil {
		clinicTZ = time.UTC
	}
	return &VoiceHandler{
		appts:          appts,
		sms:            sms,
		logger:         logger,
		baseURL:        baseURL,
		rescheduleLink: rescheduleLink,
		clinicTZ:       clinicTZ,
	}
}

func (h *VoiceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/voice/confirmation-twiml", h.ConfirmationTwiML)
	mux.HandleFunc("/voice/no-show-twiml", h.NoShowTwiML)
	mux.HandleFunc("/voice/confirm-response", h.ConfirmResponse)
	mux.HandleFunc("/voice/reschedule-response", h.RescheduleResponse)
}

func (h *VoiceHandler) ConfirmationTwiML(w http.ResponseWriter, r *http.Request) {
	appt, patient, ok := h.lookup(w, r)
	if !ok {
		return
	}
	consultTime := templates.FormatTime(appt.ScheduledAt.In(h.clinicTZ))
	writeTwiML(w, channels.ConfirmationCallTwiML(firstName(patient.Name), consultTime, h.baseURL, appt.ID))
}

func (h *VoiceHandler) NoShowTwiML(w http.ResponseWriter, r *http.Request) {
	appt, patient, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeTwiML(w, channels.NoShowCallTwiML(firstName(patient.Name), h.baseURL, appt.ID))
}

// ConfirmResponse handles the keypad digit from the confirmation
// call: 1 confirms, 2 asks for a reschedule link by text.
func (h *VoiceHandler) ConfirmResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	appt, patient, ok := h.lookup(w, r)
	if !ok {
		return
	}

	switch r.FormValue("Digits") {
	case "1":
		h.logger.Info("appointment confirmed by phone", "appointment_id", appt.ID)
		writeTwiML(w, sayTwiML("Great, you're confirmed. We look forward to seeing you. Goodbye."))
	case "2":
		h.sendRescheduleText(r, patient, appt.ID)
		writeTwiML(w, sayTwiML("No problem. We just texted you a link to pick a new time. Goodbye."))
	default:
		writeTwiML(w, sayTwiML("We didn't recognize that response. We'll follow up with a text message. Goodbye."))
	}
}

// RescheduleResponse handles the keypad digit from the no-show
// recovery call.
func (h *VoiceHandler) RescheduleResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	appt, patient, ok := h.lookup(w, r)
	if !ok {
		return
	}

	switch r.FormValue("Digits") {
	case "1":
		h.sendRescheduleText(r, patient, appt.ID)
		writeTwiML(w, sayTwiML("We just texted you a link to pick a new time. Take care."))
	case "2":
		h.logger.Info("patient requested a callback", "appointment_id", appt.ID)
		writeTwiML(w, sayTwiML("Someone from our team will reach out shortly. Take care."))
	default:
		writeTwiML(w, sayTwiML("No worries. We'll follow up with a text message. Take care."))
	}
}

func (h *VoiceHandler) lookup(w http.ResponseWriter, r *http.Request) (appointments.Appointment, appointments.Patient, bool) {
	appointmentID := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if appointmentID == "" {
		http.Error(w, "missing appointment_id", http.StatusBadRequest)
		return appointments.Appointment{}, appointments.Patient{}, false
	}

	appt, patient, err := h.appts.GetWithPatient(r.Context(), appointmentID)
	if errors.Is(err, appointments.ErrNotFound) {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return appointments.Appointment{}, appointments.Patient{}, false
	}
	if err != nil {
		h.logger.Error("appointment lookup failed", "err", err, "appointment_id", appointmentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return appointments.Appointment{}, appointments.Patient{}, false
	}
	return appt, patient, true
}

func (h *VoiceHandler) sendRescheduleText(r *http.Request, patient appointments.Patient, appointmentID string) {
	body := "Hi " + firstName(patient.Name) + ", here's your link to reschedule your Valley Weight Loss consultation: " + h.rescheduleLink
	if _, err := h.sms.Send(r.Context(), patient.Phone, body); err != nil {
		h.logger.Error("reschedule text failed", "err", err, "appointment_id", appointmentID)
	}
}

func writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(body))
}

func sayTwiML(text string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say voice="Polly.Joanna">` + text + `</Say>
</Response>`
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}
