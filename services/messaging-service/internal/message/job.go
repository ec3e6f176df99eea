package message

import "encoding/json"

// JobPayload is the body of a delayed-queue job. The tracker row id
// travels with the job so dispatch can transition the exact row the
// scheduler created, and the trace context links the dispatch span
// back to the scheduling request.
type JobPayload struct {
	MessageID     string  `json:"message_id"`
	AppointmentID string  `json:"appointment_id"`
	PatientID     string  `json:"patient_id"`
	Type          Type    `json:"type"`
	Channel       Channel `json:"channel"`
	Traceparent   string  `json:"traceparent,omitempty"`
	Tracestate    string  `json:"tracestate,omitempty"`
}

func (p JobPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalJobPayload(raw []byte) (JobPayload, error) {
	var p JobPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}
