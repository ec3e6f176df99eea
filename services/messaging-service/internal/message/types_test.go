package message

import "testing"

func TestSpecFor_KnownAndUnknown(t *testing.T) {
	spec, ok := SpecFor(TypeConfirmationSMS)
	if !ok {
		t.Fatal("confirmation sms should be known")
	}
	if spec.Channel != ChannelSMS {
		t.Fatalf("channel %s, want SMS", spec.Channel)
	}

	if _, ok := SpecFor(Type("CARRIER_PIGEON")); ok {
		t.Fatal("unknown type should not resolve")
	}
}

func TestOnlyInitialNoShowSMSMarksNoShow(t *testing.T) {
	for _, typ := range AllTypes() {
		spec, _ := SpecFor(typ)
		if spec.MarksNoShow != (typ == TypeNoShowInitialSMS) {
			t.Fatalf("%s: MarksNoShow=%v", typ, spec.MarksNoShow)
		}
	}
}

func TestNoShowTypes_MatchesSpecFlags(t *testing.T) {
	subset := map[Type]bool{}
	for _, typ := range NoShowTypes() {
		subset[typ] = true
		if !IsNoShow(typ) {
			t.Fatalf("%s listed but not flagged", typ)
		}
	}
	for _, typ := range AllTypes() {
		if IsNoShow(typ) && !subset[typ] {
			t.Fatalf("%s flagged but not listed", typ)
		}
	}
	if len(NoShowTypes()) != 7 {
		t.Fatalf("no-show subset has %d types, want 7", len(NoShowTypes()))
	}
}

func TestChatbotTypesCarryContext(t *testing.T) {
	for _, typ := range AllTypes() {
		spec, _ := SpecFor(typ)
		if spec.Channel == ChannelChatbot && spec.ChatbotContext == "" {
			t.Fatalf("%s: chatbot type without context", typ)
		}
		if spec.Channel != ChannelChatbot && spec.ChatbotPrompt != "" {
			t.Fatalf("%s: prompt on non-chatbot type", typ)
		}
	}
}

func TestJobPayloadRoundTrip(t *testing.T) {
	p := JobPayload{
		MessageID:     "msg-1",
		AppointmentID: "appt-1",
		PatientID:     "pat-1",
		Type:          TypeTenMinReminderSMS,
		Channel:       ChannelSMS,
		Traceparent:   "00-abc-def-01",
	}
	raw, err := p.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalJobPayload(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := UnmarshalJobPayload([]byte("{")); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}
