package channels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTwilioSMSSender_Send(t *testing.T) {
	var gotPath, gotTo, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotTo = r.FormValue("To")
		gotBody = r.FormValue("Body")
		if _, _, ok := r.BasicAuth(); !ok {
			t.Fatal("missing basic auth")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42"}`))
	}))
	defer srv.Close()

	sender := NewTwilioSMSSender("AC123", "token", "+15550001111")
	sender.baseURL = srv.URL

	sid, err := sender.Send(context.Background(), "+15552223333", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sid != "SM42" {
		t.Fatalf("sid %q", sid)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Fatalf("path %q", gotPath)
	}
	if gotTo != "+15552223333" || gotBody != "hello" {
		t.Fatalf("form: to=%q body=%q", gotTo, gotBody)
	}
}

func TestTwilioSMSSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewTwilioSMSSender("AC123", "token", "+15550001111")
	sender.baseURL = srv.URL

	if _, err := sender.Send(context.Background(), "bad", "hello"); err == nil {
		t.Fatal("expected error")
	}
}

func TestTwilioSMSSender_MissingCredentials(t *testing.T) {
	sender := NewTwilioSMSSender("", "", "+15550001111")
	if _, err := sender.Send(context.Background(), "+15552223333", "hello"); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestTwilioVoiceCaller_Send(t *testing.T) {
	var gotPath, gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotURL = r.FormValue("Url")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA42"}`))
	}))
	defer srv.Close()

	sms := NewTwilioSMSSender("AC123", "token", "+15550001111")
	sms.baseURL = srv.URL
	caller := NewTwilioVoiceCaller(sms)

	sid, err := caller.Call(context.Background(), "+15552223333", "https://msg.vwl.test/voice/confirmation-twiml?appointment_id=a1")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if sid != "CA42" {
		t.Fatalf("sid %q", sid)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Calls.json" {
		t.Fatalf("path %q", gotPath)
	}
	if !strings.Contains(gotURL, "confirmation-twiml") {
		t.Fatalf("url %q", gotURL)
	}
}

func TestConfirmationCallTwiML(t *testing.T) {
	twiml := ConfirmationCallTwiML("Dana", "2:00 PM", "https://msg.vwl.test", "appt-1")
	if !strings.Contains(twiml, "Dana") || !strings.Contains(twiml, "2:00 PM") {
		t.Fatalf("script missing details: %s", twiml)
	}
	if !strings.Contains(twiml, `action="https://msg.vwl.test/voice/confirm-response?appointment_id=appt-1"`) {
		t.Fatalf("script missing gather action: %s", twiml)
	}
}

func TestNoShowCallTwiML(t *testing.T) {
	twiml := NoShowCallTwiML("Dana", "https://msg.vwl.test", "appt-1")
	if !strings.Contains(twiml, `action="https://msg.vwl.test/voice/reschedule-response?appointment_id=appt-1"`) {
		t.Fatalf("script missing gather action: %s", twiml)
	}
}

func TestBuildMessage_TextFallback(t *testing.T) {
	html := "<p>Hi Dana,</p><p>Your consult is <strong>tomorrow</strong>.</p>"
	msg := buildMessage("Valley Weight Loss", "care@vwl.test", "dana@example.com", "Reminder", html)

	if !strings.Contains(msg, "Content-Type: multipart/alternative") {
		t.Fatalf("not multipart: %s", msg)
	}
	if !strings.Contains(msg, "Content-Type: text/plain; charset=utf-8") {
		t.Fatalf("missing text part: %s", msg)
	}
	if !strings.Contains(msg, "Content-Type: text/html; charset=utf-8") {
		t.Fatalf("missing html part: %s", msg)
	}
	if !strings.Contains(msg, "Your consult is tomorrow.") {
		t.Fatalf("text part not stripped from html: %s", msg)
	}
	if !strings.Contains(msg, "<strong>tomorrow</strong>") {
		t.Fatalf("html part mangled: %s", msg)
	}
	if !strings.Contains(msg, "--"+altBoundary+"--\r\n") {
		t.Fatalf("missing closing boundary: %s", msg)
	}
}

func TestStripHTML(t *testing.T) {
	html := "<p>Hi Dana,</p><p>See you <strong>soon</strong>.<br/>— VWL</p>"
	got := StripHTML(html)
	if strings.Contains(got, "<") {
		t.Fatalf("tags left behind: %q", got)
	}
	if !strings.Contains(got, "Hi Dana,") || !strings.Contains(got, "See you soon.") {
		t.Fatalf("text mangled: %q", got)
	}
}
