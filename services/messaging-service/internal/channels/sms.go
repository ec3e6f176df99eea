package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSSender delivers one text message and returns the provider's
// delivery id.
type SMSSender interface {
	Send(ctx context.Context, to string, body string) (string, error)
}

// TwilioSMSSender sends SMS through the Twilio Messages API.
type TwilioSMSSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	http       *http.Client
}

func NewTwilioSMSSender(accountSID, authToken, from string) *TwilioSMSSender {
	return &TwilioSMSSender{
		accountSID: strings.TrimSpace(accountSID),
		authToken:  strings.TrimSpace(authToken),
		from:       strings.TrimSpace(from),
		baseURL:    "https://api.twilio.com",
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *TwilioSMSSender) Send(ctx context.Context, to string, body string) (string, error) {
	if s.accountSID == "" || s.authToken == "" {
		return "", errors.New("twilio credentials not configured")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	sid, err := s.post(ctx, endpoint, form)
	if err != nil {
		return "", fmt.Errorf("twilio sms: %w", err)
	}
	return sid, nil
}

func (s *TwilioSMSSender) post(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.SID == "" {
		return "unknown", nil
	}
	return parsed.SID, nil
}

// NoopSMSSender is the dev-mode sender used when no provider is
// configured.
type NoopSMSSender struct{}

func NewNoopSMSSender() *NoopSMSSender {
	return &NoopSMSSender{}
}

func (s *NoopSMSSender) Send(_ context.Context, _ string, _ string) (string, error) {
	return "noop", nil
}
