package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
)

// Generator produces a proactive assistant message for a patient and
// conversation context.
type Generator interface {
	GenerateProactive(ctx context.Context, patientID string, convContext message.ChatbotContext, prompt string) (string, error)
}

// Client calls the conversational assistant service. The assistant
// owns prompt construction and model access; this client only asks
// for a message and records it in the conversation history.
type Client struct {
	url   string
	token string
	http  *http.Client
	conv  *ConversationRepository
}

func NewClient(url, token string, conv *ConversationRepository) *Client {
	return &Client{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		conv: conv,
	}
}

func (c *Client) GenerateProactive(ctx context.Context, patientID string, convContext message.ChatbotContext, prompt string) (string, error) {
	if c.url == "" {
		return "", errors.New("chatbot service url not configured")
	}
	payload, err := json.Marshal(map[string]string{
		"patient_id": patientID,
		"context":    string(convContext),
		"prompt":     prompt,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chatbot service status %d", resp.StatusCode)
	}

	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", err
	}
	if parsed.Message == "" {
		return "", errors.New("chatbot service returned empty message")
	}

	if c.conv != nil {
		convID, err := c.conv.EnsureActive(ctx, patientID, convContext)
		if err != nil {
			return "", err
		}
		if err := c.conv.AppendMessage(ctx, convID, "assistant", parsed.Message); err != nil {
			return "", err
		}
	}
	return parsed.Message, nil
}
