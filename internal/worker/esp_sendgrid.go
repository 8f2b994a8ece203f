package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/httpretry"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// SendGridSender sends emails via the SendGrid v3 Mail Send API.
type SendGridSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewSendGridSender creates a SendGrid sender.
func NewSendGridSender(apiKey, baseURL string, timeout time.Duration) *SendGridSender {
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com/v3"
	}
	return &SendGridSender{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithRetry retries requests the API refused without acting on them.
func (s *SendGridSender) WithRetry(maxRetries int, baseDelay time.Duration) *SendGridSender {
	if maxRetries > 0 {
		s.client = httpretry.NewRetryClient(s.client, maxRetries, baseDelay)
	}
	return s
}

// Send delivers a single email through SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("SendGrid API key not configured")
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{
				"to":          []map[string]string{{"email": msg.Email}},
				"custom_args": map[string]string{"campaign_id": msg.CampaignID, "recipient_id": recipientID(msg)},
			},
		},
		"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
		"subject": msg.Subject,
		"content": []map[string]string{{"type": "text/html", "value": msg.HTMLContent}},
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mail/send", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode >= 400 {
		return rejected(domain.ESPSendGrid, resp.StatusCode, body), nil
	}

	// 202 Accepted carries no body; the id comes back in a header.
	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.New().String()
	}

	logger.Debug("sendgrid: sent", "recipient", msg.Email, "message_id", messageID)
	return accepted(domain.ESPSendGrid, messageID), nil
}
