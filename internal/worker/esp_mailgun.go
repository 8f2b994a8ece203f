package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/httpretry"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// MailgunSender sends emails via the Mailgun Messages API.
type MailgunSender struct {
	apiKey  string
	domain  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewMailgunSender creates a Mailgun sender for one sending domain.
func NewMailgunSender(apiKey, domain, baseURL string, timeout time.Duration) *MailgunSender {
	if baseURL == "" {
		baseURL = "https://api.mailgun.net/v3"
	}
	return &MailgunSender{
		apiKey:  apiKey,
		domain:  domain,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithRetry retries requests the API refused without acting on them.
func (s *MailgunSender) WithRetry(maxRetries int, baseDelay time.Duration) *MailgunSender {
	if maxRetries > 0 {
		s.client = httpretry.NewRetryClient(s.client, maxRetries, baseDelay)
	}
	return s
}

// Send delivers a single email through Mailgun.
func (s *MailgunSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("Mailgun API key not configured")
	}
	if s.domain == "" {
		return nil, fmt.Errorf("Mailgun sending domain not configured")
	}

	form := url.Values{}
	form.Add("from", formatFrom(msg.FromName, msg.FromEmail))
	form.Add("to", msg.Email)
	form.Add("subject", msg.Subject)
	form.Add("html", msg.HTMLContent)
	form.Add("v:campaign_id", msg.CampaignID)
	form.Add("v:recipient_id", recipientID(msg))
	for k, v := range msg.Headers {
		form.Add("h:"+k, v)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode >= 400 {
		return rejected(domain.ESPMailgun, resp.StatusCode, body), nil
	}

	var result struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	json.Unmarshal(body, &result)
	messageID := strings.Trim(result.ID, "<>")

	logger.Debug("mailgun: sent", "recipient", msg.Email, "message_id", messageID)
	return accepted(domain.ESPMailgun, messageID), nil
}
