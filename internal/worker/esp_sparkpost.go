package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/httpretry"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// SparkPostSender sends emails via the SparkPost Transmissions API.
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewSparkPostSender creates a sender targeting the SparkPost v1 API.
func NewSparkPostSender(apiKey, baseURL string, timeout time.Duration) *SparkPostSender {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	return &SparkPostSender{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithRetry retries requests the API refused without acting on them.
func (s *SparkPostSender) WithRetry(maxRetries int, baseDelay time.Duration) *SparkPostSender {
	if maxRetries > 0 {
		s.client = httpretry.NewRetryClient(s.client, maxRetries, baseDelay)
	}
	return s
}

// Send delivers a single email through SparkPost.
func (s *SparkPostSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("SparkPost API key not configured")
	}

	transmission := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"address": map[string]string{"email": msg.Email}},
		},
		"content": map[string]interface{}{
			"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
			"subject": msg.Subject,
			"html":    msg.HTMLContent,
		},
		"metadata": map[string]string{
			"campaign_id":  msg.CampaignID,
			"recipient_id": recipientID(msg),
		},
	}
	if len(msg.Headers) > 0 {
		transmission["content"].(map[string]interface{})["headers"] = msg.Headers
	}

	jsonData, err := json.Marshal(transmission)
	if err != nil {
		return nil, fmt.Errorf("marshal transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	body := readBody(resp)

	if resp.StatusCode >= 400 {
		return rejected(domain.ESPSparkPost, resp.StatusCode, body), nil
	}

	var result struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		logger.Warn("sparkpost: unparseable response", "status", resp.StatusCode, "error", err)
	}

	logger.Debug("sparkpost: sent", "recipient", msg.Email, "message_id", result.Results.ID)
	return accepted(domain.ESPSparkPost, result.Results.ID), nil
}
