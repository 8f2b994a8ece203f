// Package worker contains the ESP transports, the trigger scheduler and the
// paused-campaign resume worker.
//
// ESP transports are split into individual files:
//   - esp_sparkpost.go: SparkPost Transmissions API
//   - esp_ses.go:       AWS SES v2
//   - esp_mailgun.go:   Mailgun Messages API
//   - esp_sendgrid.go:  SendGrid v3 Mail Send
//   - esp_smtp.go:      plain SMTP submission (Gmail and similar)
//   - esp_factory.go:   builds the provider priority list from config
package worker

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// maxErrorBody caps how much of an ESP error response is kept in a
// delivery record.
const maxErrorBody = 512

func formatFrom(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

func rejected(esp domain.ESPType, status int, body []byte) *domain.SendResult {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &domain.SendResult{
		Success: false,
		ESPType: esp,
		Error:   fmt.Sprintf("%s error %d: %s", esp, status, string(body)),
	}
}

func accepted(esp domain.ESPType, messageID string) *domain.SendResult {
	return &domain.SendResult{Success: true, MessageID: messageID, ESPType: esp, SentAt: time.Now()}
}

func readBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return body
}

func recipientID(msg *domain.EmailMessage) string {
	if msg.RecipientID == 0 {
		return ""
	}
	return fmt.Sprintf("%d", msg.RecipientID)
}
