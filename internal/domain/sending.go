package domain

import "time"

// ESPType identifies the transport behind a provider account.
type ESPType string

const (
	ESPSparkPost ESPType = "sparkpost"
	ESPSES       ESPType = "ses"
	ESPMailgun   ESPType = "mailgun"
	ESPSendGrid  ESPType = "sendgrid"
	ESPSMTP      ESPType = "smtp"
)

// EmailMessage is the fully-rendered message handed to a transport.
// By the time a message reaches this struct, template substitution is done
// and the sending account's "from" identity has been applied.
type EmailMessage struct {
	CampaignID  string            `json:"campaign_id"`
	RecipientID int64             `json:"recipient_id"`
	Email       string            `json:"email"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	Headers     map[string]string `json:"headers,omitempty"`
	AccountKey  string            `json:"account_key"`
}

// SendResult is returned by a transport after attempting delivery.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id"`
	ESPType   ESPType   `json:"esp_type"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}

// Outcome is what the provider pool reports back for one recipient.
type Outcome struct {
	Success    bool   `json:"success"`
	AccountKey string `json:"account_key"`
	MessageID  string `json:"message_id,omitempty"`
	Error      string `json:"error,omitempty"`
	RecordID   string `json:"record_id"`
}
