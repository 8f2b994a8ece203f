package domain

import "time"

// DeliveryOutcome is the result of a single send attempt.
type DeliveryOutcome string

const (
	OutcomeSent   DeliveryOutcome = "sent"
	OutcomeFailed DeliveryOutcome = "failed"
)

// DeliveryRecord is one append-only ledger entry. CampaignID is nil for
// ad-hoc sends.
type DeliveryRecord struct {
	ID                string          `json:"id" db:"id"`
	CampaignID        *string         `json:"campaign_id" db:"campaign_id"`
	Recipient         string          `json:"recipient" db:"recipient"`
	Subject           string          `json:"subject" db:"subject"`
	AccountKey        string          `json:"account_key" db:"account_key"`
	Outcome           DeliveryOutcome `json:"outcome" db:"outcome"`
	ProviderMessageID string          `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Error             string          `json:"error,omitempty" db:"error"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// AccountUsage counts ledger entries for one account over one calendar day.
type AccountUsage struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// AccountQuota is the quota view of one provider account for today.
type AccountQuota struct {
	AccountKey string `json:"account_key"`
	Provider   string `json:"provider"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
}
