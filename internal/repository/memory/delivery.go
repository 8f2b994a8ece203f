package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// DeliveryLedger implements campaign.DeliveryLedger. Like the Postgres
// table, it keeps at most one sent record per (campaign, recipient).
type DeliveryLedger struct {
	mu      sync.Mutex
	records []domain.DeliveryRecord
}

// NewDeliveryLedger creates an empty ledger.
func NewDeliveryLedger() *DeliveryLedger {
	return &DeliveryLedger{}
}

func (l *DeliveryLedger) Append(_ context.Context, rec *domain.DeliveryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Outcome == domain.OutcomeSent && rec.CampaignID != nil && l.hasSent(*rec.CampaignID, rec.Recipient) {
		return nil
	}
	cp := *rec
	if rec.CampaignID != nil {
		id := *rec.CampaignID
		cp.CampaignID = &id
	}
	l.records = append(l.records, cp)
	return nil
}

func (l *DeliveryLedger) CountByAccount(_ context.Context, from, to time.Time) (map[string]domain.AccountUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.AccountUsage)
	for _, r := range l.records {
		if r.AccountKey == "" || r.CreatedAt.Before(from) || !r.CreatedAt.Before(to) {
			continue
		}
		u := out[r.AccountKey]
		if r.Outcome == domain.OutcomeSent {
			u.Sent++
		} else {
			u.Failed++
		}
		out[r.AccountKey] = u
	}
	return out, nil
}

func (l *DeliveryLedger) HasSent(_ context.Context, campaignID, recipient string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasSent(campaignID, recipient), nil
}

func (l *DeliveryLedger) CountSent(_ context.Context, campaignID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if r.Outcome == domain.OutcomeSent && r.CampaignID != nil && *r.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

// Records returns a snapshot of every record in append order.
func (l *DeliveryLedger) Records() []domain.DeliveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.DeliveryRecord(nil), l.records...)
}

func (l *DeliveryLedger) hasSent(campaignID, recipient string) bool {
	for _, r := range l.records {
		if r.Outcome == domain.OutcomeSent && r.CampaignID != nil &&
			*r.CampaignID == campaignID && r.Recipient == recipient {
			return true
		}
	}
	return false
}
