package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// DeliveryRepo implements campaign.DeliveryLedger against PostgreSQL.
type DeliveryRepo struct{ db *sql.DB }

// NewDeliveryRepo creates a Postgres-backed delivery ledger.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

// Append inserts one record. A second sent record for the same (campaign,
// recipient) is dropped by the partial unique index.
func (r *DeliveryRepo) Append(ctx context.Context, rec *domain.DeliveryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_records
			(id, campaign_id, recipient, subject, account_key, outcome,
			 provider_message_id, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (campaign_id, recipient) WHERE outcome = 'sent' AND campaign_id IS NOT NULL
		DO NOTHING
	`, rec.ID, rec.CampaignID, rec.Recipient, rec.Subject, rec.AccountKey, string(rec.Outcome),
		nullIfEmpty(rec.ProviderMessageID), nullIfEmpty(rec.Error), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append delivery record: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) CountByAccount(ctx context.Context, from, to time.Time) (map[string]domain.AccountUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_key,
		       COUNT(*) FILTER (WHERE outcome = 'sent'),
		       COUNT(*) FILTER (WHERE outcome = 'failed')
		FROM delivery_records
		WHERE created_at >= $1 AND created_at < $2 AND account_key <> ''
		GROUP BY account_key
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("count deliveries by account: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.AccountUsage)
	for rows.Next() {
		var key string
		var u domain.AccountUsage
		if err := rows.Scan(&key, &u.Sent, &u.Failed); err != nil {
			return nil, fmt.Errorf("scan account usage: %w", err)
		}
		out[key] = u
	}
	return out, rows.Err()
}

func (r *DeliveryRepo) HasSent(ctx context.Context, campaignID, recipient string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM delivery_records
			WHERE campaign_id = $1 AND recipient = $2 AND outcome = 'sent'
		)
	`, campaignID, recipient).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	return exists, nil
}

func (r *DeliveryRepo) CountSent(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM delivery_records WHERE campaign_id = $1 AND outcome = 'sent'
	`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return n, nil
}
