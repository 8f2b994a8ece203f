package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// RunStateRepo implements campaign.RunStateStore against PostgreSQL.
type RunStateRepo struct{ db *sql.DB }

// NewRunStateRepo creates a Postgres-backed run state store.
func NewRunStateRepo(db *sql.DB) *RunStateRepo { return &RunStateRepo{db: db} }

const runStateColumns = `campaign_id, last_cursor, sent_today, last_reset_date::text, status,
		       start_time, last_run_time`

func scanRunState(row rowScanner) (*domain.RunState, error) {
	st := &domain.RunState{}
	var start, last sql.NullTime
	if err := row.Scan(
		&st.CampaignID, &st.LastCursor, &st.SentToday, &st.LastResetDate, &st.Status,
		&start, &last,
	); err != nil {
		return nil, err
	}
	if start.Valid {
		st.StartTime = &start.Time
	}
	if last.Valid {
		st.LastRunTime = &last.Time
	}
	return st, nil
}

func (r *RunStateRepo) Get(ctx context.Context, campaignID string) (*domain.RunState, error) {
	st, err := scanRunState(r.db.QueryRowContext(ctx, `
		SELECT `+runStateColumns+`
		FROM campaign_run_state
		WHERE campaign_id = $1
	`, campaignID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run state: %w", err)
	}
	return st, nil
}

func (r *RunStateRepo) Upsert(ctx context.Context, st *domain.RunState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_run_state
			(campaign_id, last_cursor, sent_today, last_reset_date, status, start_time, last_run_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id) DO UPDATE SET
			last_cursor     = EXCLUDED.last_cursor,
			sent_today      = EXCLUDED.sent_today,
			last_reset_date = EXCLUDED.last_reset_date,
			status          = EXCLUDED.status,
			start_time      = EXCLUDED.start_time,
			last_run_time   = EXCLUDED.last_run_time
	`, st.CampaignID, st.LastCursor, st.SentToday, st.LastResetDate, string(st.Status),
		st.StartTime, st.LastRunTime)
	if err != nil {
		return fmt.Errorf("upsert run state: %w", err)
	}
	return nil
}

func (r *RunStateRepo) ResetRunning(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_run_state SET status = 'pending' WHERE status = 'running'
	`)
	if err != nil {
		return 0, fmt.Errorf("reset running states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset running states: %w", err)
	}
	return int(n), nil
}

func (r *RunStateRepo) ListByStatus(ctx context.Context, status domain.RunStatus) ([]domain.RunState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runStateColumns+`
		FROM campaign_run_state
		WHERE status = $1
		ORDER BY campaign_id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list run states: %w", err)
	}
	defer rows.Close()

	var out []domain.RunState
	for rows.Next() {
		st, err := scanRunState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run state: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}
