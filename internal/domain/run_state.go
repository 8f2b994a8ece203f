package domain

import "time"

// RunStatus enumerates the lifecycle states of a campaign's execution.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunStopped   RunStatus = "stopped"
	RunCompleted RunStatus = "completed"
	RunDisabled  RunStatus = "disabled"
)

// IsTerminal returns true for states the daily reset must not leave.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunStopped || s == RunDisabled
}

// IsBlocked returns true if runs are refused until the campaign is re-enabled.
func (s RunStatus) IsBlocked() bool {
	return s == RunStopped || s == RunDisabled
}

// RunState is the persisted checkpoint of one campaign. SentToday is only
// meaningful for LastResetDate, a calendar date in the operating timezone.
type RunState struct {
	CampaignID    string     `json:"campaign_id" db:"campaign_id"`
	LastCursor    int64      `json:"last_cursor" db:"last_cursor"`
	SentToday     int        `json:"sent_today" db:"sent_today"`
	LastResetDate string     `json:"last_reset_date" db:"last_reset_date"` // YYYY-MM-DD
	Status        RunStatus  `json:"status" db:"status"`
	StartTime     *time.Time `json:"start_time" db:"start_time"`
	LastRunTime   *time.Time `json:"last_run_time" db:"last_run_time"`
}
