package domain

import (
	"fmt"
	"time"
)

// TriggerKind tells how a campaign gets started.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
)

// Repeat is the cadence of a scheduled campaign.
type Repeat string

const (
	RepeatOnce    Repeat = "once"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
)

// Valid reports whether r is a known cadence.
func (r Repeat) Valid() bool {
	switch r {
	case RepeatOnce, RepeatDaily, RepeatWeekly, RepeatMonthly:
		return true
	}
	return false
}

// Schedule describes when a scheduled campaign fires. Date and Time are
// wall-clock values in the operating timezone.
type Schedule struct {
	Date   string `json:"date"` // YYYY-MM-DD
	Time   string `json:"time"` // HH:MM
	Repeat Repeat `json:"repeat"`
}

// Validate checks the descriptor shape. It does not check whether the
// instant is in the past.
func (s Schedule) Validate() error {
	if _, err := time.Parse("2006-01-02", s.Date); err != nil {
		return fmt.Errorf("invalid schedule date %q", s.Date)
	}
	if _, err := time.Parse("15:04", s.Time); err != nil {
		return fmt.Errorf("invalid schedule time %q", s.Time)
	}
	if !s.Repeat.Valid() {
		return fmt.Errorf("invalid schedule repeat %q", s.Repeat)
	}
	return nil
}

// Campaign is a configured unit of delivery: one template, one recipient set,
// one trigger. It is owned by the configuration layer; the dispatch engine only
// reads it, except for disabling a one-shot schedule after it fires.
type Campaign struct {
	ID            string      `json:"id" db:"id"`
	Name          string      `json:"name" db:"name"`
	TemplateID    string      `json:"template_id" db:"template_id"`
	TriggerType   TriggerKind `json:"trigger_type" db:"trigger_type"`
	Recipients    []string    `json:"recipients" db:"recipients"`
	Enabled       bool        `json:"enabled" db:"enabled"`
	EmailInterval int         `json:"email_interval" db:"email_interval"` // seconds between sends
	Schedule      *Schedule   `json:"schedule_data,omitempty" db:"schedule_data"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// IsScheduled returns true if the campaign carries a date/time trigger.
func (c *Campaign) IsScheduled() bool {
	return c.TriggerType == TriggerScheduled && c.Schedule != nil
}

// HasExplicitRecipients returns true if the campaign targets a stored list
// instead of every known recipient.
func (c *Campaign) HasExplicitRecipients() bool {
	return len(c.Recipients) > 0
}
