package campaign

import (
	"context"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// CampaignRepository reads campaign configuration. Implementations must be
// safe for concurrent use.
type CampaignRepository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// ListScheduled returns enabled campaigns with a scheduled trigger.
	ListScheduled(ctx context.Context) ([]domain.Campaign, error)

	// Disable sets enabled=false. Used after a one-shot schedule fires.
	Disable(ctx context.Context, id string) error
}

// RunStateStore persists one checkpoint row per campaign.
type RunStateStore interface {
	// Get returns the run state, or nil if the campaign has never run.
	Get(ctx context.Context, campaignID string) (*domain.RunState, error)

	// Upsert writes the full row.
	Upsert(ctx context.Context, st *domain.RunState) error

	// ResetRunning moves every running row back to pending and returns the
	// number of rows changed.
	ResetRunning(ctx context.Context) (int, error)

	// ListByStatus returns all rows with the given status.
	ListByStatus(ctx context.Context, status domain.RunStatus) ([]domain.RunState, error)
}

// DeliveryLedger is the append-only record of send attempts.
type DeliveryLedger interface {
	sending.Ledger

	// HasSent reports whether a sent record exists for (campaign, recipient).
	HasSent(ctx context.Context, campaignID, recipient string) (bool, error)

	// CountSent counts sent records for a campaign across all days.
	CountSent(ctx context.Context, campaignID string) (int, error)
}

// RecipientDirectory is the directory of known recipients, ordered by id.
type RecipientDirectory interface {
	// Batch returns up to limit recipients with id > afterID, ascending.
	Batch(ctx context.Context, afterID int64, limit int) ([]domain.Recipient, error)

	// Count returns the number of known recipients.
	Count(ctx context.Context) (int, error)

	// Find looks up a recipient by address. Returns nil if unknown.
	Find(ctx context.Context, email string) (*domain.Recipient, error)
}

// Renderer produces a subject and body from a template and variables.
type Renderer interface {
	Render(ctx context.Context, templateID string, vars map[string]any) (*domain.RenderedMessage, error)
}

// ProviderPool is the part of sending.Pool the runner uses.
type ProviderPool interface {
	RemainingQuota(ctx context.Context) (map[string]domain.AccountQuota, error)
	Select(quotas map[string]domain.AccountQuota) (*sending.Selection, error)
	Send(ctx context.Context, msg *domain.EmailMessage, accountKey string) (*domain.Outcome, error)
	Stats(ctx context.Context) ([]domain.AccountQuota, error)
}
