package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/caltime"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// Defaults applied when a caller leaves a run parameter at zero.
type Defaults struct {
	BatchSize     int
	EmailInterval int // seconds
	LockTTL       time.Duration
}

// Service wraps the Runner with per-campaign locking. All public methods
// are safe for concurrent use if the underlying repositories are.
type Service struct {
	runner    *Runner
	campaigns CampaignRepository
	states    RunStateStore
	renderer  Renderer
	pool      ProviderPool
	zone      *caltime.Zone
	locks     distlock.Factory
	defaults  Defaults
}

// NewService creates a campaign service.
func NewService(d Deps, locks distlock.Factory, defaults Defaults) *Service {
	if defaults.BatchSize < 1 {
		defaults.BatchSize = 50
	}
	if defaults.LockTTL <= 0 {
		defaults.LockTTL = 2 * time.Minute
	}
	if locks == nil {
		locks = distlock.NewFactory(nil, nil)
	}
	return &Service{
		runner:    NewRunner(d),
		campaigns: d.Campaigns,
		states:    d.States,
		renderer:  d.Renderer,
		pool:      d.Pool,
		zone:      d.Zone,
		locks:     locks,
		defaults:  defaults,
	}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.campaigns.Get(ctx, id)
}

// RunOutcome is delivered on the channel returned by Start.
type RunOutcome struct {
	Result *RunResult
	Err    error
}

// Start takes the campaign's lock and runs it in the background. The lock
// is acquired before Start returns, so a concurrent Start for the same
// campaign fails with ErrRunInProgress. The run uses ctx for its lifetime.
func (s *Service) Start(ctx context.Context, req RunRequest) (<-chan RunOutcome, error) {
	if req.BatchSize == 0 {
		req.BatchSize = s.defaults.BatchSize
	}

	lock := s.locks("campaign-run:"+req.CampaignID, s.defaults.LockTTL)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire campaign lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	done := make(chan RunOutcome, 1)
	go func() {
		stopKeepalive := s.keepalive(ctx, lock, req.CampaignID)
		res, err := s.runner.Run(ctx, req)
		stopKeepalive()
		// Release before reporting so the caller can start the next run.
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			logger.Warn("release campaign lock failed", "campaign_id", req.CampaignID, "error", rerr)
		}
		done <- RunOutcome{Result: res, Err: err}
	}()
	return done, nil
}

// RunCampaign runs a campaign to its next stopping point and returns the
// result. recipients, when non-empty, replaces the directory cursor.
func (s *Service) RunCampaign(ctx context.Context, id string, batchSize, emailInterval int, recipients []string) (*RunResult, error) {
	done, err := s.Start(ctx, RunRequest{
		CampaignID:    id,
		BatchSize:     batchSize,
		EmailInterval: emailInterval,
		Recipients:    recipients,
	})
	if err != nil {
		return nil, err
	}
	out := <-done
	return out.Result, out.Err
}

// TriggerCampaign runs a stored campaign with its own settings: the stored
// recipient list if it has one, otherwise every known recipient.
func (s *Service) TriggerCampaign(ctx context.Context, c *domain.Campaign) (*RunResult, error) {
	interval := c.EmailInterval
	if interval <= 0 {
		interval = s.defaults.EmailInterval
	}
	var recipients []string
	if c.HasExplicitRecipients() {
		recipients = c.Recipients
	}
	return s.RunCampaign(ctx, c.ID, s.defaults.BatchSize, interval, recipients)
}

// keepalive extends the lock lease while a run is in progress. The
// returned func stops it.
func (s *Service) keepalive(ctx context.Context, lock distlock.DistLock, campaignID string) func() {
	ctx, cancel := context.WithCancel(ctx)
	interval := s.defaults.LockTTL / 3
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Extend(ctx, s.defaults.LockTTL); err != nil && ctx.Err() == nil {
					logger.Warn("extend campaign lock failed", "campaign_id", campaignID, "error", err)
				}
			}
		}
	}()
	return cancel
}

// ProviderStats returns today's per-account usage and remaining quota.
func (s *Service) ProviderStats(ctx context.Context) ([]domain.AccountQuota, error) {
	return s.pool.Stats(ctx)
}

// RecoverInterrupted resets run states left running by a previous process.
// It must run before the scheduler re-arms timers.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := s.states.ResetRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted runs: %w", err)
	}
	if n > 0 {
		logger.Info("reset interrupted campaign runs to pending", "count", n)
	}
	return n, nil
}

// ResumePaused re-triggers enabled campaigns that were paused on an earlier
// calendar day. Campaigns that are running elsewhere are skipped. Returns
// the number of campaigns triggered.
func (s *Service) ResumePaused(ctx context.Context) (int, error) {
	paused, err := s.states.ListByStatus(ctx, domain.RunPaused)
	if err != nil {
		return 0, fmt.Errorf("list paused runs: %w", err)
	}
	today := s.zone.Today()
	resumed := 0
	for _, st := range paused {
		if st.LastResetDate == today {
			continue
		}
		c, err := s.campaigns.Get(ctx, st.CampaignID)
		if err != nil {
			logger.Warn("resume: load campaign failed", "campaign_id", st.CampaignID, "error", err)
			continue
		}
		if !c.Enabled {
			continue
		}
		res, err := s.TriggerCampaign(ctx, c)
		if err != nil {
			logger.Warn("resume: run failed", "campaign_id", st.CampaignID, "error", err)
			continue
		}
		resumed++
		logger.Info("resumed paused campaign",
			"campaign_id", st.CampaignID, "status", string(res.Status), "sent", res.TotalSent)
	}
	return resumed, nil
}

// AdHocRequest is a single transactional send outside any campaign.
type AdHocRequest struct {
	To         string         `json:"to"`
	TemplateID string         `json:"template_id"`
	Vars       map[string]any `json:"vars"`
}

// SendAdHoc renders a template for one address and sends it through the
// pool's failover path. The delivery record carries no campaign id.
func (s *Service) SendAdHoc(ctx context.Context, req AdHocRequest) (*domain.Outcome, error) {
	if req.To == "" || req.TemplateID == "" {
		return nil, fmt.Errorf("%w: to and template_id are required", ErrInvalidInput)
	}
	vars := map[string]any{"email": req.To}
	for k, v := range req.Vars {
		vars[k] = v
	}
	msg, err := s.renderer.Render(ctx, req.TemplateID, vars)
	if err != nil {
		return nil, err
	}
	return s.pool.Send(ctx, &domain.EmailMessage{
		Email:       req.To,
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	}, "")
}
