package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/caltime"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// RunRequest describes one invocation of the runner.
type RunRequest struct {
	CampaignID string
	BatchSize  int
	// EmailInterval is the delay between two sends, in seconds.
	EmailInterval int
	// Recipients, when non-empty, replaces the directory cursor. Explicit
	// lists are walked from the start on every invocation; addresses already
	// sent to are skipped through the ledger.
	Recipients []string
}

// RunResult is the structured outcome of one invocation.
//
// TotalSent counts this invocation's sends, except on a completed cursor run
// where it is the campaign's ledger total, so a finished campaign keeps
// reporting the same totals. SentThisRun is always the invocation's count.
type RunResult struct {
	CampaignID      string           `json:"campaign_id"`
	Success         bool             `json:"success"`
	Message         string           `json:"message"`
	TotalSent       int              `json:"total_sent"`
	SentThisRun     int              `json:"sent_this_run"`
	TotalFailed     int              `json:"total_failed"`
	TotalSkipped    int              `json:"total_skipped"`
	TotalRecipients int              `json:"total_recipients"`
	CumulativeSent  int              `json:"cumulative_sent"`
	Status          domain.RunStatus `json:"status"`
	LastCursor      int64            `json:"last_cursor"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Runner executes campaigns batch by batch.
type Runner struct {
	campaigns  CampaignRepository
	states     RunStateStore
	ledger     DeliveryLedger
	recipients RecipientDirectory
	renderer   Renderer
	pool       ProviderPool
	zone       *caltime.Zone
	sleep      SleepFunc
}

// Deps bundles the runner's collaborators.
type Deps struct {
	Campaigns  CampaignRepository
	States     RunStateStore
	Ledger     DeliveryLedger
	Recipients RecipientDirectory
	Renderer   Renderer
	Pool       ProviderPool
	Zone       *caltime.Zone
	// Sleep defaults to Sleep.
	Sleep SleepFunc
}

// NewRunner creates a runner.
func NewRunner(d Deps) *Runner {
	if d.Sleep == nil {
		d.Sleep = Sleep
	}
	return &Runner{
		campaigns:  d.Campaigns,
		states:     d.States,
		ledger:     d.Ledger,
		recipients: d.Recipients,
		renderer:   d.Renderer,
		pool:       d.Pool,
		zone:       d.Zone,
		sleep:      d.Sleep,
	}
}

// run carries the mutable state of one invocation.
type run struct {
	req      RunRequest
	campaign *domain.Campaign
	state    *domain.RunState
	result   *RunResult
	log      *logger.Logger
	explicit bool
	pos      int // next index into req.Recipients
	// entry is the status the run found after the daily reset.
	entry domain.RunStatus
}

// Run executes the campaign from its last checkpoint. The caller is
// responsible for ensuring at most one Run per campaign at a time.
//
// A non-nil error means the run could not read or write its own state, the
// template failed validation, or no provider accounts are configured. Pauses
// and stops are reported through the result, not as errors.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.CampaignID == "" {
		return nil, fmt.Errorf("%w: campaign id is required", ErrInvalidInput)
	}
	if req.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be positive", ErrInvalidInput)
	}
	if req.EmailInterval < 0 {
		return nil, fmt.Errorf("%w: email interval must not be negative", ErrInvalidInput)
	}

	c, err := r.campaigns.Get(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	st, err := r.loadState(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	rn := &run{
		req:      req,
		campaign: c,
		state:    st,
		explicit: len(req.Recipients) > 0,
		log:      logger.Default().With("campaign_id", req.CampaignID),
		result:   &RunResult{CampaignID: req.CampaignID},
	}
	if rn.explicit {
		rn.result.TotalRecipients = len(req.Recipients)
	} else {
		n, err := r.recipients.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count recipients: %w", err)
		}
		rn.result.TotalRecipients = n
	}

	r.applyDailyReset(st)

	switch {
	case st.Status == domain.RunCompleted && !rn.explicit:
		return r.finish(ctx, rn, true, "campaign already completed")
	case st.Status.IsBlocked() && !c.Enabled:
		return r.finish(ctx, rn, false, fmt.Sprintf("campaign is %s; re-enable it to run", st.Status))
	case st.Status.IsBlocked():
		rn.log.Info("campaign re-enabled, clearing block", "previous_status", string(st.Status))
	case st.Status == domain.RunPaused:
		return r.finish(ctx, rn, false, "paused until the daily quota resets; "+r.pauseMessage(rn))
	}
	rn.entry = st.Status

	// The first render validates the template; a broken template is the
	// caller's problem, not a per-recipient failure.
	if _, err := r.renderer.Render(ctx, c.TemplateID, renderVars(c.ID, domain.Recipient{})); err != nil {
		return nil, fmt.Errorf("validate template %s: %w", c.TemplateID, err)
	}

	now := r.zone.Now()
	if st.StartTime == nil || st.Status == domain.RunPending || st.Status == domain.RunCompleted {
		st.StartTime = &now
	}
	st.Status = domain.RunRunning
	if err := r.persist(ctx, st); err != nil {
		return nil, err
	}
	rn.log.Info("campaign run started",
		"cursor", st.LastCursor, "explicit", rn.explicit, "batch_size", req.BatchSize)

	return r.loop(ctx, rn)
}

func (r *Runner) loadState(ctx context.Context, campaignID string) (*domain.RunState, error) {
	st, err := r.states.Get(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load run state: %w", err)
	}
	if st == nil {
		st = &domain.RunState{
			CampaignID:    campaignID,
			Status:        domain.RunPending,
			LastResetDate: r.zone.Today(),
		}
	}
	return st, nil
}

// applyDailyReset zeroes sent_today on a new calendar day. It is the only
// way out of paused.
func (r *Runner) applyDailyReset(st *domain.RunState) bool {
	today := r.zone.Today()
	if st.LastResetDate == today {
		return false
	}
	st.SentToday = 0
	st.LastResetDate = today
	if !st.Status.IsTerminal() {
		st.Status = domain.RunRunning
	}
	return true
}

func (r *Runner) loop(ctx context.Context, rn *run) (*RunResult, error) {
	st := rn.state
	for {
		if err := ctx.Err(); err != nil {
			return r.abort(ctx, rn, err)
		}

		if res, stopped, err := r.stopIfRequested(ctx, rn); stopped {
			return res, err
		}

		r.applyDailyReset(st)

		quotas, err := r.pool.RemainingQuota(ctx)
		if err != nil {
			return r.abort(ctx, rn, err)
		}
		sel, err := r.pool.Select(quotas)
		if errors.Is(err, sending.ErrQuotaExhausted) {
			st.Status = domain.RunPaused
			if err := r.persist(ctx, st); err != nil {
				return nil, err
			}
			rn.log.Info("campaign paused, provider quota exhausted", "cursor", st.LastCursor)
			return r.finish(ctx, rn, false, r.pauseMessage(rn))
		}
		if err != nil {
			return r.abort(ctx, rn, err)
		}

		limit := rn.req.BatchSize
		if rem := sel.Remaining(); rem < limit {
			limit = rem
		}

		batch, err := r.nextBatch(ctx, rn, limit)
		if err != nil {
			return r.abort(ctx, rn, err)
		}
		if len(batch) == 0 && rn.explicit {
			return r.endOfList(ctx, rn)
		}
		if len(batch) == 0 {
			st.Status = domain.RunCompleted
			if err := r.persist(ctx, st); err != nil {
				return nil, err
			}
			rn.log.Info("campaign completed", "cursor", st.LastCursor, "sent", rn.result.TotalSent)
			return r.finish(ctx, rn, true, "campaign completed")
		}

		if err := r.sendBatch(ctx, rn, sel, batch); err != nil {
			return r.abort(ctx, rn, err)
		}

		// A stop that arrived during the batch must not be overwritten.
		if res, stopped, err := r.stopIfRequested(ctx, rn); stopped {
			return res, err
		}

		st.Status = domain.RunRunning
		if err := r.persist(ctx, st); err != nil {
			return nil, err
		}
		rn.log.Debug("batch persisted", "cursor", st.LastCursor, "sent_today", st.SentToday)
	}
}

// stopIfRequested persists status=stopped and builds the result when the
// campaign was disabled or stopped externally. stopped is also true when
// the check itself failed, in which case err is set.
func (r *Runner) stopIfRequested(ctx context.Context, rn *run) (*RunResult, bool, error) {
	stop, err := r.stopRequested(ctx, rn)
	if err != nil {
		res, err := r.abort(ctx, rn, err)
		return res, true, err
	}
	if !stop {
		return nil, false, nil
	}
	st := rn.state
	st.Status = domain.RunStopped
	if err := r.persist(ctx, st); err != nil {
		return nil, true, err
	}
	rn.log.Warn("campaign stopped", "cursor", st.LastCursor, "sent", rn.result.TotalSent)
	res, err := r.finish(ctx, rn, false,
		fmt.Sprintf("campaign stopped after %d sends; disabled externally", rn.result.TotalSent))
	return res, true, err
}

// stopRequested re-reads the enabled flag and the stored status.
func (r *Runner) stopRequested(ctx context.Context, rn *run) (bool, error) {
	c, err := r.campaigns.Get(ctx, rn.req.CampaignID)
	if err != nil {
		return false, err
	}
	rn.campaign = c
	if !c.Enabled {
		return true, nil
	}
	stored, err := r.states.Get(ctx, rn.req.CampaignID)
	if err != nil {
		return false, fmt.Errorf("reload run state: %w", err)
	}
	return stored != nil && stored.Status.IsBlocked(), nil
}

func (r *Runner) nextBatch(ctx context.Context, rn *run, limit int) ([]domain.Recipient, error) {
	if !rn.explicit {
		batch, err := r.recipients.Batch(ctx, rn.state.LastCursor, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch recipients after %d: %w", rn.state.LastCursor, err)
		}
		return batch, nil
	}

	end := rn.pos + limit
	if end > len(rn.req.Recipients) {
		end = len(rn.req.Recipients)
	}
	batch := make([]domain.Recipient, 0, end-rn.pos)
	for _, addr := range rn.req.Recipients[rn.pos:end] {
		rec, err := r.recipients.Find(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("find recipient: %w", err)
		}
		if rec == nil {
			rec = &domain.Recipient{Email: addr}
		}
		batch = append(batch, *rec)
	}
	return batch, nil
}

func (r *Runner) sendBatch(ctx context.Context, rn *run, sel *sending.Selection, batch []domain.Recipient) error {
	st := rn.state
	delay := time.Duration(rn.req.EmailInterval) * time.Second
	base := rn.pos

	for i, rcpt := range batch {
		lastOfList := rn.explicit && base+i == len(rn.req.Recipients)-1

		sent, err := r.ledger.HasSent(ctx, rn.req.CampaignID, rcpt.Email)
		if err != nil {
			return fmt.Errorf("check delivery ledger: %w", err)
		}
		if sent {
			rn.result.TotalSkipped++
			r.advance(rn, rcpt)
			continue
		}

		acct := sel.Next()
		if acct == nil {
			// Selection ran dry; the next iteration re-reads quota.
			return nil
		}

		msg, err := r.renderer.Render(ctx, rn.campaign.TemplateID, renderVars(rn.req.CampaignID, rcpt))
		if err != nil {
			if err := r.recordRenderFailure(ctx, rn, rcpt, err); err != nil {
				return err
			}
			r.advance(rn, rcpt)
			continue
		}

		out, err := r.pool.Send(ctx, &domain.EmailMessage{
			CampaignID:  rn.req.CampaignID,
			RecipientID: rcpt.ID,
			Email:       rcpt.Email,
			Subject:     msg.Subject,
			HTMLContent: msg.HTML,
		}, acct.Key)
		if err != nil {
			return err
		}
		if out.Success {
			rn.result.TotalSent++
			rn.result.SentThisRun++
			st.SentToday++
			sel.Consume(acct.Key)
		} else {
			rn.result.TotalFailed++
			rn.log.Warn("send failed", "recipient", rcpt.Email, "account", acct.Key, "error", out.Error)
		}
		r.advance(rn, rcpt)

		if lastOfList {
			continue
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// advance moves the checkpoint past rcpt. Cursor mode only moves forward.
func (r *Runner) advance(rn *run, rcpt domain.Recipient) {
	if rn.explicit {
		rn.pos++
		return
	}
	if rcpt.ID > rn.state.LastCursor {
		rn.state.LastCursor = rcpt.ID
	}
}

func (r *Runner) recordRenderFailure(ctx context.Context, rn *run, rcpt domain.Recipient, renderErr error) error {
	rn.result.TotalFailed++
	rn.log.Warn("render failed", "recipient", rcpt.Email, "error", renderErr)
	id := rn.req.CampaignID
	rec := &domain.DeliveryRecord{
		ID:         uuid.New().String(),
		CampaignID: &id,
		Recipient:  rcpt.Email,
		Outcome:    domain.OutcomeFailed,
		Error:      renderErr.Error(),
		CreatedAt:  r.zone.Now(),
	}
	if err := r.ledger.Append(ctx, rec); err != nil {
		return fmt.Errorf("append delivery record: %w", err)
	}
	return nil
}

// endOfList ends an explicit run. Completion belongs to the cursor, so the
// campaign goes back to the status it had before this run, with running
// turned into pending.
func (r *Runner) endOfList(ctx context.Context, rn *run) (*RunResult, error) {
	st := rn.state
	st.Status = rn.entry
	if st.Status != domain.RunCompleted {
		st.Status = domain.RunPending
	}
	if err := r.persist(ctx, st); err != nil {
		return nil, err
	}
	rn.log.Info("recipient list finished", "entries", len(rn.req.Recipients), "sent", rn.result.TotalSent)
	return r.finish(ctx, rn, true,
		fmt.Sprintf("recipient list finished; %d of %d entries processed", rn.pos, len(rn.req.Recipients)))
}

func (r *Runner) pauseMessage(rn *run) string {
	if rn.explicit {
		return fmt.Sprintf("paused: all provider accounts exhausted their daily quota; %d of %d list entries processed",
			rn.pos, len(rn.req.Recipients))
	}
	return fmt.Sprintf("paused: all provider accounts exhausted their daily quota; resumes after recipient %d",
		rn.state.LastCursor)
}

func (r *Runner) persist(ctx context.Context, st *domain.RunState) error {
	now := r.zone.Now()
	st.LastRunTime = &now
	if err := r.states.Upsert(ctx, st); err != nil {
		return fmt.Errorf("persist run state: %w", err)
	}
	return nil
}

// abort persists what the run achieved so far and returns cause. If the
// persist itself fails the state stays as last written; startup recovery
// resets it.
func (r *Runner) abort(ctx context.Context, rn *run, cause error) (*RunResult, error) {
	persistCtx := context.WithoutCancel(ctx)
	if err := r.persist(persistCtx, rn.state); err != nil {
		rn.log.Error("persist after abort failed", "error", err)
	}
	rn.log.Error("campaign run aborted", "cursor", rn.state.LastCursor, "error", cause)
	res, _ := r.finish(persistCtx, rn, false, "run aborted: "+cause.Error())
	return res, cause
}

func (r *Runner) finish(ctx context.Context, rn *run, success bool, msg string) (*RunResult, error) {
	res := rn.result
	res.Success = success
	res.Message = msg
	res.Status = rn.state.Status
	res.LastCursor = rn.state.LastCursor
	if n, err := r.ledger.CountSent(ctx, rn.req.CampaignID); err == nil {
		res.CumulativeSent = n
		if res.Status == domain.RunCompleted && !rn.explicit {
			res.TotalSent = n
		}
	} else {
		rn.log.Warn("count cumulative sends failed", "error", err)
	}
	return res, nil
}

func renderVars(campaignID string, rcpt domain.Recipient) map[string]any {
	return map[string]any{
		"campaign_id":  campaignID,
		"recipient_id": rcpt.ID,
		"email":        rcpt.Email,
		"name":         rcpt.Name,
	}
}
