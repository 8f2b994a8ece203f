package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/caltime"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// ErrScheduleInPast is returned when a one-shot schedule's instant has
// already passed.
var ErrScheduleInPast = errors.New("schedule is in the past")

// CampaignStore is the part of the campaign repository the scheduler uses.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	ListScheduled(ctx context.Context) ([]domain.Campaign, error)
	Disable(ctx context.Context, id string) error
}

// Trigger runs a stored campaign. *campaign.Service implements it.
type Trigger interface {
	TriggerCampaign(ctx context.Context, c *domain.Campaign) (*campaign.RunResult, error)
	RecoverInterrupted(ctx context.Context) (int, error)
}

// Timer is the handle of an armed one-shot timer.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run once after d. time.AfterFunc outside tests.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// loadRetryDelay is how long a firing waits before retrying after the
// campaign could not be loaded.
const loadRetryDelay = time.Minute

type armedTimer struct {
	timer    Timer
	schedule domain.Schedule
	fireAt   time.Time
	interval int
	gen      uint64
}

// TriggerScheduler keeps one armed timer per scheduled campaign. Timers are
// never persisted; Start re-derives them from campaign configuration.
type TriggerScheduler struct {
	campaigns CampaignStore
	trigger   Trigger
	zone      *caltime.Zone
	afterFunc AfterFunc

	mu      sync.Mutex
	armed   map[string]*armedTimer
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewTriggerScheduler creates a scheduler. A nil afterFunc uses
// time.AfterFunc.
func NewTriggerScheduler(campaigns CampaignStore, trigger Trigger, zone *caltime.Zone, afterFunc AfterFunc) *TriggerScheduler {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TriggerScheduler{
		campaigns: campaigns,
		trigger:   trigger,
		zone:      zone,
		afterFunc: afterFunc,
		armed:     make(map[string]*armedTimer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start resets interrupted runs, then arms every enabled scheduled campaign.
// A campaign that cannot be armed is logged and skipped.
func (ts *TriggerScheduler) Start(ctx context.Context) error {
	ts.mu.Lock()
	if ts.running {
		ts.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	ts.running = true
	ts.mu.Unlock()

	if _, err := ts.trigger.RecoverInterrupted(ctx); err != nil {
		return err
	}

	list, err := ts.campaigns.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled campaigns: %w", err)
	}
	armed := 0
	for _, c := range list {
		if !c.IsScheduled() {
			continue
		}
		if err := ts.Arm(c.ID, *c.Schedule, c.EmailInterval); err != nil {
			logger.Warn("scheduler: cannot arm campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		armed++
	}
	log.Printf("[TriggerScheduler] Started with %d armed campaigns", armed)
	return nil
}

// Stop disarms every timer and waits for in-flight firings to return.
func (ts *TriggerScheduler) Stop() {
	ts.mu.Lock()
	for id, a := range ts.armed {
		a.timer.Stop()
		delete(ts.armed, id)
	}
	ts.running = false
	ts.mu.Unlock()

	ts.cancel()
	ts.wg.Wait()
	log.Println("[TriggerScheduler] Stopped")
}

// Arm computes the next fire instant of schedule and arms a timer for it,
// replacing any timer already armed for the campaign. A recurring schedule
// whose instant has passed is moved forward to its next occurrence; missed
// occurrences are not replayed. A one-shot schedule in the past is not
// armed and ErrScheduleInPast is returned.
func (ts *TriggerScheduler) Arm(campaignID string, schedule domain.Schedule, emailInterval int) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	fireAt, err := ts.zone.At(schedule.Date, schedule.Time)
	if err != nil {
		return err
	}
	now := ts.zone.Now()
	if !fireAt.After(now) {
		if schedule.Repeat == domain.RepeatOnce {
			ts.Disarm(campaignID)
			return ErrScheduleInPast
		}
		fireAt = nextAfter(fireAt, schedule.Repeat, now)
	}
	ts.armAt(campaignID, schedule, emailInterval, fireAt, fireAt.Sub(now))
	return nil
}

// Disarm stops the campaign's timer. It is a no-op when nothing is armed.
func (ts *TriggerScheduler) Disarm(campaignID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if a, ok := ts.armed[campaignID]; ok {
		a.timer.Stop()
		delete(ts.armed, campaignID)
	}
}

// NextFire returns the armed fire instant of a campaign.
func (ts *TriggerScheduler) NextFire(campaignID string) (time.Time, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	a, ok := ts.armed[campaignID]
	if !ok {
		return time.Time{}, false
	}
	return a.fireAt, true
}

// Armed returns the number of armed campaigns.
func (ts *TriggerScheduler) Armed() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.armed)
}

// armAt replaces the campaign's timer with one that fires after delay.
// fireAt is the nominal instant the next occurrence is computed from.
func (ts *TriggerScheduler) armAt(campaignID string, schedule domain.Schedule, interval int, fireAt time.Time, delay time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if old, ok := ts.armed[campaignID]; ok {
		old.timer.Stop()
	}
	ts.gen++
	gen := ts.gen
	a := &armedTimer{schedule: schedule, fireAt: fireAt, interval: interval, gen: gen}
	a.timer = ts.afterFunc(delay, func() { ts.fire(campaignID, gen) })
	ts.armed[campaignID] = a
	logger.Info("scheduler: armed campaign",
		"campaign_id", campaignID, "repeat", string(schedule.Repeat), "fire_at", fireAt.Format(time.RFC3339))
}

// begin registers a firing with the wait group if the entry still belongs to
// generation gen and the scheduler has not been stopped.
func (ts *TriggerScheduler) begin(campaignID string, gen uint64) (*armedTimer, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	a, ok := ts.armed[campaignID]
	if !ok || a.gen != gen || ts.ctx.Err() != nil {
		return nil, false
	}
	ts.wg.Add(1)
	return a, true
}

// current returns the armed entry if it still belongs to generation gen.
func (ts *TriggerScheduler) current(campaignID string, gen uint64) (*armedTimer, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	a, ok := ts.armed[campaignID]
	if !ok || a.gen != gen {
		return nil, false
	}
	return a, true
}

func (ts *TriggerScheduler) clear(campaignID string, gen uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if a, ok := ts.armed[campaignID]; ok && a.gen == gen {
		delete(ts.armed, campaignID)
	}
}

func (ts *TriggerScheduler) fire(campaignID string, gen uint64) {
	a, ok := ts.begin(campaignID, gen)
	if !ok {
		return
	}
	defer ts.wg.Done()
	ctx := ts.ctx

	c, err := ts.campaigns.Get(ctx, campaignID)
	if errors.Is(err, campaign.ErrNotFound) || (err == nil && !c.Enabled) {
		logger.Info("scheduler: campaign missing or disabled, clearing timer", "campaign_id", campaignID)
		ts.clear(campaignID, gen)
		return
	}
	if err != nil {
		// The occurrence has not run; keep it armed and try again shortly.
		logger.Error("scheduler: load campaign failed, retrying",
			"campaign_id", campaignID, "error", err, "retry_in", loadRetryDelay.String())
		if ctx.Err() != nil {
			return
		}
		if _, still := ts.current(campaignID, gen); still {
			ts.armAt(campaignID, a.schedule, a.interval, a.fireAt, loadRetryDelay)
		}
		return
	}

	run := *c
	if a.interval > 0 {
		run.EmailInterval = a.interval
	}
	res, err := ts.trigger.TriggerCampaign(ctx, &run)
	switch {
	case errors.Is(err, campaign.ErrRunInProgress):
		logger.Warn("scheduler: campaign already running, skipped", "campaign_id", campaignID)
	case err != nil:
		logger.Error("scheduler: run failed", "campaign_id", campaignID, "error", err)
	default:
		logger.Info("scheduler: run finished", "campaign_id", campaignID,
			"status", string(res.Status), "sent", res.TotalSent, "message", res.Message)
	}

	if a.schedule.Repeat == domain.RepeatOnce {
		ts.clear(campaignID, gen)
		if err := ts.campaigns.Disable(context.WithoutCancel(ctx), campaignID); err != nil {
			logger.Error("scheduler: disable one-shot campaign failed", "campaign_id", campaignID, "error", err)
		}
		return
	}

	if ctx.Err() != nil {
		return
	}
	// A newer Arm or Disarm during the run wins.
	if _, still := ts.current(campaignID, gen); !still {
		return
	}
	now := ts.zone.Now()
	next := nextAfter(a.fireAt, a.schedule.Repeat, now)
	ts.armAt(campaignID, a.schedule, a.interval, next, next.Sub(now))
}

// nextAfter advances t by the repeat step until it is strictly after now.
func nextAfter(t time.Time, repeat domain.Repeat, now time.Time) time.Time {
	next := advance(t, repeat)
	for !next.After(now) {
		next = advance(next, repeat)
	}
	return next
}

// advance moves t one step forward keeping the time of day. Monthly steps
// clamp to the last day of a shorter month.
func advance(t time.Time, repeat domain.Repeat) time.Time {
	switch repeat {
	case domain.RepeatDaily:
		return t.AddDate(0, 0, 1)
	case domain.RepeatWeekly:
		return t.AddDate(0, 0, 7)
	case domain.RepeatMonthly:
		y, m, d := t.Date()
		first := time.Date(y, m+1, 1, t.Hour(), t.Minute(), t.Second(), 0, t.Location())
		if last := daysIn(first.Year(), first.Month()); d > last {
			d = last
		}
		return first.AddDate(0, 0, d-1)
	}
	// once has no next occurrence; callers never ask.
	return t.AddDate(100, 0, 0)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
