package campaign_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/caltime"
	"github.com/ignite/campaign-dispatch/internal/render"
	"github.com/ignite/campaign-dispatch/internal/repository/memory"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// stubTransport records deliveries and fails for selected addresses.
type stubTransport struct {
	mu     sync.Mutex
	sent   []string
	failTo map[string]bool
}

func (s *stubTransport) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTo[msg.Email] {
		return &domain.SendResult{Success: false, Error: "mailbox unavailable"}, nil
	}
	s.sent = append(s.sent, msg.Email)
	return &domain.SendResult{Success: true, MessageID: "m-" + msg.Email}, nil
}

func (s *stubTransport) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// failingRenderer fails for one address and defers to the real renderer
// otherwise.
type failingRenderer struct {
	inner  campaign.Renderer
	failOn string
}

func (f failingRenderer) Render(ctx context.Context, id string, vars map[string]any) (*domain.RenderedMessage, error) {
	if vars["email"] == f.failOn {
		return nil, &render.RenderError{TemplateID: id, Part: "body", Err: errors.New("bad variable")}
	}
	return f.inner.Render(ctx, id, vars)
}

type harness struct {
	campaigns *memory.CampaignRepo
	states    *memory.RunStateStore
	ledger    *memory.DeliveryLedger
	dir       *memory.RecipientDirectory
	clock     *caltime.ManualClock
	zone      *caltime.Zone

	mu      sync.Mutex
	sleeps  []time.Duration
	onSleep func(n int) error

	svc *campaign.Service
}

type option func(*harness, *campaign.Deps)

func withRenderer(fn func(campaign.Renderer) campaign.Renderer) option {
	return func(_ *harness, d *campaign.Deps) { d.Renderer = fn(d.Renderer) }
}

func newHarness(t *testing.T, providers []*sending.Provider, opts ...option) *harness {
	t.Helper()
	h := &harness{
		campaigns: memory.NewCampaignRepo(),
		states:    memory.NewRunStateStore(),
		ledger:    memory.NewDeliveryLedger(),
		dir:       memory.NewRecipientDirectory(),
		// 11:30 in the operating timezone
		clock: caltime.NewManualClock(time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)),
	}
	h.zone = caltime.NewZone(caltime.DefaultOffsetMinutes, h.clock)

	pool, err := sending.NewPool(providers, h.ledger, h.zone)
	require.NoError(t, err)

	templates := memory.NewTemplateStore(domain.Template{
		ID:      "tpl",
		Subject: "Hi {{ name | default: \"there\" }}",
		Body:    "<p>{{ email }}</p>",
	})

	deps := campaign.Deps{
		Campaigns:  h.campaigns,
		States:     h.states,
		Ledger:     h.ledger,
		Recipients: h.dir,
		Renderer:   render.NewTemplateService(templates),
		Pool:       pool,
		Zone:       h.zone,
		Sleep:      h.sleep,
	}
	for _, o := range opts {
		o(h, &deps)
	}
	h.svc = campaign.NewService(deps, nil, campaign.Defaults{BatchSize: 10, LockTTL: time.Minute})
	return h
}

func (h *harness) sleep(ctx context.Context, d time.Duration) error {
	h.mu.Lock()
	h.sleeps = append(h.sleeps, d)
	n := len(h.sleeps)
	hook := h.onSleep
	h.mu.Unlock()
	if hook != nil {
		return hook(n)
	}
	return ctx.Err()
}

func (h *harness) sleepCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sleeps)
}

func (h *harness) state(t *testing.T, id string) *domain.RunState {
	t.Helper()
	st, err := h.states.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func provider(name string, limit int, tr sending.Transport) *sending.Provider {
	return &sending.Provider{Name: name, Accounts: []*sending.Account{
		{Key: name, DailyLimit: limit, FromEmail: name + "@sender.test", Transport: tr},
	}}
}

func users(ids ...int64) []domain.Recipient {
	names := map[int64]string{}
	out := make([]domain.Recipient, 0, len(ids))
	for _, id := range ids {
		names[id] = string(rune('a' + len(names)))
		out = append(out, domain.Recipient{ID: id, Email: names[id] + "@x.com", Name: "User " + names[id]})
	}
	return out
}

func enabledCampaign(id string) domain.Campaign {
	return domain.Campaign{ID: id, TemplateID: "tpl", TriggerType: domain.TriggerManual, Enabled: true}
}

func TestRun_QuotaPausesAndResumesNextDay(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 2, tr)})
	h.dir.Add(users(10, 11, 12)...)
	h.campaigns.Put(enabledCampaign("c1"))
	ctx := context.Background()

	res, err := h.svc.RunCampaign(ctx, "c1", 10, 0, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.RunPaused, res.Status)
	assert.Equal(t, 2, res.TotalSent)
	assert.Equal(t, 3, res.TotalRecipients)
	assert.Equal(t, int64(11), res.LastCursor)
	assert.Contains(t, res.Message, "11")
	assert.Equal(t, 2, res.CumulativeSent)

	st := h.state(t, "c1")
	assert.Equal(t, domain.RunPaused, st.Status)
	assert.Equal(t, 2, st.SentToday)
	assert.Equal(t, "2024-03-10", st.LastResetDate)

	// Same day: still paused, nothing sent, cursor unchanged.
	res, err = h.svc.RunCampaign(ctx, "c1", 10, 0, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.RunPaused, res.Status)
	assert.Equal(t, 0, res.TotalSent)
	assert.Equal(t, int64(11), res.LastCursor)

	h.clock.Advance(24 * time.Hour)

	res, err = h.svc.RunCampaign(ctx, "c1", 10, 0, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 3, res.TotalSent)
	assert.Equal(t, 1, res.SentThisRun)
	assert.Equal(t, int64(12), res.LastCursor)
	assert.Equal(t, 3, res.CumulativeSent)

	st = h.state(t, "c1")
	assert.Equal(t, 1, st.SentToday)
	assert.Equal(t, "2024-03-11", st.LastResetDate)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, tr.Sent())
}

func TestRun_ExplicitListSkipsAlreadySent(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 100, tr)})
	h.campaigns.Put(enabledCampaign("c2"))
	ctx := context.Background()

	id := "c2"
	require.NoError(t, h.ledger.Append(ctx, &domain.DeliveryRecord{
		ID: "prior", CampaignID: &id, Recipient: "a@x.com", AccountKey: "ses",
		Outcome: domain.OutcomeSent, CreatedAt: h.zone.Now().AddDate(0, 0, -3),
	}))

	res, err := h.svc.RunCampaign(ctx, "c2", 10, 5, []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.TotalSent)
	assert.Equal(t, 1, res.TotalSkipped)
	assert.Equal(t, 2, res.TotalRecipients)
	assert.Equal(t, domain.RunPending, res.Status)
	assert.Equal(t, []string{"b@x.com"}, tr.Sent())
	// b is the last list entry, so no delay follows it
	assert.Equal(t, 0, h.sleepCount())
}

func TestRun_Idempotent(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 100, tr)})
	h.dir.Add(users(1, 2, 3)...)
	h.campaigns.Put(enabledCampaign("c3"))
	h.campaigns.Put(enabledCampaign("c3-all"))
	ctx := context.Background()

	list := []string{"x@y.com", "z@y.com"}
	_, err := h.svc.RunCampaign(ctx, "c3", 10, 0, list)
	require.NoError(t, err)
	res, err := h.svc.RunCampaign(ctx, "c3", 10, 0, list)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalSent)
	assert.Equal(t, 2, res.TotalSkipped)
	assert.Equal(t, 2, res.CumulativeSent)

	_, err = h.svc.RunCampaign(ctx, "c3-all", 10, 0, nil)
	require.NoError(t, err)
	res, err = h.svc.RunCampaign(ctx, "c3-all", 10, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 3, res.TotalSent)
	assert.Equal(t, 0, res.SentThisRun)
	assert.Equal(t, 3, res.CumulativeSent)

	assert.Len(t, tr.Sent(), 5)
}

func TestRun_CompletedRerunReportsSameTotals(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 100, tr)})
	h.dir.Add(users(1, 2, 3)...)
	h.campaigns.Put(enabledCampaign("c20"))
	ctx := context.Background()

	first, err := h.svc.RunCampaign(ctx, "c20", 2, 0, nil)
	require.NoError(t, err)
	require.Equal(t, domain.RunCompleted, first.Status)
	assert.True(t, first.Success)
	assert.Equal(t, 3, first.TotalSent)
	assert.Equal(t, first.TotalRecipients, first.TotalSent)

	writes := h.states.Writes
	again, err := h.svc.RunCampaign(ctx, "c20", 2, 0, nil)
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Equal(t, domain.RunCompleted, again.Status)
	assert.Equal(t, first.TotalSent, again.TotalSent)
	assert.Equal(t, first.TotalRecipients, again.TotalRecipients)
	assert.Equal(t, first.CumulativeSent, again.CumulativeSent)
	assert.Equal(t, first.LastCursor, again.LastCursor)
	assert.Zero(t, again.SentThisRun)
	assert.Equal(t, writes, h.states.Writes)
	assert.Len(t, tr.Sent(), 3)
}

func TestRun_ExplicitListDoesNotCompleteCampaign(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 100, tr)})
	h.dir.Add(users(1, 2, 3)...)
	h.campaigns.Put(enabledCampaign("c21"))
	ctx := context.Background()

	res, err := h.svc.RunCampaign(ctx, "c21", 10, 0, []string{"vip@x.com"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.RunPending, res.Status)
	assert.Equal(t, domain.RunPending, h.state(t, "c21").Status)
	assert.Zero(t, h.state(t, "c21").LastCursor)

	res, err = h.svc.RunCampaign(ctx, "c21", 10, 0, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 3, res.SentThisRun)
	assert.Equal(t, int64(3), res.LastCursor)
	assert.Equal(t, []string{"vip@x.com", "a@x.com", "b@x.com", "c@x.com"}, tr.Sent())

	// A later explicit run leaves the finished campaign completed.
	res, err = h.svc.RunCampaign(ctx, "c21", 10, 0, []string{"late@x.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, domain.RunCompleted, h.state(t, "c21").Status)
}

func TestRun_InterSendDelay(t *testing.T) {
	h := newHarness(t, []*sending.Provider{provider("ses", 100, &stubTransport{})})
	h.campaigns.Put(enabledCampaign("c4"))

	_, err := h.svc.RunCampaign(context.Background(), "c4", 10, 3, []string{"a@x.com", "b@x.com", "c@x.com"})
	require.NoError(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, h.sleeps)
}

func TestRun_FailoverInPriorityOrder(t *testing.T) {
	primary := &stubTransport{}
	secondary := &stubTransport{}
	h := newHarness(t, []*sending.Provider{
		provider("primary", 1, primary),
		provider("secondary", 5, secondary),
	})
	h.dir.Add(users(1, 2, 3)...)
	h.campaigns.Put(enabledCampaign("c5"))

	res, err := h.svc.RunCampaign(context.Background(), "c5", 10, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 3, res.TotalSent)

	assert.Equal(t, []string{"a@x.com"}, primary.Sent())
	assert.Equal(t, []string{"b@x.com", "c@x.com"}, secondary.Sent())

	var keys []string
	for _, r := range h.ledger.Records() {
		keys = append(keys, r.AccountKey)
	}
	assert.Equal(t, []string{"primary", "secondary", "secondary"}, keys)
}

func TestRun_SendFailureIsRecordedAndSkipped(t *testing.T) {
	tr := &stubTransport{failTo: map[string]bool{"b@x.com": true}}
	h := newHarness(t, []*sending.Provider{provider("ses", 100, tr)})
	h.dir.Add(users(1, 2, 3)...)
	h.campaigns.Put(enabledCampaign("c6"))

	res, err := h.svc.RunCampaign(context.Background(), "c6", 10, 0, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 2, res.TotalSent)
	assert.Equal(t, 1, res.TotalFailed)
	assert.Equal(t, int64(3), res.LastCursor)

	var failed []domain.DeliveryRecord
	for _, r := range h.ledger.Records() {
		if r.Outcome == domain.OutcomeFailed {
			failed = append(failed, r)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "b@x.com", failed[0].Recipient)
	assert.Equal(t, "mailbox unavailable", failed[0].Error)
	assert.Equal(t, 2, h.state(t, "c6").SentToday)
}

func TestRun_StopWhenDisabledMidRun(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 100, tr)})
	h.dir.Add(users(1, 2, 3)...)
	h.campaigns.Put(enabledCampaign("c7"))
	ctx := context.Background()

	h.onSleep = func(n int) error {
		if n == 1 {
			h.campaigns.SetEnabled("c7", false)
		}
		return nil
	}

	res, err := h.svc.RunCampaign(ctx, "c7", 1, 1, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.RunStopped, res.Status)
	assert.Equal(t, 1, res.TotalSent)
	assert.Equal(t, int64(1), res.LastCursor)
	assert.Equal(t, domain.RunStopped, h.state(t, "c7").Status)

	// Blocked while disabled: failure, no state writes, no sends.
	writes := h.states.Writes
	res, err = h.svc.RunCampaign(ctx, "c7", 1, 1, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.RunStopped, res.Status)
	assert.Equal(t, writes, h.states.Writes)
	assert.Len(t, tr.Sent(), 1)

	// Re-enabling clears the block and resumes from the cursor.
	h.campaigns.SetEnabled("c7", true)
	res, err = h.svc.RunCampaign(ctx, "c7", 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 2, res.SentThisRun)
	assert.Equal(t, 3, res.TotalSent)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, tr.Sent())
}

func TestRun_StopWhenStatusSetExternally(t *testing.T) {
	h := newHarness(t, []*sending.Provider{provider("ses", 100, &stubTransport{})})
	h.dir.Add(users(1, 2, 3)...)
	h.campaigns.Put(enabledCampaign("c8"))

	h.onSleep = func(n int) error {
		if n == 1 {
			h.states.SetStatus("c8", domain.RunStopped)
		}
		return nil
	}

	res, err := h.svc.RunCampaign(context.Background(), "c8", 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStopped, res.Status)
	assert.Equal(t, 1, res.TotalSent)
}

func TestRun_TemplateValidationFailureIsSurfaced(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 100, tr)})
	h.dir.Add(users(1)...)
	c := enabledCampaign("c9")
	c.TemplateID = "missing"
	h.campaigns.Put(c)

	_, err := h.svc.RunCampaign(context.Background(), "c9", 10, 0, nil)
	assert.ErrorIs(t, err, render.ErrTemplateNotFound)
	assert.Equal(t, 0, h.states.Writes)
	assert.Empty(t, tr.Sent())
}

func TestRun_PerRecipientRenderFailure(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 100, tr)},
		withRenderer(func(inner campaign.Renderer) campaign.Renderer {
			return failingRenderer{inner: inner, failOn: "b@x.com"}
		}))
	h.dir.Add(users(1, 2, 3)...)
	h.campaigns.Put(enabledCampaign("c10"))

	res, err := h.svc.RunCampaign(context.Background(), "c10", 10, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalSent)
	assert.Equal(t, 1, res.TotalFailed)
	assert.Equal(t, domain.RunCompleted, res.Status)

	var rec *domain.DeliveryRecord
	for _, r := range h.ledger.Records() {
		if r.Recipient == "b@x.com" {
			r := r
			rec = &r
		}
	}
	require.NotNil(t, rec)
	assert.Equal(t, domain.OutcomeFailed, rec.Outcome)
	assert.Empty(t, rec.AccountKey)
	assert.Contains(t, rec.Error, "bad variable")
}

func TestRun_CursorIsMonotonic(t *testing.T) {
	h := newHarness(t, []*sending.Provider{provider("ses", 1, &stubTransport{})})
	h.dir.Add(users(5, 7, 9)...)
	h.campaigns.Put(enabledCampaign("c11"))
	ctx := context.Background()

	var last int64
	for day := 0; day < 4; day++ {
		res, err := h.svc.RunCampaign(ctx, "c11", 10, 0, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.LastCursor, last)
		last = res.LastCursor
		h.clock.Advance(24 * time.Hour)
	}
	assert.Equal(t, int64(9), last)
	assert.Equal(t, domain.RunCompleted, h.state(t, "c11").Status)
}

func TestRun_ErrorsAndValidation(t *testing.T) {
	h := newHarness(t, []*sending.Provider{provider("ses", 1, &stubTransport{})})
	ctx := context.Background()

	_, err := h.svc.RunCampaign(ctx, "nope", 10, 0, nil)
	assert.ErrorIs(t, err, campaign.ErrNotFound)

	h.campaigns.Put(enabledCampaign("c12"))
	_, err = h.svc.RunCampaign(ctx, "c12", 10, -1, nil)
	assert.ErrorIs(t, err, campaign.ErrInvalidInput)
}

func TestRun_NoProvidersConfigured(t *testing.T) {
	h := newHarness(t, nil)
	h.dir.Add(users(1)...)
	h.campaigns.Put(enabledCampaign("c13"))

	_, err := h.svc.RunCampaign(context.Background(), "c13", 10, 0, nil)
	assert.ErrorIs(t, err, sending.ErrNoProviders)
}

func TestStart_RejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, []*sending.Provider{provider("ses", 100, &stubTransport{})})
	h.dir.Add(users(1, 2)...)
	h.campaigns.Put(enabledCampaign("c14"))

	entered := make(chan struct{})
	release := make(chan struct{})
	h.onSleep = func(n int) error {
		if n == 1 {
			close(entered)
			<-release
		}
		return nil
	}

	ctx := context.Background()
	done, err := h.svc.Start(ctx, campaign.RunRequest{CampaignID: "c14", BatchSize: 10, EmailInterval: 1})
	require.NoError(t, err)
	<-entered

	_, err = h.svc.Start(ctx, campaign.RunRequest{CampaignID: "c14", BatchSize: 10})
	assert.ErrorIs(t, err, campaign.ErrRunInProgress)

	close(release)
	out := <-done
	require.NoError(t, out.Err)
	assert.Equal(t, domain.RunCompleted, out.Result.Status)

	// Lock is released once the run finishes.
	_, err = h.svc.RunCampaign(ctx, "c14", 10, 0, nil)
	assert.NoError(t, err)
}

func TestRun_CancelPersistsProgressAndRecovers(t *testing.T) {
	h := newHarness(t, []*sending.Provider{provider("ses", 100, &stubTransport{})})
	h.dir.Add(users(1, 2, 3)...)
	h.campaigns.Put(enabledCampaign("c15"))

	ctx, cancel := context.WithCancel(context.Background())
	h.onSleep = func(n int) error {
		cancel()
		return context.Canceled
	}

	res, err := h.svc.RunCampaign(ctx, "c15", 10, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.TotalSent)

	st := h.state(t, "c15")
	assert.Equal(t, int64(1), st.LastCursor)
	assert.Equal(t, domain.RunRunning, st.Status)

	n, err := h.svc.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.RunPending, h.state(t, "c15").Status)
}

func TestResumePaused_NextDayOnly(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 1, tr)})
	h.dir.Add(users(1, 2)...)
	h.campaigns.Put(enabledCampaign("c16"))
	ctx := context.Background()

	res, err := h.svc.RunCampaign(ctx, "c16", 10, 0, nil)
	require.NoError(t, err)
	require.Equal(t, domain.RunPaused, res.Status)

	n, err := h.svc.ResumePaused(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.clock.Advance(24 * time.Hour)
	n, err = h.svc.ResumePaused(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, tr.Sent(), 2)
}

func TestTriggerCampaign_UsesStoredList(t *testing.T) {
	tr := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("ses", 100, tr)})
	h.dir.Add(users(1, 2, 3)...)
	c := enabledCampaign("c17")
	c.Recipients = []string{"vip@x.com"}
	h.campaigns.Put(c)

	res, err := h.svc.TriggerCampaign(context.Background(), &c)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalRecipients)
	assert.Equal(t, []string{"vip@x.com"}, tr.Sent())
}

func TestSendAdHoc(t *testing.T) {
	bad := &stubTransport{failTo: map[string]bool{"r@x.com": true}}
	good := &stubTransport{}
	h := newHarness(t, []*sending.Provider{provider("a", 10, bad), provider("b", 10, good)})

	out, err := h.svc.SendAdHoc(context.Background(), campaign.AdHocRequest{
		To: "r@x.com", TemplateID: "tpl", Vars: map[string]any{"name": "Rae"},
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "b", out.AccountKey)

	recs := h.ledger.Records()
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Nil(t, r.CampaignID)
		assert.Equal(t, "Hi Rae", r.Subject)
	}

	_, err = h.svc.SendAdHoc(context.Background(), campaign.AdHocRequest{To: "r@x.com"})
	assert.ErrorIs(t, err, campaign.ErrInvalidInput)
}

func TestProviderStats(t *testing.T) {
	h := newHarness(t, []*sending.Provider{provider("ses", 3, &stubTransport{})})
	h.dir.Add(users(1)...)
	h.campaigns.Put(enabledCampaign("c18"))

	_, err := h.svc.RunCampaign(context.Background(), "c18", 10, 0, nil)
	require.NoError(t, err)

	stats, err := h.svc.ProviderStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, domain.AccountQuota{AccountKey: "ses", Provider: "ses", Sent: 1, Limit: 3, Remaining: 2}, stats[0])
}
