package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/worker"
)

// CampaignService is the part of the campaign service the API uses.
type CampaignService interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	RunCampaign(ctx context.Context, id string, batchSize, emailInterval int, recipients []string) (*campaign.RunResult, error)
	Start(ctx context.Context, req campaign.RunRequest) (<-chan campaign.RunOutcome, error)
	ProviderStats(ctx context.Context) ([]domain.AccountQuota, error)
	SendAdHoc(ctx context.Context, req campaign.AdHocRequest) (*domain.Outcome, error)
}

// Scheduler is the part of the trigger scheduler the API uses.
type Scheduler interface {
	Arm(campaignID string, schedule domain.Schedule, emailInterval int) error
	Disarm(campaignID string)
	NextFire(campaignID string) (time.Time, bool)
}

// Handlers holds the HTTP handlers. baseCtx bounds background runs started
// with async=true so they stop on shutdown rather than with the request.
type Handlers struct {
	campaigns CampaignService
	scheduler Scheduler
	baseCtx   context.Context
}

// NewHandlers creates the handler set.
func NewHandlers(baseCtx context.Context, campaigns CampaignService, scheduler Scheduler) *Handlers {
	return &Handlers{campaigns: campaigns, scheduler: scheduler, baseCtx: baseCtx}
}

// RunRequest is the body of POST /api/campaigns/{id}/run. Every field is
// optional.
type RunRequest struct {
	BatchSize     int      `json:"batch_size"`
	EmailInterval int      `json:"email_interval"`
	Recipients    []string `json:"recipients"`
	Async         bool     `json:"async"`
}

// RunCampaign runs a campaign to its next stopping point. With async=true it
// returns 202 once the run has its lock.
//
//	POST /api/campaigns/{id}/run
func (h *Handlers) RunCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req RunRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	if req.Async {
		done, err := h.campaigns.Start(h.baseCtx, campaign.RunRequest{
			CampaignID:    id,
			BatchSize:     req.BatchSize,
			EmailInterval: req.EmailInterval,
			Recipients:    req.Recipients,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		go func() {
			out := <-done
			if out.Err != nil {
				logger.Error("async run failed", "campaign_id", id, "error", out.Err)
				return
			}
			logger.Info("async run finished", "campaign_id", id,
				"status", string(out.Result.Status), "sent", out.Result.TotalSent)
		}()
		httputil.Accepted(w, map[string]string{"campaign_id": id, "status": "started"})
		return
	}

	res, err := h.campaigns.RunCampaign(r.Context(), id, req.BatchSize, req.EmailInterval, req.Recipients)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// ScheduleRequest is the body of PUT /api/campaigns/{id}/schedule. An empty
// body arms the campaign's stored schedule.
type ScheduleRequest struct {
	Date          string        `json:"date"`
	Time          string        `json:"time"`
	Repeat        domain.Repeat `json:"repeat"`
	EmailInterval int           `json:"email_interval"`
}

// ArmSchedule arms (or re-arms) a campaign's trigger timer.
//
//	PUT /api/campaigns/{id}/schedule
func (h *Handlers) ArmSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ScheduleRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	schedule := domain.Schedule{Date: req.Date, Time: req.Time, Repeat: req.Repeat}
	if req.Date == "" && req.Time == "" && req.Repeat == "" {
		if c.Schedule == nil {
			httputil.BadRequest(w, "campaign has no stored schedule")
			return
		}
		schedule = *c.Schedule
	}
	interval := req.EmailInterval
	if interval == 0 {
		interval = c.EmailInterval
	}

	if err := h.scheduler.Arm(id, schedule, interval); err != nil {
		if errors.Is(err, worker.ErrScheduleInPast) {
			httputil.ErrorCode(w, http.StatusBadRequest, "schedule_in_past", err.Error())
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}

	resp := map[string]interface{}{"campaign_id": id, "armed": true}
	if at, ok := h.scheduler.NextFire(id); ok {
		resp["next_fire"] = at.Format(time.RFC3339)
	}
	httputil.OK(w, resp)
}

// DisarmSchedule clears a campaign's trigger timer. It succeeds when nothing
// is armed.
//
//	DELETE /api/campaigns/{id}/schedule
func (h *Handlers) DisarmSchedule(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Disarm(chi.URLParam(r, "id"))
	httputil.NoContent(w)
}

// ProviderStats returns today's per-account usage and remaining quota.
//
//	GET /api/providers/stats
func (h *Handlers) ProviderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.campaigns.ProviderStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if stats == nil {
		stats = []domain.AccountQuota{}
	}
	httputil.OK(w, map[string]interface{}{"accounts": stats})
}

// SendAdHoc renders and sends one message outside any campaign.
//
//	POST /api/send
func (h *Handlers) SendAdHoc(w http.ResponseWriter, r *http.Request) {
	var req campaign.AdHocRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	out, err := h.campaigns.SendAdHoc(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if !out.Success {
		httputil.JSON(w, http.StatusBadGateway, out)
		return
	}
	httputil.OK(w, out)
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return httputil.Decode(w, r, dst)
}
