package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// DefaultResumeInterval is how often paused campaigns are checked.
const DefaultResumeInterval = 15 * time.Minute

// Resumer re-runs campaigns that paused on quota on an earlier day.
// *campaign.Service implements it.
type Resumer interface {
	ResumePaused(ctx context.Context) (int, error)
}

// ResumeWorker periodically resumes quota-paused campaigns once the daily
// quota has rolled over, so manual campaigns continue without a new trigger.
type ResumeWorker struct {
	resumer  Resumer
	interval time.Duration
}

// NewResumeWorker creates a resume worker. A non-positive interval uses
// DefaultResumeInterval.
func NewResumeWorker(resumer Resumer, interval time.Duration) *ResumeWorker {
	if interval <= 0 {
		interval = DefaultResumeInterval
	}
	return &ResumeWorker{resumer: resumer, interval: interval}
}

// Start runs one sweep immediately, then one per interval. It blocks until
// ctx is cancelled.
func (rw *ResumeWorker) Start(ctx context.Context) {
	log.Printf("[ResumeWorker] Starting (interval=%s)", rw.interval)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("[ResumeWorker] Stopping")
			return
		case <-ticker.C:
			rw.sweep(ctx)
		}
	}
}

func (rw *ResumeWorker) sweep(ctx context.Context) {
	n, err := rw.resumer.ResumePaused(ctx)
	if err != nil {
		logger.Error("resume sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("resume sweep finished", "resumed", n)
	}
}
