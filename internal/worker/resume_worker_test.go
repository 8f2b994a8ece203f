package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingResumer struct {
	calls atomic.Int32
	err   error
}

func (r *countingResumer) ResumePaused(context.Context) (int, error) {
	r.calls.Add(1)
	return 1, r.err
}

func TestResumeWorker_SweepsUntilCancelled(t *testing.T) {
	r := &countingResumer{}
	w := NewResumeWorker(r, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resume worker did not stop")
	}
}

func TestResumeWorker_SweepErrorDoesNotStop(t *testing.T) {
	r := &countingResumer{err: errors.New("db down")}
	w := NewResumeWorker(r, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestNewResumeWorker_DefaultInterval(t *testing.T) {
	w := NewResumeWorker(&countingResumer{}, 0)
	assert.Equal(t, DefaultResumeInterval, w.interval)
}
