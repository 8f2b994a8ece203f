package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// RunStateStore implements campaign.RunStateStore.
type RunStateStore struct {
	mu     sync.Mutex
	states map[string]domain.RunState
	// Writes counts Upsert calls; tests use it to assert "no side effects".
	Writes int
}

// NewRunStateStore creates an empty store.
func NewRunStateStore() *RunStateStore {
	return &RunStateStore{states: make(map[string]domain.RunState)}
}

func (s *RunStateStore) Get(_ context.Context, campaignID string) (*domain.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[campaignID]
	if !ok {
		return nil, nil
	}
	return copyState(st), nil
}

func (s *RunStateStore) Upsert(_ context.Context, st *domain.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.CampaignID] = *copyState(*st)
	s.Writes++
	return nil
}

func (s *RunStateStore) ResetRunning(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.states {
		if st.Status == domain.RunRunning {
			st.Status = domain.RunPending
			s.states[id] = st
			n++
		}
	}
	return n, nil
}

func (s *RunStateStore) ListByStatus(_ context.Context, status domain.RunStatus) ([]domain.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RunState
	for _, st := range s.states {
		if st.Status == status {
			out = append(out, *copyState(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out, nil
}

// SetStatus overwrites the stored status; the stand-in for an external stop.
func (s *RunStateStore) SetStatus(campaignID string, status domain.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[campaignID]
	st.CampaignID = campaignID
	st.Status = status
	s.states[campaignID] = st
}

func copyState(st domain.RunState) *domain.RunState {
	cp := st
	if st.StartTime != nil {
		t := *st.StartTime
		cp.StartTime = &t
	}
	if st.LastRunTime != nil {
		t := *st.LastRunTime
		cp.LastRunTime = &t
	}
	return &cp
}
