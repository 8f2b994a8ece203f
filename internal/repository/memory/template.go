package memory

import (
	"context"
	"sync"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/render"
)

// TemplateStore implements render.TemplateStore.
type TemplateStore struct {
	mu        sync.Mutex
	templates map[string]domain.Template
}

// NewTemplateStore creates a store holding tpls.
func NewTemplateStore(tpls ...domain.Template) *TemplateStore {
	s := &TemplateStore{templates: make(map[string]domain.Template)}
	for _, t := range tpls {
		s.templates[t.ID] = t
	}
	return s
}

// Put inserts or replaces a template.
func (s *TemplateStore) Put(t domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

func (s *TemplateStore) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, render.ErrTemplateNotFound
	}
	return &t, nil
}
