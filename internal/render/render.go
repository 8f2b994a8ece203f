// Package render turns a stored template and per-recipient variables into a
// subject and HTML body using the Liquid template language.
package render

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// ErrTemplateNotFound is returned when the template id is unknown.
var ErrTemplateNotFound = errors.New("template not found")

// RenderError wraps a parse or render failure of one template part.
type RenderError struct {
	TemplateID string
	Part       string // "subject" or "body"
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render template %s (%s): %v", e.TemplateID, e.Part, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// TemplateStore loads templates by id. Returns ErrTemplateNotFound if the
// id is unknown.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
}

// TemplateService renders stored Liquid templates with parse caching.
type TemplateService struct {
	store  TemplateStore
	engine *liquid.Engine
	cache  sync.Map // source text -> *liquid.Template
}

// NewTemplateService creates a renderer backed by store.
func NewTemplateService(store TemplateStore) *TemplateService {
	ts := &TemplateService{
		store:  store,
		engine: liquid.NewEngine(),
	}
	ts.registerFilters()
	return ts
}

func (ts *TemplateService) registerFilters() {
	// {{ name | default: "there" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	ts.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	ts.engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})

	ts.engine.RegisterFilter("urlencode", url.QueryEscape)
	ts.engine.RegisterFilter("escape", html.EscapeString)
}

// Render loads templateID and renders its subject and body with vars.
func (ts *TemplateService) Render(ctx context.Context, templateID string, vars map[string]any) (*domain.RenderedMessage, error) {
	tpl, err := ts.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	subject, err := ts.renderPart(tpl.Subject, vars)
	if err != nil {
		return nil, &RenderError{TemplateID: templateID, Part: "subject", Err: err}
	}
	body, err := ts.renderPart(tpl.Body, vars)
	if err != nil {
		return nil, &RenderError{TemplateID: templateID, Part: "body", Err: err}
	}
	return &domain.RenderedMessage{Subject: strings.TrimSpace(subject), HTML: body}, nil
}

func (ts *TemplateService) renderPart(src string, vars map[string]any) (string, error) {
	var tpl *liquid.Template
	if cached, ok := ts.cache.Load(src); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, perr := ts.engine.ParseString(src)
		if perr != nil {
			return "", perr
		}
		ts.cache.Store(src, parsed)
		tpl = parsed
	}
	out, rerr := tpl.RenderString(vars)
	if rerr != nil {
		return "", rerr
	}
	return out, nil
}
