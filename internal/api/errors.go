package api

import (
	"errors"
	"net/http"

	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatch/internal/render"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// writeError maps service errors to HTTP responses. Anything unrecognised is
// logged and reported as a generic 500 so internal details never leak.
func writeError(w http.ResponseWriter, err error) {
	var renderErr *render.RenderError
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.ErrorCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, render.ErrTemplateNotFound):
		httputil.ErrorCode(w, http.StatusNotFound, "template_not_found", err.Error())
	case errors.Is(err, campaign.ErrRunInProgress):
		httputil.Conflict(w, "run_in_progress", err.Error())
	case errors.Is(err, campaign.ErrInvalidInput):
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.As(err, &renderErr):
		httputil.ErrorCode(w, http.StatusBadRequest, "render_error", err.Error())
	case errors.Is(err, sending.ErrQuotaExhausted):
		httputil.ErrorCode(w, http.StatusTooManyRequests, "quota_exhausted", err.Error())
	case errors.Is(err, sending.ErrNoProviders):
		httputil.ErrorCode(w, http.StatusServiceUnavailable, "no_providers", err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
