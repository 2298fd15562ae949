package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/avolkov/signdesk/internal/common"
	"github.com/avolkov/signdesk/internal/httpx"
)

// writeServiceError maps workflow errors onto HTTP status codes. The
// order mirrors the precondition order of the services, so a request
// failing several checks reports the same one the service reported.
func (s *HTTPServer) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {

	var ve *common.ValidationError

	switch {
	case errors.Is(err, common.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "resource not found", nil)
	case errors.Is(err, common.ErrEnvelopeClosed):
		httpx.WriteError(w, http.StatusConflict, "envelope_closed", "envelope is no longer active", nil)
	case errors.Is(err, common.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, "invalid_state", "operation not allowed in the current state", nil)
	case errors.Is(err, common.ErrNotYourTurn):
		httpx.WriteError(w, http.StatusForbidden, "not_your_turn", "a prior recipient has not signed yet", nil)
	case errors.As(err, &ve):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field_ids": ve.FieldIDs})
	case errors.Is(err, common.ErrValidationFailed):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized", nil)
	default:
		s.logger.Error(ctx, "request failed", "error", err.Error())
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
