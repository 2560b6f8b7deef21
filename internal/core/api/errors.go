package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/core/auth"
	"github.com/fieldstone/leadflow/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON body with the given status.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("failed to encode response", zap.Error(err))
	}
}

// respondError maps domain sentinels onto HTTP status codes. Not-found
// sentinels answer 404, conflict sentinels 409, validation 422; anything
// unrecognized is a 500 and gets logged.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrLeadNotFound),
		errors.Is(err, types.ErrRuleNotFound),
		errors.Is(err, types.ErrGroupNotFound),
		errors.Is(err, types.ErrPlanNotFound),
		errors.Is(err, types.ErrNotGroupMember):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyClaimed):
		status = http.StatusConflict
	case errors.Is(err, types.ErrEmptyGroup),
		errors.Is(err, types.ErrPolicyMismatch),
		errors.Is(err, types.ErrInvalidMatchType),
		errors.Is(err, types.ErrUnknownOperator):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		h.respondJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	h.respondJSON(w, status, errorResponse{Error: err.Error()})
}

// badRequest answers 400 with the decode/validation message.
func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// tenant pulls the authenticated tenant out of the request context. The auth
// middleware guarantees it for mounted routes; a miss is a wiring bug.
func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (types.TenantID, bool) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		h.log.Error("request reached handler without tenant", zap.String("path", r.URL.Path))
		h.respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return "", false
	}
	return tenantID, true
}
