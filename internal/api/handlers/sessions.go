// Package handlers contains the HTTP handler implementations for the airtime
// API: session admission, heartbeat, settlement, the quota view, and the
// billing webhook.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"airtime/internal/core"
	"airtime/internal/types"
)

// SessionService is the engine contract the handler depends on. Defined
// locally so tests can inject a mock without touching the session package.
type SessionService interface {
	StartSession(ctx context.Context, userID, model string, metadata map[string]any) (*types.StartSessionResult, error)
	Heartbeat(ctx context.Context, userID, sessionID string) (*types.HeartbeatResult, error)
	EndSession(ctx context.Context, userID, sessionID, endReason string) (*types.SettleResult, error)
	Quota(ctx context.Context, userID string) (*types.QuotaSnapshot, error)
}

// StartSessionRequest is the body for POST /v1/sessions.
type StartSessionRequest struct {
	Model    string         `json:"model,omitempty" validate:"omitempty,model"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EndSessionRequest is the body for POST /v1/sessions/{id}/end.
type EndSessionRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,oneof=client_done client_error timeout"`
}

// SessionHandler serves the session lifecycle endpoints.
type SessionHandler struct {
	service   SessionService
	validator *core.Validator
	logger    *slog.Logger
}

func NewSessionHandler(service SessionService, v *core.Validator, l *slog.Logger) *SessionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SessionHandler{
		service:   service,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts session routes on the provided chi.Router.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/heartbeat", h.Heartbeat)
			r.Post("/end", h.End)
		})
	})
	r.Get("/quota", h.Quota)
}

// Start handles POST /v1/sessions: the admission pipeline. An empty body is
// accepted and admits with the default model.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	var req StartSessionRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(&req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	result, err := h.service.StartSession(r.Context(), identity.UserID, req.Model, req.Metadata)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: result})
}

// Heartbeat handles POST /v1/sessions/{id}/heartbeat. Always 200 when the
// session is visible to the caller; the body's continue/reason fields carry
// the verdict so a client can distinguish "stop streaming" from an error.
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "session id is required", nil))
		return
	}

	result, err := h.service.Heartbeat(r.Context(), identity.UserID, sessionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// End handles POST /v1/sessions/{id}/end: settlement. Duplicate calls replay
// the original outcome with a 200.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "session id is required", nil))
		return
	}

	var req EndSessionRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(&req); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "client_done"
	}

	result, err := h.service.EndSession(r.Context(), identity.UserID, sessionID, reason)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// Quota handles GET /v1/quota: the read-only usage view.
func (h *SessionHandler) Quota(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	snapshot, err := h.service.Quota(r.Context(), identity.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snapshot})
}
