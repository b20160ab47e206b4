package entitlement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/readerly/readerly/internal/platform/httpx"
)

// Handler exposes the check and invalidation operations over HTTP. The
// two check endpoints are the service boundary application features call
// into; the invalidation endpoints are the correctness obligation of any
// collaborator that mutates roles or tier out of band.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	cache     *Cache
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, cache *Cache) *Handler {
	return &Handler{logger: logger, engine: engine, cache: cache, validator: validator.New()}
}

// MountRoutes registers the check endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/entitlements/has", h.handleHas)
	r.Post("/entitlements/check", h.handleCheck)
}

// MountAdminRoutes registers the invalidation endpoints, kept off the
// open surface since they let a caller churn the cache at will.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Post("/invalidate/user", h.handleInvalidateUser)
	r.Post("/invalidate/context", h.handleInvalidateContext)
}

type contextPayload struct {
	Kind string `json:"kind" validate:"required,oneof=platform store club"`
	ID   int64  `json:"id" validate:"gte=0"`
}

func (p contextPayload) toContext() Context {
	return Context{Kind: ContextKind(p.Kind), ID: p.ID}
}

type hasRequest struct {
	UserID        int64          `json:"user_id" validate:"required,gt=0"`
	Context       contextPayload `json:"context" validate:"required"`
	EntitlementID string         `json:"entitlement_id" validate:"required"`
}

type checkRequest struct {
	UserID   int64          `json:"user_id" validate:"required,gt=0"`
	Context  contextPayload `json:"context" validate:"required"`
	ActionID string         `json:"action_id" validate:"required"`
}

type decisionResponse struct {
	Allowed    bool       `json:"allowed"`
	ReasonCode ReasonCode `json:"reason_code"`
}

func (h *Handler) handleHas(w http.ResponseWriter, r *http.Request) {
	var req hasRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision := h.engine.HasEntitlement(r.Context(), req.UserID, req.Context.toContext(), EntitlementID(req.EntitlementID))
	httpx.JSON(w, http.StatusOK, decisionResponse{Allowed: decision.Allowed, ReasonCode: decision.Reason})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision, err := h.engine.CheckAction(r.Context(), req.UserID, req.Context.toContext(), req.ActionID)
	if err != nil {
		// Only unregistered actions reach here; that is a caller bug.
		httpx.Problem(w, http.StatusBadRequest, "Unknown Action", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, decisionResponse{Allowed: decision.Allowed, ReasonCode: decision.Reason})
}

type invalidateUserRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type invalidateContextRequest struct {
	UserID  int64          `json:"user_id" validate:"required,gt=0"`
	Context contextPayload `json:"context" validate:"required"`
}

func (h *Handler) handleInvalidateUser(w http.ResponseWriter, r *http.Request) {
	var req invalidateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.cache.InvalidateUser(r.Context(), req.UserID); err != nil {
		h.logger.Error("invalidate user", slog.Int64("user_id", req.UserID), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Invalidation Failed", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInvalidateContext(w http.ResponseWriter, r *http.Request) {
	var req invalidateContextRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	target := req.Context.toContext()
	if err := target.Validate(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.cache.InvalidateUserContext(r.Context(), req.UserID, target); err != nil {
		h.logger.Error("invalidate context", slog.Int64("user_id", req.UserID), slog.String("context", target.Key()), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Invalidation Failed", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
