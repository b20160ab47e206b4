package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/readerly/readerly/internal/entitlement"
	"github.com/readerly/readerly/internal/platform/httpx"
)

// Handler exposes grant/revoke over the internal admin surface.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/roles/grant", h.handleGrant)
	r.Post("/roles/revoke", h.handleRevoke)
}

type grantRequest struct {
	UserID      int64  `json:"user_id" validate:"required,gt=0"`
	RoleKind    string `json:"role_kind" validate:"required"`
	ContextKind string `json:"context_kind" validate:"required,oneof=platform store club"`
	ContextID   int64  `json:"context_id" validate:"gte=0"`
	GrantedBy   *int64 `json:"granted_by"`
}

type assignmentResponse struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	RoleKind    string    `json:"role_kind"`
	ContextKind string    `json:"context_kind"`
	ContextID   int64     `json:"context_id,omitempty"`
	GrantedAt   time.Time `json:"granted_at"`
}

func toAssignmentResponse(a Assignment) assignmentResponse {
	return assignmentResponse{
		ID:          a.ID.String(),
		UserID:      a.UserID,
		RoleKind:    string(a.Kind),
		ContextKind: string(a.Context.Kind),
		ContextID:   a.Context.ID,
		GrantedAt:   a.GrantedAt,
	}
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	target := entitlement.Context{Kind: entitlement.ContextKind(req.ContextKind), ID: req.ContextID}
	assignment, err := h.service.Grant(r.Context(), req.UserID, entitlement.RoleKind(req.RoleKind), target, req.GrantedBy)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateGrant):
			httpx.Problem(w, http.StatusConflict, "Duplicate Grant", err.Error())
		default:
			h.logger.Error("grant role", slog.Int64("user_id", req.UserID), slog.Any("error", err))
			httpx.Problem(w, http.StatusBadRequest, "Grant Failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, toAssignmentResponse(assignment))
}

type revokeRequest struct {
	AssignmentID string `json:"assignment_id" validate:"required,uuid"`
	RevokedBy    *int64 `json:"revoked_by"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := uuid.Parse(req.AssignmentID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "assignment_id must be a uuid")
		return
	}
	assignment, err := h.service.Revoke(r.Context(), id, req.RevokedBy)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrAlreadyRevoked):
			httpx.Problem(w, http.StatusConflict, "Already Revoked", err.Error())
		default:
			h.logger.Error("revoke role", slog.String("assignment_id", req.AssignmentID), slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Revoke Failed", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, toAssignmentResponse(assignment))
}
