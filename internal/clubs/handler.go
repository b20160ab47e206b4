package clubs

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/readerly/readerly/internal/entitlement"
	"github.com/readerly/readerly/internal/platform/httpx"
)

// Handler exposes the guarded club actions.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers club routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/clubs", h.handleCreate)
	r.Post("/clubs/{clubID}/join", h.handleJoin)
	r.Post("/clubs/{clubID}/moderators", h.handleAppointModerator)
}

type createRequest struct {
	UserID  int64  `json:"user_id" validate:"required,gt=0"`
	StoreID int64  `json:"store_id" validate:"required,gt=0"`
	Name    string `json:"name" validate:"required,max=120"`
}

type clubResponse struct {
	ID      int64  `json:"id"`
	StoreID int64  `json:"store_id"`
	Name    string `json:"name"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	club, decision, err := h.service.Create(r.Context(), req.UserID, req.StoreID, req.Name)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("create club", slog.Int64("store_id", req.StoreID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Create Failed", "")
		return
	}
	if !decision.Allowed {
		respondDenied(w, decision)
		return
	}
	httpx.JSON(w, http.StatusCreated, clubResponse{ID: club.ID, StoreID: club.StoreID, Name: club.Name})
}

type joinRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type deniedResponse struct {
	Allowed    bool                   `json:"allowed"`
	ReasonCode entitlement.ReasonCode `json:"reason_code"`
}

// respondDenied maps a deny decision to the caller-facing shape: 403 for
// deliberate denials, 503 when evaluation itself was unavailable so the
// caller retries instead of showing a permission error.
func respondDenied(w http.ResponseWriter, decision entitlement.Decision) {
	status := http.StatusForbidden
	if decision.Reason == entitlement.ReasonEvaluationUnavailable {
		status = http.StatusServiceUnavailable
	}
	httpx.JSON(w, status, deniedResponse{Allowed: false, ReasonCode: decision.Reason})
}

func (h *Handler) clubID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "clubID"), 10, 64)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	clubID, err := h.clubID(r)
	if err != nil || clubID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "club id must be a positive integer")
		return
	}
	var req joinRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision, err := h.service.Join(r.Context(), req.UserID, clubID)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyMember):
			httpx.Problem(w, http.StatusConflict, "Already A Member", err.Error())
		case errors.Is(err, ErrClubNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		default:
			h.logger.Error("join club", slog.Int64("club_id", clubID), slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Join Failed", "")
		}
		return
	}
	if !decision.Allowed {
		respondDenied(w, decision)
		return
	}
	httpx.JSON(w, http.StatusOK, deniedResponse{Allowed: true, ReasonCode: decision.Reason})
}

type appointRequest struct {
	ActorID int64 `json:"actor_id" validate:"required,gt=0"`
	UserID  int64 `json:"user_id" validate:"required,gt=0"`
}

func (h *Handler) handleAppointModerator(w http.ResponseWriter, r *http.Request) {
	clubID, err := h.clubID(r)
	if err != nil || clubID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "club id must be a positive integer")
		return
	}
	var req appointRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision, err := h.service.AppointModerator(r.Context(), req.ActorID, clubID, req.UserID)
	if err != nil {
		h.logger.Error("appoint moderator", slog.Int64("club_id", clubID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Appointment Failed", "")
		return
	}
	if !decision.Allowed {
		respondDenied(w, decision)
		return
	}
	httpx.JSON(w, http.StatusOK, deniedResponse{Allowed: true, ReasonCode: decision.Reason})
}
