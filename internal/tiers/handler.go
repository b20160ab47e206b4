package tiers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/readerly/readerly/internal/entitlement"
	"github.com/readerly/readerly/internal/platform/httpx"
)

// Handler exposes the tier-change admin operation.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers tier routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/tiers/set", h.handleSet)
}

type setRequest struct {
	UserID        int64      `json:"user_id" validate:"required,gt=0"`
	Tier          string     `json:"tier" validate:"required,oneof=base elevated elevated_plus"`
	EffectiveFrom *time.Time `json:"effective_from"`
}

type tierResponse struct {
	UserID        int64     `json:"user_id"`
	Tier          string    `json:"tier"`
	EffectiveFrom time.Time `json:"effective_from"`
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var from time.Time
	if req.EffectiveFrom != nil {
		from = req.EffectiveFrom.UTC()
	}
	record, err := h.service.Set(r.Context(), req.UserID, entitlement.Tier(req.Tier), from)
	if err != nil {
		if errors.Is(err, ErrInvalidTier) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("set tier", slog.Int64("user_id", req.UserID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Tier Change Failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, tierResponse{
		UserID:        record.UserID,
		Tier:          string(record.Tier),
		EffectiveFrom: record.EffectiveFrom,
	})
}
