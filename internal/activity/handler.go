package activity

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/readerly/readerly/internal/platform/httpx"
)

// TimelineSource reads timeline pages; satisfied by *Timeline.
type TimelineSource interface {
	Window(ctx context.Context, filters TimelineFilters) (Result, error)
}

// Handler exposes the activity timeline read endpoint.
type Handler struct {
	logger   *slog.Logger
	timeline TimelineSource
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, timeline TimelineSource) *Handler {
	return &Handler{logger: logger, timeline: timeline}
}

// MountRoutes registers activity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/activity", h.handleTimeline)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Kind:   q.Get("kind"),
		Action: q.Get("action"),
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id must be a positive integer")
			return
		}
		filters.UserID = id
	}
	var err error
	if filters.From, err = parseTime(q.Get("from")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC 3339")
		return
	}
	if filters.To, err = parseTime(q.Get("to")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC 3339")
		return
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	result, err := h.timeline.Window(r.Context(), filters)
	if err != nil {
		h.logger.Error("activity timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Timeline Failed", "")
		return
	}
	if result.Rows == nil {
		result.Rows = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
