package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/httpx"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/shared"
)

// Handler manages payment schedule endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payment schedule routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.window)
	r.Post("/", h.create)
	r.Get("/runs", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/confirm", h.confirm)
	r.Post("/{id}/cancel", h.cancel)
}

// window serves the combined forecast + schedules view for a date range.
func (h *Handler) window(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserIDFromContext(r.Context())

	start, err := parseDateParam(r, "startDate")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	end, err := parseDateParam(r, "endDate")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if end.Before(start) {
		httpx.RespondError(w, fmt.Errorf("%w: endDate before startDate", httpx.ErrValidation))
		return
	}

	report, err := h.service.Window(r.Context(), userID, start, end)
	if err != nil {
		h.logger.Error("schedule window", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserIDFromContext(r.Context())

	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed JSON body", httpx.ErrValidation))
		return
	}

	run, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		if !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("create schedule", slog.String("user_id", userID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, run)
}

// list returns the user's schedules, optionally filtered by status.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserIDFromContext(r.Context())

	var statuses []Status
	for _, raw := range r.URL.Query()["status"] {
		switch Status(raw) {
		case StatusDraft, StatusConfirmed, StatusCancelled:
			statuses = append(statuses, Status(raw))
		default:
			httpx.RespondError(w, fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, raw))
			return
		}
	}

	runs, err := h.service.List(r.Context(), userID, statuses)
	if err != nil {
		h.logger.Error("list schedules", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if runs == nil {
		runs = []PaymentSchedule{}
	}
	httpx.JSON(w, http.StatusOK, runs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	h.withSchedule(w, r, h.service.Get)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	h.withSchedule(w, r, h.service.Confirm)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.withSchedule(w, r, h.service.Cancel)
}

type scheduleOp func(ctx context.Context, userID string, id uuid.UUID) (*PaymentSchedule, error)

func (h *Handler) withSchedule(w http.ResponseWriter, r *http.Request, op scheduleOp) {
	userID := shared.UserIDFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid schedule id", httpx.ErrValidation))
		return
	}

	run, err := op(r.Context(), userID, id)
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "schedule not found")
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case err != nil:
		h.logger.Error("schedule op", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
	default:
		httpx.JSON(w, http.StatusOK, run)
	}
}

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", httpx.ErrValidation, name)
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", httpx.ErrValidation, name)
	}
	return parsed, nil
}
