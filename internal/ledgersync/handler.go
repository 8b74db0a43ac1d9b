package ledgersync

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/connection"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/httpx"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/shared"
)

// Handler manages sync endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sync routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.run)
	r.Get("/status", h.status)
}

// run executes a sync synchronously and returns the structured report. The
// request write timeout must accommodate the sync budget.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserIDFromContext(r.Context())

	report, err := h.service.Run(r.Context(), userID)
	switch {
	case errors.Is(err, connection.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Connected", "no active platform connection")
	case errors.Is(err, connection.ErrAuthExpired):
		httpx.Problem(w, http.StatusUnauthorized, "Authorisation Expired", "reconnect the accounting platform")
	case err != nil:
		h.logger.Error("sync run", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
	default:
		httpx.JSON(w, http.StatusOK, report)
	}
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserIDFromContext(r.Context())

	status, err := h.service.Status(r.Context(), userID)
	if errors.Is(err, mirror.ErrNotFound) {
		httpx.JSON(w, http.StatusOK, &mirror.SyncStatus{UserID: userID})
		return
	}
	if err != nil {
		h.logger.Error("sync status", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}
