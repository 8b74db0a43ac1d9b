package connection

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/httpx"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/shared"
)

// Handler manages connection endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers connection routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.status)
	r.Delete("/", h.disconnect)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserIDFromContext(r.Context())
	status, err := h.service.Status(r.Context(), userID)
	if err != nil {
		h.logger.Error("connection status", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserIDFromContext(r.Context())
	if err := h.service.Disconnect(r.Context(), userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no active connection")
			return
		}
		h.logger.Error("disconnect", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}
