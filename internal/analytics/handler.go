package analytics

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/httpx"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/shared"
)

// Handler serves the reporting endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	now     func() time.Time
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, now: shared.SystemClock}
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

// MountRoutes registers reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ageing", h.ageingReport)
}

func (h *Handler) ageingReport(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserIDFromContext(r.Context())

	asOf := shared.Day(h.now())
	if raw := r.URL.Query().Get("asOf"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: asOf must be YYYY-MM-DD", httpx.ErrValidation))
			return
		}
		asOf = parsed
	}

	report, err := h.service.AgeingReport(r.Context(), userID, asOf)
	if err != nil {
		h.logger.Error("ageing report", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
