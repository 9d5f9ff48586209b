package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
)

// DashboardHandler serves the synchronized dashboard snapshots.
type DashboardHandler struct {
	dashboards   ports.DashboardQuery
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(
	dashboards ports.DashboardQuery,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *DashboardHandler {
	return &DashboardHandler{
		dashboards:   dashboards,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "dashboard"),
	}
}

// RegisterRoutes registers the /dashboards routes.
func (h *DashboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{type}", h.HandleGet)
	r.Post("/{type}/refresh", h.HandleRefresh)
}

// HandleGet handles GET /dashboards/{type}.
func (h *DashboardHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	dashboardType, err := domain.ParseDashboardType(chi.URLParam(r, "type"))
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	state, err := h.dashboards.DashboardState(dashboardType)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	WriteJSON(w, http.StatusOK, state)
}

// HandleRefresh handles POST /dashboards/{type}/refresh. A failed fetch is
// reported inside the returned state, not as an HTTP error.
func (h *DashboardHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	dashboardType, err := domain.ParseDashboardType(chi.URLParam(r, "type"))
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	state, err := h.dashboards.RefreshDashboard(r.Context(), dashboardType)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	if state.Error != "" {
		h.logger.WarnContext(r.Context(), "dashboard refresh failed",
			"dashboard", dashboardType,
			"error", state.Error,
		)
	}
	WriteJSON(w, http.StatusOK, state)
}
