package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/dashboard-sync/internal/adapters/primary/validation"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NotificationKeyRequest names one notification by source and id.
type NotificationKeyRequest struct {
	Source string `json:"source" validate:"required,oneof=persisted ephemeral"`
	ID     string `json:"id" validate:"required"`
}

// MarkReadRequest is the body of POST /notifications/read.
type MarkReadRequest struct {
	Keys []NotificationKeyRequest `json:"keys" validate:"required,min=1,max=200,dive"`
}

// NotificationHandler serves the merged notification view and its commands.
type NotificationHandler struct {
	inbox        ports.NotificationInbox
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(
	inbox ports.NotificationInbox,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		inbox:        inbox,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "notification"),
	}
}

// RegisterRoutes registers the /notifications routes.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleView)
	r.Get("/page", h.HandlePage)
	r.Post("/read", h.HandleMarkRead)
	r.Post("/read-all", h.HandleMarkAllRead)
	r.Delete("/{source}/{id}", h.HandleRemove)
}

// HandleView handles GET /notifications.
func (h *NotificationHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	view := h.inbox.View()
	if view.Items == nil {
		view.Items = []domain.Notification{}
	}
	WriteJSON(w, http.StatusOK, view)
}

// HandlePage handles GET /notifications/page?page=&size=.
func (h *NotificationHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	params, err := validation.ParsePage(r, defaultPageSize, maxPageSize)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	page, err := h.inbox.FetchPage(r.Context(), params.Page, params.Size)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}
	if page.Notifications == nil {
		page.Notifications = []domain.Notification{}
	}

	WriteJSON(w, http.StatusOK, page)
}

// HandleMarkRead handles POST /notifications/read. The response carries the
// view after the acknowledgement, or the rolled-back view on failure.
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[MarkReadRequest](w, r)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	keys := make([]domain.NotificationKey, 0, len(req.Keys))
	for _, k := range req.Keys {
		keys = append(keys, domain.NotificationKey{
			Source: domain.NotificationSource(k.Source),
			ID:     k.ID,
		})
	}

	if HandleError(w, r, h.inbox.MarkAsRead(r.Context(), keys...), h.errorHandler) {
		return
	}

	h.HandleView(w, r)
}

// HandleMarkAllRead handles POST /notifications/read-all.
func (h *NotificationHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if HandleError(w, r, h.inbox.MarkAllAsRead(r.Context()), h.errorHandler) {
		return
	}

	h.HandleView(w, r)
}

// HandleRemove handles DELETE /notifications/{source}/{id}.
func (h *NotificationHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	source, err := domain.ParseNotificationSource(chi.URLParam(r, "source"))
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	key := domain.NotificationKey{Source: source, ID: chi.URLParam(r, "id")}
	if HandleError(w, r, h.inbox.Remove(key), h.errorHandler) {
		return
	}

	h.logger.DebugContext(r.Context(), "notification removed", "key", key.String())
	WriteNoContent(w)
}
