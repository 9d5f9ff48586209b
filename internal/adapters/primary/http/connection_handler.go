package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
)

// ConnectionResponse describes the push channel for status consumers.
type ConnectionResponse struct {
	Connected bool     `json:"connected"`
	State     string   `json:"state"`
	SocketID  string   `json:"socketId,omitempty"`
	UserID    string   `json:"userId,omitempty"`
	Attempts  int      `json:"reconnectAttempts"`
	Rooms     []string `json:"rooms"`
}

// ConnectionHandler exposes the push channel state.
type ConnectionHandler struct {
	channel ports.ConnectionStatus
	logger  *slog.Logger
}

// NewConnectionHandler creates a new ConnectionHandler.
func NewConnectionHandler(channel ports.ConnectionStatus, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		channel: channel,
		logger:  logger.With("handler", "connection"),
	}
}

// RegisterRoutes registers the /connection routes.
func (h *ConnectionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleGet)
}

// HandleGet handles GET /connection.
func (h *ConnectionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	info := h.channel.Info()
	rooms := info.Rooms
	if rooms == nil {
		rooms = []string{}
	}

	WriteJSON(w, http.StatusOK, ConnectionResponse{
		Connected: h.channel.IsConnected(),
		State:     info.State,
		SocketID:  info.SocketID,
		UserID:    info.UserID,
		Attempts:  info.Attempts,
		Rooms:     rooms,
	})
}
