package ports

import (
	"context"

	"github.com/lorrc/dashboard-sync/internal/core/domain"
)

// FrameHandler receives inbound frames in arrival order. It is called from
// a single goroutine per connection.
type FrameHandler func(frame []byte)

// ChannelConn is one live push channel connection.
type ChannelConn interface {
	// SocketID identifies the connection for logs and connection events.
	SocketID() string
	// Send queues one encoded frame for writing. It must not block.
	Send(frame []byte) error
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	// Err reports why Done was closed.
	Err() error
	Close() error
}

// ChannelDialer performs the authenticated handshake. A nil error means the
// server acknowledged the connection.
type ChannelDialer interface {
	Dial(ctx context.Context, identity domain.Identity, onFrame FrameHandler) (ChannelConn, error)
}

// MessageHandler consumes decoded inbound messages.
type MessageHandler func(msg domain.Message)

// MessageSubscriber is the subscribe side of the event bus.
type MessageSubscriber interface {
	Subscribe(kind domain.MessageKind, handler MessageHandler) (unsubscribe func())
}

// RealtimeChannel is what dashboard consumers need from the connection
// manager.
type RealtimeChannel interface {
	IsConnected() bool
	JoinRoom(name string)
	LeaveRoom(name string)
	RequestDashboardData(dashboardType domain.DashboardType, filters map[string]any) error
}

// DashboardFetcher performs the pull fetch of a dashboard's initial data.
type DashboardFetcher interface {
	FetchDashboard(ctx context.Context, dashboardType domain.DashboardType, scope domain.Scope, filters map[string]any) (domain.DashboardData, error)
}

// NotificationStore is the persisted notification backend.
type NotificationStore interface {
	GetUnreadCount(ctx context.Context, userID string) (int, error)
	GetRecent(ctx context.Context, userID string, days int) ([]domain.Notification, error)
	GetPage(ctx context.Context, userID string, page, size int) (domain.NotificationPage, error)
	MarkRead(ctx context.Context, userID string, ids []string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// ConnectionStatus is the read side of the connection manager used by the
// status API.
type ConnectionStatus interface {
	IsConnected() bool
	Info() domain.ConnectionInfo
}

// DashboardQuery exposes followed dashboards to primary adapters.
type DashboardQuery interface {
	DashboardState(dashboardType domain.DashboardType) (domain.DashboardState, error)
	RefreshDashboard(ctx context.Context, dashboardType domain.DashboardType) (domain.DashboardState, error)
}

// NotificationInbox is the consumer side of the notification reconciler.
type NotificationInbox interface {
	View() domain.NotificationView
	FetchPage(ctx context.Context, page, size int) (domain.NotificationPage, error)
	MarkAsRead(ctx context.Context, keys ...domain.NotificationKey) error
	MarkAllAsRead(ctx context.Context) error
	Remove(key domain.NotificationKey) error
}
