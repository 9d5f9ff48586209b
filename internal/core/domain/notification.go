package domain

import (
	"fmt"
	"time"

	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
)

// NotificationSource is the namespace a notification id belongs to.
type NotificationSource string

const (
	// SourcePersisted notifications are stored server-side and their read
	// state is acknowledged by the notification service.
	SourcePersisted NotificationSource = "persisted"
	// SourceEphemeral notifications only live in client memory.
	SourceEphemeral NotificationSource = "ephemeral"
)

// ParseNotificationSource validates a source name.
func ParseNotificationSource(s string) (NotificationSource, error) {
	switch NotificationSource(s) {
	case SourcePersisted, SourceEphemeral:
		return NotificationSource(s), nil
	}
	return "", apperrors.ErrInvalidSource
}

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// NotificationKey is the identity of a notification. Ids are only unique
// within their source.
type NotificationKey struct {
	Source NotificationSource `json:"source"`
	ID     string             `json:"id"`
}

func (k NotificationKey) String() string {
	return fmt.Sprintf("%s:%s", k.Source, k.ID)
}

// Notification is one entry of the merged notification view.
type Notification struct {
	ID        string             `json:"id"`
	Source    NotificationSource `json:"source"`
	Type      string             `json:"type,omitempty"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Priority  Priority           `json:"priority"`
	CreatedAt time.Time          `json:"createdAt"`
	IsRead    bool               `json:"isRead"`
	ReadAt    *time.Time         `json:"readAt,omitempty"`
	ActionURL string             `json:"actionUrl,omitempty"`
	Payload   map[string]any     `json:"payload,omitempty"`
}

// Key returns the namespaced identity of n.
func (n Notification) Key() NotificationKey {
	return NotificationKey{Source: n.Source, ID: n.ID}
}

// NotificationPage is one page of the paginated notification listing.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	TotalElements int64          `json:"totalElements"`
	TotalPages    int            `json:"totalPages"`
	Page          int            `json:"page"`
	Size          int            `json:"size"`
}

// NotificationView is the merged, derived view handed to consumers.
type NotificationView struct {
	Items           []Notification `json:"items"`
	PersistedUnread int            `json:"persistedUnread"`
	EphemeralUnread int            `json:"ephemeralUnread"`
	UnreadTotal     int            `json:"unreadTotal"`
	Pending         bool           `json:"pending"`
	Loaded          bool           `json:"loaded"`
	Error           string         `json:"error,omitempty"`
}
