package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lorrc/dashboard-sync/internal/core/domain"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
)

// Ensure Client implements the NotificationStore interface.
var _ ports.NotificationStore = (*Client)(nil)

// localDateTimeLayout is how the notification service serializes dates
// without a zone. Such values are read as UTC.
const localDateTimeLayout = "2006-01-02T15:04:05.999999999"

// wireTime accepts RFC3339, zone-less local date-times and unix millis.
type wireTime struct {
	time.Time
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed
			return nil
		}
		parsed, err := time.ParseInLocation(localDateTimeLayout, s, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid date-time %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	var ts domain.Timestamp
	if err := ts.UnmarshalJSON(b); err != nil {
		return err
	}
	t.Time = ts.Time
	return nil
}

type notificationDTO struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data"`
	IsRead    *bool             `json:"isRead"`
	Channel   string            `json:"channel"`
	CreatedAt wireTime          `json:"createdAt"`
	ReadAt    *wireTime         `json:"readAt"`
}

func (d notificationDTO) toDomain() domain.Notification {
	n := domain.Notification{
		ID:        d.ID,
		Source:    domain.SourcePersisted,
		Type:      d.Type,
		Title:     d.Title,
		Message:   d.Message,
		Priority:  domain.PriorityMedium,
		CreatedAt: d.CreatedAt.Time,
		IsRead:    d.IsRead != nil && *d.IsRead,
	}
	if d.ReadAt != nil && !d.ReadAt.IsZero() {
		readAt := d.ReadAt.Time
		n.ReadAt = &readAt
	}

	if len(d.Data) > 0 {
		n.Payload = make(map[string]any, len(d.Data))
		for k, v := range d.Data {
			n.Payload[k] = v
		}
		if p := strings.ToUpper(d.Data["priority"]); p != "" {
			n.Priority = domain.Priority(p)
		}
		n.ActionURL = d.Data["actionUrl"]
	}
	return n
}

func toDomainList(dtos []notificationDTO) []domain.Notification {
	out := make([]domain.Notification, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out
}

type notificationSummaryDTO struct {
	Notifications []notificationDTO `json:"notifications"`
	UnreadCount   int64             `json:"unreadCount"`
	TotalPages    int               `json:"totalPages"`
	TotalElements int64             `json:"totalElements"`
	CurrentPage   int               `json:"currentPage"`
	PageSize      int               `json:"pageSize"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

func notificationsPath(userID string, suffix ...string) string {
	return "/notification/notifications/user/" + strings.Join(append([]string{userID}, suffix...), "/")
}

// GetUnreadCount returns the server-side unread count for userID.
func (c *Client) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	var count int64
	if err := c.getJSON(ctx, notificationsPath(userID, "unread-count"), nil, &count); err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetRecent returns the notifications of the last days days.
func (c *Client) GetRecent(ctx context.Context, userID string, days int) ([]domain.Notification, error) {
	query := url.Values{"days": {strconv.Itoa(days)}}

	var dtos []notificationDTO
	if err := c.getJSON(ctx, notificationsPath(userID, "recent"), query, &dtos); err != nil {
		return nil, err
	}
	return toDomainList(dtos), nil
}

// GetPage returns one page of the user's notifications, newest first.
func (c *Client) GetPage(ctx context.Context, userID string, page, size int) (domain.NotificationPage, error) {
	query := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}

	var summary notificationSummaryDTO
	if err := c.getJSON(ctx, notificationsPath(userID), query, &summary); err != nil {
		return domain.NotificationPage{}, err
	}

	return domain.NotificationPage{
		Notifications: toDomainList(summary.Notifications),
		TotalElements: summary.TotalElements,
		TotalPages:    summary.TotalPages,
		Page:          summary.CurrentPage,
		Size:          summary.PageSize,
	}, nil
}

// MarkRead acknowledges ids as read.
func (c *Client) MarkRead(ctx context.Context, userID string, ids []string) error {
	return c.postJSON(ctx, notificationsPath(userID, "mark-read"), markReadRequest{IDs: ids}, nil)
}

// MarkAllRead acknowledges every notification of userID as read.
func (c *Client) MarkAllRead(ctx context.Context, userID string) error {
	return c.postJSON(ctx, notificationsPath(userID, "mark-all-read"), nil, nil)
}
