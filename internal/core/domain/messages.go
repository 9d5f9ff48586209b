package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MessageKind is the name of an inbound message on the push channel.
type MessageKind string

const (
	KindConnection        MessageKind = "connection"
	KindDashboardUpdate   MessageKind = "dashboard_update"
	KindPerformanceUpdate MessageKind = "performance_update"
	KindTaskUpdate        MessageKind = "task_update"
	KindTeamUpdate        MessageKind = "team_update"
	KindProjectUpdate     MessageKind = "project_update"
	KindSystemUpdate      MessageKind = "system_update"
	KindResourceUpdate    MessageKind = "resource_update"
	KindWorktimeUpdate    MessageKind = "worktime_update"

	KindNotification        MessageKind = "notification"
	KindPendingNotification MessageKind = "pending_notification"
	KindTaskAssignment      MessageKind = "task_assignment"
	KindProjectCreation     MessageKind = "project_creation"
	KindEmployeeReport      MessageKind = "employee_report"
	KindGroupChatAddition   MessageKind = "group_chat_addition"

	// KindUnrecognized is never sent by the server. It tags frames whose
	// declared kind has no decoder.
	KindUnrecognized MessageKind = "unrecognized"
)

// NotificationKinds lists every kind that carries an ephemeral notification.
var NotificationKinds = []MessageKind{
	KindNotification,
	KindPendingNotification,
	KindTaskAssignment,
	KindProjectCreation,
	KindEmployeeReport,
	KindGroupChatAddition,
}

// Message is the closed set of decoded inbound messages.
type Message interface {
	Kind() MessageKind
}

// ConnectionStatus is carried by connection events.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnected  ConnectionStatus = "reconnected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusFailed       ConnectionStatus = "failed"
)

// Up reports whether the status means the channel is usable.
func (s ConnectionStatus) Up() bool {
	return s == StatusConnected || s == StatusReconnected
}

// ConnectionEvent reports a transition of the push channel.
type ConnectionEvent struct {
	Status   ConnectionStatus `json:"status"`
	SocketID string           `json:"socketId,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Attempts int              `json:"attempts,omitempty"`
}

func (ConnectionEvent) Kind() MessageKind { return KindConnection }

// DashboardUpdate carries a delta for one dashboard type, or for all of them.
type DashboardUpdate struct {
	Type      DashboardType  `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp Timestamp      `json:"timestamp"`
}

func (DashboardUpdate) Kind() MessageKind { return KindDashboardUpdate }

// DataUpdate is the shared shape of the performance, task, team, project,
// system, resource and worktime updates. Data holds the full payload.
type DataUpdate struct {
	MessageKind MessageKind
	AssignedTo  string
	TeamID      string
	Timestamp   Timestamp
	Data        map[string]any
}

func (u DataUpdate) Kind() MessageKind { return u.MessageKind }

// NotificationPush is a live notification delivered over the channel.
type NotificationPush struct {
	MessageKind MessageKind
	ID          string
	Type        string
	Title       string
	Message     string
	Priority    Priority
	ActionURL   string
	Timestamp   Timestamp
	Data        map[string]any
}

func (n NotificationPush) Kind() MessageKind { return n.MessageKind }

// UnrecognizedMessage is a frame with a kind that has no decoder.
type UnrecognizedMessage struct {
	Name string
	Raw  json.RawMessage
}

func (UnrecognizedMessage) Kind() MessageKind { return KindUnrecognized }

// Timestamp accepts RFC3339 strings or unix milliseconds on the wire and
// always encodes as RFC3339.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t} }

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", b, err)
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
