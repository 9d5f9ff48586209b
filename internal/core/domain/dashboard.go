package domain

import (
	"maps"
	"strings"
	"time"

	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
)

// DashboardType identifies which dashboard a synchronizer serves.
type DashboardType string

const (
	DashboardEmployee       DashboardType = "employee"
	DashboardTeamLead       DashboardType = "team-lead"
	DashboardProjectManager DashboardType = "project-manager"
	DashboardAdmin          DashboardType = "admin"
	DashboardGeneral        DashboardType = "general"

	// DashboardAll is only valid on inbound dashboard_update messages and
	// addresses every dashboard type.
	DashboardAll DashboardType = "all"
)

// IsValid reports whether t can be served by a synchronizer.
func (t DashboardType) IsValid() bool {
	switch t {
	case DashboardEmployee, DashboardTeamLead, DashboardProjectManager, DashboardAdmin, DashboardGeneral:
		return true
	}
	return false
}

// ParseDashboardType parses a dashboard type name, case-insensitively.
func ParseDashboardType(s string) (DashboardType, error) {
	t := DashboardType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", apperrors.ErrInvalidDashboardType
	}
	return t, nil
}

// Room names for the server-side broadcast scopes.
const (
	RoomProjectManagers = "project_managers"
	RoomAdmins          = "admins"
)

// UserRoom returns the personal room of a user.
func UserRoom(userID string) string { return "user_" + userID }

// TeamRoom returns the room of a team.
func TeamRoom(teamID string) string { return "team_" + teamID }

// Scope narrows a dashboard to a user and/or team.
type Scope struct {
	UserID string `json:"userId,omitempty"`
	TeamID string `json:"teamId,omitempty"`
}

// RoomFor derives the room a dashboard of type t must join for scope. The
// general dashboard has no room and returns an empty name.
func RoomFor(t DashboardType, scope Scope) (string, error) {
	switch t {
	case DashboardEmployee:
		if scope.UserID == "" {
			return "", apperrors.ErrScopeRequired
		}
		return UserRoom(scope.UserID), nil
	case DashboardTeamLead:
		if scope.TeamID == "" {
			return "", apperrors.ErrScopeRequired
		}
		return TeamRoom(scope.TeamID), nil
	case DashboardProjectManager:
		return RoomProjectManagers, nil
	case DashboardAdmin:
		return RoomAdmins, nil
	case DashboardGeneral:
		return "", nil
	}
	return "", apperrors.ErrInvalidDashboardType
}

// SnapshotSource records where a snapshot came from.
type SnapshotSource string

const (
	SourceInitial SnapshotSource = "initial"
	SourcePush    SnapshotSource = "push"
	SourcePoll    SnapshotSource = "poll"
)

// Snapshot is the latest known state of one dashboard. Snapshots are values:
// every update produces a new one.
type Snapshot struct {
	Type      DashboardType  `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Source    SnapshotSource `json:"source"`
}

// IsZero reports whether no snapshot has been produced yet.
func (s Snapshot) IsZero() bool {
	return s.Source == "" && s.Timestamp.IsZero()
}

// Merge returns a new snapshot with delta shallow-merged over the current
// payload. The receiver is not modified.
func (s Snapshot) Merge(delta map[string]any, ts time.Time, source SnapshotSource) Snapshot {
	payload := make(map[string]any, len(s.Payload)+len(delta))
	maps.Copy(payload, s.Payload)
	maps.Copy(payload, delta)
	return Snapshot{
		Type:      s.Type,
		Payload:   payload,
		Timestamp: ts,
		Source:    source,
	}
}

// DashboardData is the result of a pull fetch.
type DashboardData struct {
	Payload   map[string]any
	Timestamp time.Time
}

// DashboardState is the serializable status of a followed dashboard.
type DashboardState struct {
	Snapshot   Snapshot  `json:"snapshot"`
	Error      string    `json:"error,omitempty"`
	Connected  bool      `json:"connected"`
	Polling    bool      `json:"polling"`
	LastUpdate time.Time `json:"lastUpdate"`
}
