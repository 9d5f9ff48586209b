package domain_test

import (
	"testing"
	"time"

	"github.com/lorrc/dashboard-sync/internal/core/domain"
	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomFor(t *testing.T) {
	scope := domain.Scope{UserID: "42", TeamID: "7"}

	tests := []struct {
		dashboard domain.DashboardType
		scope     domain.Scope
		want      string
		err       error
	}{
		{domain.DashboardEmployee, scope, "user_42", nil},
		{domain.DashboardTeamLead, scope, "team_7", nil},
		{domain.DashboardProjectManager, domain.Scope{}, "project_managers", nil},
		{domain.DashboardAdmin, domain.Scope{}, "admins", nil},
		{domain.DashboardGeneral, domain.Scope{}, "", nil},
		{domain.DashboardEmployee, domain.Scope{TeamID: "7"}, "", apperrors.ErrScopeRequired},
		{domain.DashboardTeamLead, domain.Scope{UserID: "42"}, "", apperrors.ErrScopeRequired},
		{domain.DashboardAll, domain.Scope{}, "", apperrors.ErrInvalidDashboardType},
	}

	for _, tc := range tests {
		t.Run(string(tc.dashboard), func(t *testing.T) {
			room, err := domain.RoomFor(tc.dashboard, tc.scope)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, room)
		})
	}
}

func TestParseDashboardType(t *testing.T) {
	got, err := domain.ParseDashboardType(" Team-Lead ")
	require.NoError(t, err)
	assert.Equal(t, domain.DashboardTeamLead, got)

	_, err = domain.ParseDashboardType("all")
	assert.ErrorIs(t, err, apperrors.ErrInvalidDashboardType)
}

func TestSnapshot_Merge(t *testing.T) {
	base := domain.Snapshot{
		Type:      domain.DashboardAdmin,
		Payload:   map[string]any{"users": 1, "system": "ok"},
		Timestamp: time.UnixMilli(100),
		Source:    domain.SourceInitial,
	}

	merged := base.Merge(map[string]any{"users": 2}, time.UnixMilli(200), domain.SourcePush)

	assert.Equal(t, map[string]any{"users": 2, "system": "ok"}, merged.Payload)
	assert.Equal(t, time.UnixMilli(200), merged.Timestamp)
	assert.Equal(t, domain.SourcePush, merged.Source)
	assert.Equal(t, domain.DashboardAdmin, merged.Type)

	// The original is untouched.
	assert.Equal(t, 1, base.Payload["users"])
	assert.False(t, base.IsZero())
	assert.True(t, domain.Snapshot{Type: domain.DashboardAdmin}.IsZero())
}

func TestIdentity(t *testing.T) {
	id := domain.Identity{UserID: "42", Role: "ADMIN", Token: "secret"}

	assert.NoError(t, id.Validate())
	assert.NotContains(t, id.String(), "secret")
	assert.ErrorIs(t, domain.Identity{UserID: "42"}.Validate(), apperrors.ErrIdentityRequired)
}

func TestNotificationKey(t *testing.T) {
	key := domain.Notification{ID: "9", Source: domain.SourceEphemeral}.Key()
	assert.Equal(t, "ephemeral:9", key.String())

	src, err := domain.ParseNotificationSource("persisted")
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePersisted, src)

	_, err = domain.ParseNotificationSource("email")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSource)
}
