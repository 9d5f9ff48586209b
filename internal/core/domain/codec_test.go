package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lorrc/dashboard-sync/internal/core/domain"
	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	t.Run("connection event", func(t *testing.T) {
		msg, err := domain.DecodeFrame([]byte(`{"type":"connection","payload":{"status":"connected","socketId":"abc"}}`))

		require.NoError(t, err)
		ev, ok := msg.(domain.ConnectionEvent)
		require.True(t, ok)
		assert.Equal(t, domain.StatusConnected, ev.Status)
		assert.Equal(t, "abc", ev.SocketID)
		assert.Equal(t, domain.KindConnection, msg.Kind())
	})

	t.Run("dashboard update with millisecond timestamp", func(t *testing.T) {
		msg, err := domain.DecodeFrame([]byte(`{"type":"dashboard_update","payload":{"type":"admin","payload":{"users":3},"timestamp":1700000000000}}`))

		require.NoError(t, err)
		u := msg.(domain.DashboardUpdate)
		assert.Equal(t, domain.DashboardAdmin, u.Type)
		assert.Equal(t, float64(3), u.Payload["users"])
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), u.Timestamp.UTC())
	})

	t.Run("dashboard update for all dashboards", func(t *testing.T) {
		msg, err := domain.DecodeFrame([]byte(`{"type":"dashboard_update","payload":{"type":"all","payload":{}}}`))

		require.NoError(t, err)
		assert.Equal(t, domain.DashboardAll, msg.(domain.DashboardUpdate).Type)
	})

	t.Run("data update keeps numeric ids", func(t *testing.T) {
		msg, err := domain.DecodeFrame([]byte(`{"type":"team_update","payload":{"teamId":7,"timestamp":"2024-03-01T09:00:00Z","velocity":12.5}}`))

		require.NoError(t, err)
		u := msg.(domain.DataUpdate)
		assert.Equal(t, domain.KindTeamUpdate, u.Kind())
		assert.Equal(t, "7", u.TeamID)
		assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), u.Timestamp.Time)
		assert.Equal(t, json.Number("12.5"), u.Data["velocity"])
	})

	t.Run("notification id falls back to id", func(t *testing.T) {
		msg, err := domain.DecodeFrame([]byte(`{"type":"notification","payload":{"id":99,"title":"Hi","priority":"HIGH"}}`))

		require.NoError(t, err)
		n := msg.(domain.NotificationPush)
		assert.Equal(t, "99", n.ID)
		assert.Equal(t, "Hi", n.Title)
		assert.Equal(t, domain.PriorityHigh, n.Priority)
	})

	t.Run("unknown kind is an explicit variant", func(t *testing.T) {
		msg, err := domain.DecodeFrame([]byte(`{"type":"calendar_update","payload":{"x":1}}`))

		require.NoError(t, err)
		u, ok := msg.(domain.UnrecognizedMessage)
		require.True(t, ok)
		assert.Equal(t, "calendar_update", u.Name)
		assert.Equal(t, domain.KindUnrecognized, msg.Kind())
		assert.False(t, domain.IsRecognized("calendar_update"))
	})

	malformed := []struct {
		name  string
		frame string
	}{
		{"not json", `{{`},
		{"missing type", `{"payload":{}}`},
		{"payload not an object", `{"type":"task_update","payload":[1,2]}`},
		{"empty payload", `{"type":"performance_update"}`},
		{"bad timestamp", `{"type":"task_update","payload":{"timestamp":"yesterday"}}`},
		{"connection without status", `{"type":"connection","payload":{}}`},
		{"unknown dashboard type", `{"type":"dashboard_update","payload":{"type":"sales"}}`},
	}
	for _, tc := range malformed {
		t.Run("malformed "+tc.name, func(t *testing.T) {
			msg, err := domain.DecodeFrame([]byte(tc.frame))

			assert.Nil(t, msg)
			var malformedErr *apperrors.MalformedMessageError
			assert.ErrorAs(t, err, &malformedErr)
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	frame, err := domain.EncodeFrame(string(domain.OutJoinRoom), domain.RoomRequest{Room: "team_7"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join_room","payload":{"room":"team_7"}}`, string(frame))

	frame, err = domain.EncodeFrame(string(domain.OutRequestDashboardData), domain.DashboardDataRequest{
		Type:      domain.DashboardEmployee,
		Filters:   map[string]any{},
		Timestamp: domain.NewTimestamp(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"request_dashboard_data","payload":{"type":"employee","filters":{},"timestamp":"2024-03-01T09:00:00Z"}}`,
		string(frame))
}

func TestTimestamp(t *testing.T) {
	t.Run("null and empty are zero", func(t *testing.T) {
		var ts domain.Timestamp
		require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
		assert.True(t, ts.IsZero())
		require.NoError(t, json.Unmarshal([]byte(`""`), &ts))
		assert.True(t, ts.IsZero())
	})

	t.Run("zero encodes as null", func(t *testing.T) {
		b, err := json.Marshal(domain.Timestamp{})
		require.NoError(t, err)
		assert.Equal(t, "null", string(b))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		var ts domain.Timestamp
		assert.Error(t, json.Unmarshal([]byte(`"soon"`), &ts))
		assert.Error(t, json.Unmarshal([]byte(`true`), &ts))
	})
}

func TestOutboundKind_IsDataRequest(t *testing.T) {
	assert.True(t, domain.OutRequestDashboardData.IsDataRequest())
	assert.True(t, domain.OutRequestTeamData.IsDataRequest())
	assert.False(t, domain.OutJoinRoom.IsDataRequest())
	assert.False(t, domain.OutLeaveRoom.IsDataRequest())
}
