package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mw "github.com/lorrc/dashboard-sync/internal/adapters/primary/http/middleware"
	"github.com/lorrc/dashboard-sync/internal/auth"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
	"github.com/lorrc/dashboard-sync/internal/core/mocks"
	"github.com/lorrc/dashboard-sync/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixture struct {
	channel       *mocks.MockConnectionStatus
	dashboards    *mocks.MockDashboardQuery
	notifications *mocks.MockNotificationInbox
	handler       stdhttp.Handler
}

func newFixture(t *testing.T, configure ...func(*RouterConfig)) *fixture {
	t.Helper()
	f := &fixture{
		channel:       mocks.NewMockConnectionStatus(),
		dashboards:    mocks.NewMockDashboardQuery(),
		notifications: mocks.NewMockNotificationInbox(),
	}
	cfg := RouterConfig{
		Channel:        f.channel,
		Dashboards:     f.dashboards,
		Notifications:  f.notifications,
		AllowedOrigins: []string{"http://localhost:3000"},
		Version:        "test",
		Logger:         logging.Discard(),
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	f.handler = NewRouter(cfg)
	t.Cleanup(func() {
		f.channel.AssertExpectations(t)
		f.dashboards.AssertExpectations(t)
		f.notifications.AssertExpectations(t)
	})
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *stdhttp.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthRoutes(t *testing.T) {
	connected := domain.ConnectionInfo{State: "connected", SocketID: "sock-1"}

	t.Run("liveness", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(stdhttp.MethodGet, "/health/live", "")

		assert.Equal(t, stdhttp.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decodeBody[HealthResponse](t, rec).Status)
	})

	t.Run("ready when connected", func(t *testing.T) {
		f := newFixture(t, func(c *RouterConfig) {
			c.Store = pingFunc(func(context.Context) error { return nil })
		})
		f.channel.On("Info").Return(connected)
		f.channel.On("IsConnected").Return(true)

		rec := f.do(stdhttp.MethodGet, "/health/ready", "")

		assert.Equal(t, stdhttp.StatusOK, rec.Code)
		body := decodeBody[HealthResponse](t, rec)
		assert.Equal(t, "healthy", body.Checks["channel"].Status)
		assert.Equal(t, "healthy", body.Checks["notification_store"].Status)
	})

	t.Run("not ready while reconnecting", func(t *testing.T) {
		f := newFixture(t)
		f.channel.On("Info").Return(domain.ConnectionInfo{State: "reconnecting", Attempts: 2})
		f.channel.On("IsConnected").Return(false)

		rec := f.do(stdhttp.MethodGet, "/health/ready", "")

		assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
		body := decodeBody[HealthResponse](t, rec)
		assert.Equal(t, "channel reconnecting", body.Checks["channel"].Message)
		assert.NotContains(t, body.Checks, "notification_store")
	})

	t.Run("not ready when store is down", func(t *testing.T) {
		f := newFixture(t, func(c *RouterConfig) {
			c.Store = pingFunc(func(context.Context) error { return assert.AnError })
		})
		f.channel.On("Info").Return(connected)
		f.channel.On("IsConnected").Return(true)

		rec := f.do(stdhttp.MethodGet, "/health/ready", "")

		assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
	})

	t.Run("detailed health reports degraded with 200", func(t *testing.T) {
		f := newFixture(t)
		f.channel.On("Info").Return(domain.ConnectionInfo{State: "failed"})
		f.channel.On("IsConnected").Return(false)

		rec := f.do(stdhttp.MethodGet, "/health", "")

		assert.Equal(t, stdhttp.StatusOK, rec.Code)
		assert.Equal(t, "degraded", decodeBody[HealthResponse](t, rec).Status)
	})
}

func TestConnectionRoute(t *testing.T) {
	f := newFixture(t)
	f.channel.On("Info").Return(domain.ConnectionInfo{
		State:    "connected",
		SocketID: "sock-1",
		UserID:   "42",
		Rooms:    []string{"user_42"},
	})
	f.channel.On("IsConnected").Return(true)

	rec := f.do(stdhttp.MethodGet, "/api/v1/connection", "")

	require.Equal(t, stdhttp.StatusOK, rec.Code)
	body := decodeBody[ConnectionResponse](t, rec)
	assert.True(t, body.Connected)
	assert.Equal(t, "sock-1", body.SocketID)
	assert.Equal(t, []string{"user_42"}, body.Rooms)
}

func TestDashboardRoutes(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := domain.DashboardState{
		Snapshot: domain.Snapshot{
			Type:      domain.DashboardEmployee,
			Payload:   map[string]any{"tasksDone": float64(3)},
			Timestamp: ts,
			Source:    domain.SourceInitial,
		},
		Connected:  true,
		LastUpdate: ts,
	}

	t.Run("get state", func(t *testing.T) {
		f := newFixture(t)
		f.dashboards.On("DashboardState", domain.DashboardEmployee).Return(state, nil)

		rec := f.do(stdhttp.MethodGet, "/api/v1/dashboards/Employee", "")

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		body := decodeBody[domain.DashboardState](t, rec)
		assert.Equal(t, state.Snapshot.Payload, body.Snapshot.Payload)
		assert.Equal(t, domain.SourceInitial, body.Snapshot.Source)
		assert.True(t, body.Connected)
	})

	t.Run("unknown type", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(stdhttp.MethodGet, "/api/v1/dashboards/finance", "")

		assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
		assert.Equal(t, "INVALID_DASHBOARD_TYPE", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("not followed", func(t *testing.T) {
		f := newFixture(t)
		f.dashboards.On("DashboardState", domain.DashboardAdmin).
			Return(domain.DashboardState{}, apperrors.ErrDashboardNotFollowed)

		rec := f.do(stdhttp.MethodGet, "/api/v1/dashboards/admin", "")

		assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
		assert.Equal(t, "DASHBOARD_NOT_FOLLOWED", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("refresh returns state with fetch error", func(t *testing.T) {
		f := newFixture(t)
		failed := state
		failed.Error = "fetch dashboard: upstream down"
		f.dashboards.On("RefreshDashboard", mock.Anything, domain.DashboardEmployee).Return(failed, nil)

		rec := f.do(stdhttp.MethodPost, "/api/v1/dashboards/employee/refresh", "")

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		assert.Equal(t, failed.Error, decodeBody[domain.DashboardState](t, rec).Error)
	})

	t.Run("refresh after close", func(t *testing.T) {
		f := newFixture(t)
		f.dashboards.On("RefreshDashboard", mock.Anything, domain.DashboardEmployee).
			Return(domain.DashboardState{}, apperrors.ErrHandleClosed)

		rec := f.do(stdhttp.MethodPost, "/api/v1/dashboards/employee/refresh", "")

		assert.Equal(t, stdhttp.StatusConflict, rec.Code)
	})
}

func TestNotificationRoutes(t *testing.T) {
	view := domain.NotificationView{
		Items: []domain.Notification{
			{ID: "e1", Source: domain.SourceEphemeral, Title: "Task assigned", Priority: domain.PriorityHigh},
			{ID: "1", Source: domain.SourcePersisted, Title: "Welcome", Priority: domain.PriorityMedium, IsRead: true},
		},
		EphemeralUnread: 1,
		UnreadTotal:     1,
		Loaded:          true,
	}

	t.Run("view", func(t *testing.T) {
		f := newFixture(t)
		f.notifications.On("View").Return(view)

		rec := f.do(stdhttp.MethodGet, "/api/v1/notifications", "")

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		body := decodeBody[domain.NotificationView](t, rec)
		assert.Len(t, body.Items, 2)
		assert.Equal(t, 1, body.UnreadTotal)
	})

	t.Run("empty view encodes items as a list", func(t *testing.T) {
		f := newFixture(t)
		f.notifications.On("View").Return(domain.NotificationView{})

		rec := f.do(stdhttp.MethodGet, "/api/v1/notifications", "")

		assert.Contains(t, rec.Body.String(), `"items":[]`)
	})

	t.Run("page", func(t *testing.T) {
		f := newFixture(t)
		f.notifications.On("FetchPage", mock.Anything, 2, 10).Return(domain.NotificationPage{
			TotalElements: 25, TotalPages: 3, Page: 2, Size: 10,
		}, nil)

		rec := f.do(stdhttp.MethodGet, "/api/v1/notifications/page?page=2&size=10", "")

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		body := decodeBody[domain.NotificationPage](t, rec)
		assert.Equal(t, int64(25), body.TotalElements)
		assert.NotNil(t, body.Notifications)
	})

	t.Run("page rejects oversized page", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(stdhttp.MethodGet, "/api/v1/notifications/page?size=1000", "")

		assert.Equal(t, stdhttp.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, decodeBody[ValidationErrorResponse](t, rec).Fields, "size")
	})

	t.Run("page upstream failure", func(t *testing.T) {
		f := newFixture(t)
		f.notifications.On("FetchPage", mock.Anything, 0, defaultPageSize).Return(domain.NotificationPage{},
			&apperrors.DataFetchError{Resource: "notifications", Err: assert.AnError})

		rec := f.do(stdhttp.MethodGet, "/api/v1/notifications/page", "")

		assert.Equal(t, stdhttp.StatusBadGateway, rec.Code)
	})

	t.Run("mark read", func(t *testing.T) {
		f := newFixture(t)
		want := []domain.NotificationKey{
			{Source: domain.SourcePersisted, ID: "1"},
			{Source: domain.SourceEphemeral, ID: "e1"},
		}
		f.notifications.On("MarkAsRead", mock.Anything, want).Return(nil)
		f.notifications.On("View").Return(view)

		rec := f.do(stdhttp.MethodPost, "/api/v1/notifications/read",
			`{"keys":[{"source":"persisted","id":"1"},{"source":"ephemeral","id":"e1"}]}`)

		assert.Equal(t, stdhttp.StatusOK, rec.Code)
	})

	t.Run("mark read validates keys", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(stdhttp.MethodPost, "/api/v1/notifications/read", `{"keys":[{"source":"local","id":"1"}]}`)

		assert.Equal(t, stdhttp.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, decodeBody[ValidationErrorResponse](t, rec).Fields, "keys[0].source")
	})

	t.Run("mark read rolled back", func(t *testing.T) {
		f := newFixture(t)
		f.notifications.On("MarkAsRead", mock.Anything, mock.Anything).
			Return(&apperrors.MarkReadError{IDs: []string{"1"}, Err: assert.AnError})

		rec := f.do(stdhttp.MethodPost, "/api/v1/notifications/read", `{"keys":[{"source":"persisted","id":"1"}]}`)

		assert.Equal(t, stdhttp.StatusBadGateway, rec.Code)
		assert.Equal(t, "MARK_READ_FAILED", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("mark all read", func(t *testing.T) {
		f := newFixture(t)
		f.notifications.On("MarkAllAsRead", mock.Anything).Return(nil)
		f.notifications.On("View").Return(view)

		rec := f.do(stdhttp.MethodPost, "/api/v1/notifications/read-all", "")

		assert.Equal(t, stdhttp.StatusOK, rec.Code)
	})

	t.Run("remove", func(t *testing.T) {
		f := newFixture(t)
		f.notifications.On("Remove", domain.NotificationKey{Source: domain.SourceEphemeral, ID: "e1"}).Return(nil)

		rec := f.do(stdhttp.MethodDelete, "/api/v1/notifications/ephemeral/e1", "")

		assert.Equal(t, stdhttp.StatusNoContent, rec.Code)
	})

	t.Run("remove unknown", func(t *testing.T) {
		f := newFixture(t)
		f.notifications.On("Remove", domain.NotificationKey{Source: domain.SourcePersisted, ID: "9"}).
			Return(apperrors.ErrNotificationNotFound)

		rec := f.do(stdhttp.MethodDelete, "/api/v1/notifications/persisted/9", "")

		assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	})

	t.Run("remove with bad source", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(stdhttp.MethodDelete, "/api/v1/notifications/local/9", "")

		assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	})
}

func TestRouter_Auth(t *testing.T) {
	tm := auth.NewTokenManager("status-secret", time.Hour)
	f := newFixture(t, func(c *RouterConfig) { c.TokenManager = tm })

	t.Run("api requires a token", func(t *testing.T) {
		rec := f.do(stdhttp.MethodGet, "/api/v1/connection", "")
		assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	})

	t.Run("probes stay public", func(t *testing.T) {
		rec := f.do(stdhttp.MethodGet, "/health/live", "")
		assert.Equal(t, stdhttp.StatusOK, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := tm.GenerateToken("42", "ADMIN", "")
		require.NoError(t, err)
		f.channel.On("Info").Return(domain.ConnectionInfo{State: "connected"}).Once()
		f.channel.On("IsConnected").Return(true).Once()

		req := httptest.NewRequest(stdhttp.MethodGet, "/api/v1/connection", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, stdhttp.StatusOK, rec.Code)
	})
}

func TestRouter_CORSAndRequestID(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(stdhttp.MethodOptions, "/api/v1/notifications", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", stdhttp.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(mw.RequestIDHeader))
}

func TestRouter_NotificationsDisabled(t *testing.T) {
	f := newFixture(t, func(c *RouterConfig) { c.Notifications = nil })

	rec := f.do(stdhttp.MethodGet, "/api/v1/notifications", "")

	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}
