package mocks

import (
	"context"

	"github.com/lorrc/dashboard-sync/internal/core/domain"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockDashboardFetcher is a mock implementation of ports.DashboardFetcher
type MockDashboardFetcher struct {
	mock.Mock
}

func NewMockDashboardFetcher() *MockDashboardFetcher {
	return &MockDashboardFetcher{}
}

func (m *MockDashboardFetcher) FetchDashboard(ctx context.Context, dashboardType domain.DashboardType, scope domain.Scope, filters map[string]any) (domain.DashboardData, error) {
	args := m.Called(ctx, dashboardType, scope, filters)
	return args.Get(0).(domain.DashboardData), args.Error(1)
}

// MockNotificationStore is a mock implementation of ports.NotificationStore
type MockNotificationStore struct {
	mock.Mock
}

func NewMockNotificationStore() *MockNotificationStore {
	return &MockNotificationStore{}
}

func (m *MockNotificationStore) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockNotificationStore) GetRecent(ctx context.Context, userID string, days int) ([]domain.Notification, error) {
	args := m.Called(ctx, userID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Notification), args.Error(1)
}

func (m *MockNotificationStore) GetPage(ctx context.Context, userID string, page, size int) (domain.NotificationPage, error) {
	args := m.Called(ctx, userID, page, size)
	return args.Get(0).(domain.NotificationPage), args.Error(1)
}

func (m *MockNotificationStore) MarkRead(ctx context.Context, userID string, ids []string) error {
	args := m.Called(ctx, userID, ids)
	return args.Error(0)
}

func (m *MockNotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// MockRealtimeChannel is a mock implementation of ports.RealtimeChannel
type MockRealtimeChannel struct {
	mock.Mock
}

func NewMockRealtimeChannel() *MockRealtimeChannel {
	return &MockRealtimeChannel{}
}

func (m *MockRealtimeChannel) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockRealtimeChannel) JoinRoom(name string) {
	m.Called(name)
}

func (m *MockRealtimeChannel) LeaveRoom(name string) {
	m.Called(name)
}

func (m *MockRealtimeChannel) RequestDashboardData(dashboardType domain.DashboardType, filters map[string]any) error {
	args := m.Called(dashboardType, filters)
	return args.Error(0)
}

// MockConnectionStatus is a mock implementation of ports.ConnectionStatus
type MockConnectionStatus struct {
	mock.Mock
}

func NewMockConnectionStatus() *MockConnectionStatus {
	return &MockConnectionStatus{}
}

func (m *MockConnectionStatus) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockConnectionStatus) Info() domain.ConnectionInfo {
	args := m.Called()
	return args.Get(0).(domain.ConnectionInfo)
}

// MockDashboardQuery is a mock implementation of ports.DashboardQuery
type MockDashboardQuery struct {
	mock.Mock
}

func NewMockDashboardQuery() *MockDashboardQuery {
	return &MockDashboardQuery{}
}

func (m *MockDashboardQuery) DashboardState(dashboardType domain.DashboardType) (domain.DashboardState, error) {
	args := m.Called(dashboardType)
	return args.Get(0).(domain.DashboardState), args.Error(1)
}

func (m *MockDashboardQuery) RefreshDashboard(ctx context.Context, dashboardType domain.DashboardType) (domain.DashboardState, error) {
	args := m.Called(ctx, dashboardType)
	return args.Get(0).(domain.DashboardState), args.Error(1)
}

// MockNotificationInbox is a mock implementation of ports.NotificationInbox
type MockNotificationInbox struct {
	mock.Mock
}

func NewMockNotificationInbox() *MockNotificationInbox {
	return &MockNotificationInbox{}
}

func (m *MockNotificationInbox) View() domain.NotificationView {
	args := m.Called()
	return args.Get(0).(domain.NotificationView)
}

func (m *MockNotificationInbox) FetchPage(ctx context.Context, page, size int) (domain.NotificationPage, error) {
	args := m.Called(ctx, page, size)
	return args.Get(0).(domain.NotificationPage), args.Error(1)
}

func (m *MockNotificationInbox) MarkAsRead(ctx context.Context, keys ...domain.NotificationKey) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *MockNotificationInbox) MarkAllAsRead(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockNotificationInbox) Remove(key domain.NotificationKey) error {
	args := m.Called(key)
	return args.Error(0)
}

// Ensure mocks implement their ports.
var (
	_ ports.DashboardFetcher  = (*MockDashboardFetcher)(nil)
	_ ports.NotificationStore = (*MockNotificationStore)(nil)
	_ ports.RealtimeChannel   = (*MockRealtimeChannel)(nil)
	_ ports.ConnectionStatus  = (*MockConnectionStatus)(nil)
	_ ports.DashboardQuery    = (*MockDashboardQuery)(nil)
	_ ports.NotificationInbox = (*MockNotificationInbox)(nil)
)
