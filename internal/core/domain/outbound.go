package domain

// OutboundKind is the name of a client-to-server message.
type OutboundKind string

const (
	OutJoinRoom               OutboundKind = "join_room"
	OutLeaveRoom              OutboundKind = "leave_room"
	OutRequestDashboardData   OutboundKind = "request_dashboard_data"
	OutRequestPerformanceData OutboundKind = "request_performance_data"
	OutRequestTeamData        OutboundKind = "request_team_data"
)

// IsDataRequest reports whether k asks the server to push fresh data.
func (k OutboundKind) IsDataRequest() bool {
	switch k {
	case OutRequestDashboardData, OutRequestPerformanceData, OutRequestTeamData:
		return true
	}
	return false
}

// RoomRequest is the payload of join_room and leave_room.
type RoomRequest struct {
	Room string `json:"room"`
}

// DashboardDataRequest is the payload of request_dashboard_data.
type DashboardDataRequest struct {
	Type      DashboardType  `json:"type"`
	Filters   map[string]any `json:"filters"`
	Timestamp Timestamp      `json:"timestamp"`
}

// PerformanceDataRequest is the payload of request_performance_data.
type PerformanceDataRequest struct {
	UserID    string         `json:"userId"`
	DateRange map[string]any `json:"dateRange"`
	Timestamp Timestamp      `json:"timestamp"`
}

// TeamDataRequest is the payload of request_team_data.
type TeamDataRequest struct {
	TeamID    string    `json:"teamId"`
	Metrics   []string  `json:"metrics"`
	Timestamp Timestamp `json:"timestamp"`
}
