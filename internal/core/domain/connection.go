package domain

// ConnectionState is the state of the push channel state machine.
type ConnectionState uint8

const (
	// StateDisconnected indicates no channel and no retries scheduled.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates the first handshake is in progress.
	StateConnecting

	// StateConnected indicates an acknowledged, live channel.
	StateConnected

	// StateReconnecting indicates the retry ladder is running.
	StateReconnecting

	// StateFailed indicates the retry ladder was exhausted. Only an
	// explicit Connect leaves this state.
	StateFailed
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionInfo is a point-in-time description of the channel.
type ConnectionInfo struct {
	State    string   `json:"state"`
	SocketID string   `json:"socketId,omitempty"`
	UserID   string   `json:"userId,omitempty"`
	Attempts int      `json:"reconnectAttempts"`
	Rooms    []string `json:"rooms"`
}
