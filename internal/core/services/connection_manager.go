package services

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lorrc/dashboard-sync/internal/core/domain"
	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
	"github.com/lorrc/dashboard-sync/internal/infrastructure/clock"
	"golang.org/x/time/rate"
)

// ConnectionConfig controls the push channel lifecycle.
type ConnectionConfig struct {
	// MaxReconnectAttempts bounds the retry ladder. Exceeding it moves the
	// manager to the failed state.
	MaxReconnectAttempts int
	// ReconnectDelay is the fixed delay between attempts.
	ReconnectDelay time.Duration
	// HandshakeTimeout bounds a single dial.
	HandshakeTimeout time.Duration
	// RequestRate and RequestBurst throttle outbound request_* messages.
	// A non-positive rate disables throttling.
	RequestRate  float64
	RequestBurst int
	// QueueSize is the capacity of the delivery queue feeding the bus.
	QueueSize int
}

// DefaultConnectionConfig mirrors the web client: 5 attempts, 1s apart.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		HandshakeTimeout:     20 * time.Second,
		RequestRate:          2,
		RequestBurst:         5,
		QueueSize:            256,
	}
}

// ConnectionManager owns the single push channel of the process. Inbound
// frames are decoded at the boundary and delivered to the EventBus by the
// Run loop, one at a time, in arrival order.
type ConnectionManager struct {
	dialer  ports.ChannelDialer
	bus     *EventBus
	clock   clock.Clock
	limiter *rate.Limiter
	cfg     ConnectionConfig
	logger  *slog.Logger

	// mu serializes every state transition
	mu         sync.Mutex
	state      domain.ConnectionState
	identity   domain.Identity
	attempts   int
	conn       ports.ChannelConn
	socketID   string
	generation uint64
	retryTimer clock.Timer
	cancelDial context.CancelFunc
	closed     bool

	// rooms counts requesters per room; roomOrder keeps first-request order
	// for replay.
	rooms     map[string]int
	roomOrder []string

	inbound  chan domain.Message
	stop     chan struct{}
	stopOnce sync.Once
}

// Ensure ConnectionManager implements the RealtimeChannel interface.
var (
	_ ports.RealtimeChannel  = (*ConnectionManager)(nil)
	_ ports.ConnectionStatus = (*ConnectionManager)(nil)
)

// NewConnectionManager creates a manager in the disconnected state. Run
// must be started for inbound messages and connection events to reach
// the bus.
func NewConnectionManager(
	dialer ports.ChannelDialer,
	bus *EventBus,
	clk clock.Clock,
	cfg ConnectionConfig,
	logger *slog.Logger,
) *ConnectionManager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 20 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}
	burst := cfg.RequestBurst
	if burst <= 0 {
		burst = 1
	}

	return &ConnectionManager{
		dialer:  dialer,
		bus:     bus,
		clock:   clk,
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		logger:  logger.With("component", "connection_manager"),
		state:   domain.StateDisconnected,
		rooms:   make(map[string]int),
		inbound: make(chan domain.Message, cfg.QueueSize),
		stop:    make(chan struct{}),
	}
}

// Run delivers queued messages to the bus until ctx is done or Close is
// called. This MUST be run as a goroutine.
func (m *ConnectionManager) Run(ctx context.Context) {
	for {
		select {
		case msg := <-m.inbound:
			m.bus.Dispatch(msg)
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		}
	}
}

// Close disconnects and stops the delivery loop. The manager cannot be
// reused afterwards.
func (m *ConnectionManager) Close() {
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stop) })
}

// Connect starts the handshake for identity. It is a no-op while a
// connection exists or is being established. Outcomes are reported as
// connection events on the bus.
func (m *ConnectionManager) Connect(identity domain.Identity) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("connect ignored, manager closed")
		return
	}
	switch m.state {
	case domain.StateConnecting, domain.StateConnected, domain.StateReconnecting:
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "state", state.String())
		return
	}

	if err := identity.Validate(); err != nil {
		m.state = domain.StateFailed
		m.mu.Unlock()
		m.logger.Error("cannot connect without identity", "error", err)
		m.publish(domain.ConnectionEvent{Status: domain.StatusFailed, Reason: err.Error()})
		return
	}

	m.identity = identity
	m.state = domain.StateConnecting
	m.attempts = 0
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	m.logger.Info("connecting push channel",
		"user_id", identity.UserID,
		"role", identity.Role,
	)

	go m.dial(gen)
}

// Disconnect tears down the channel, forgets every requested room and
// cancels pending retries. It is idempotent.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	prev := m.state
	conn := m.conn

	m.generation++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.conn = nil
	m.socketID = ""
	m.rooms = make(map[string]int)
	m.roomOrder = nil
	m.attempts = 0
	m.state = domain.StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("error closing channel", "error", err)
		}
	}

	if prev != domain.StateDisconnected {
		m.logger.Info("push channel disconnected by client", "previous_state", prev.String())
		m.publish(domain.ConnectionEvent{Status: domain.StatusDisconnected, Reason: "client disconnect"})
	}
}

// dial performs one handshake attempt for generation gen.
func (m *ConnectionManager) dial(gen uint64) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	m.cancelDial = cancel
	identity := m.identity
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, identity, func(frame []byte) {
		m.handleFrame(gen, frame)
	})
	cancel()

	if err != nil {
		m.handleDialFailure(gen, err)
		return
	}
	m.handleConnected(gen, conn)
}

func (m *ConnectionManager) handleConnected(gen uint64, conn ports.ChannelConn) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		// Disconnected while the handshake was in flight.
		_ = conn.Close()
		return
	}

	attempts := m.attempts
	m.conn = conn
	m.socketID = conn.SocketID()
	m.cancelDial = nil
	m.attempts = 0
	m.state = domain.StateConnected

	// Membership does not survive a drop server-side. Replay every
	// requested room exactly once while holding the lock so concurrent
	// JoinRoom calls cannot duplicate or skip a room.
	for _, room := range m.roomOrder {
		if err := m.sendLocked(domain.OutJoinRoom, domain.RoomRequest{Room: room}); err != nil {
			m.logger.Warn("failed to rejoin room", "room", room, "error", err)
		}
	}
	rooms := len(m.roomOrder)
	socketID := m.socketID
	m.mu.Unlock()

	m.logger.Info("push channel connected",
		"socket_id", socketID,
		"attempts", attempts,
		"rooms_rejoined", rooms,
	)
	m.publish(domain.ConnectionEvent{
		Status:   domain.StatusConnected,
		SocketID: socketID,
		Attempts: attempts,
	})

	go m.watch(gen, conn)
}

func (m *ConnectionManager) watch(gen uint64, conn ports.ChannelConn) {
	select {
	case <-conn.Done():
		m.handleDrop(gen, conn.Err())
	case <-m.stop:
	}
}

func (m *ConnectionManager) handleDrop(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.generation || m.state != domain.StateConnected {
		m.mu.Unlock()
		return
	}

	m.conn = nil
	m.socketID = ""
	m.state = domain.StateReconnecting
	m.attempts = 0
	delay := m.scheduleRetryLocked(gen)
	m.mu.Unlock()

	reason := "connection lost"
	if cause != nil {
		reason = cause.Error()
	}

	m.logger.Warn("push channel dropped",
		"reason", reason,
		"retry_in_ms", delay.Milliseconds(),
	)
	m.publish(domain.ConnectionEvent{Status: domain.StatusDisconnected, Reason: reason})
}

func (m *ConnectionManager) handleDialFailure(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.cancelDial = nil

	terr := &apperrors.TransportError{Attempt: m.attempts, Err: err}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		attempts := m.attempts
		m.state = domain.StateFailed
		m.generation++
		m.mu.Unlock()

		m.logger.Error("push channel failed, giving up",
			"attempts", attempts,
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"error", terr,
		)
		m.publish(domain.ConnectionEvent{
			Status:   domain.StatusFailed,
			Reason:   err.Error(),
			Attempts: attempts,
		})
		return
	}

	m.state = domain.StateReconnecting
	delay := m.scheduleRetryLocked(gen)
	attempts := m.attempts
	m.mu.Unlock()

	m.logger.Warn("connection attempt failed",
		"attempt", attempts,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"retry_in_ms", delay.Milliseconds(),
		"error", terr,
	)
	m.publish(domain.ConnectionEvent{
		Status:   domain.StatusReconnecting,
		Reason:   err.Error(),
		Attempts: attempts,
	})
}

// scheduleRetryLocked arms the single retry timer for the next rung of the
// ladder. m.mu must be held.
func (m *ConnectionManager) scheduleRetryLocked(gen uint64) time.Duration {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.attempts++
	delay := m.cfg.ReconnectDelay
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.retry(gen) })
	return delay
}

func (m *ConnectionManager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != domain.StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.mu.Unlock()

	m.dial(gen)
}

// handleFrame decodes one inbound frame and queues it for delivery.
// Malformed and unrecognized frames are logged and dropped.
func (m *ConnectionManager) handleFrame(gen uint64, frame []byte) {
	m.mu.Lock()
	stale := gen != m.generation
	m.mu.Unlock()
	if stale {
		return
	}

	msg, err := domain.DecodeFrame(frame)
	if err != nil {
		var malformed *apperrors.MalformedMessageError
		if errors.As(err, &malformed) {
			m.logger.Warn("dropping malformed message", "kind", malformed.Kind, "error", malformed.Err)
		} else {
			m.logger.Warn("dropping message", "error", err)
		}
		return
	}

	switch msg := msg.(type) {
	case domain.UnrecognizedMessage:
		m.logger.Warn("dropping unrecognized message kind", "kind", msg.Name)
		return
	case domain.ConnectionEvent:
		// Connection events are published by the manager alone.
		m.logger.Debug("ignoring connection frame from server", "status", msg.Status)
		return
	}

	m.publish(msg)
}

func (m *ConnectionManager) publish(msg domain.Message) {
	select {
	case m.inbound <- msg:
	case <-m.stop:
	}
}

// JoinRoom requests membership of room. The join is sent immediately when
// connected and buffered otherwise; every requested room is rejoined after
// each successful (re)connection.
func (m *ConnectionManager) JoinRoom(room string) {
	if room == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rooms[room]++
	if m.rooms[room] > 1 {
		m.logger.Debug("room already requested", "room", room, "requesters", m.rooms[room])
		return
	}
	m.roomOrder = append(m.roomOrder, room)

	if m.state != domain.StateConnected {
		m.logger.Info("room join buffered until connected", "room", room, "state", m.state.String())
		return
	}
	if err := m.sendLocked(domain.OutJoinRoom, domain.RoomRequest{Room: room}); err != nil {
		m.logger.Warn("failed to join room", "room", room, "error", err)
		return
	}
	m.logger.Info("joined room", "room", room)
}

// LeaveRoom drops one request for room. The server is told only when the
// last requester leaves.
func (m *ConnectionManager) LeaveRoom(room string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, ok := m.rooms[room]
	if !ok {
		m.logger.Debug("leave ignored, room not requested", "room", room)
		return
	}
	if count > 1 {
		m.rooms[room] = count - 1
		return
	}
	delete(m.rooms, room)
	m.roomOrder = slices.DeleteFunc(m.roomOrder, func(r string) bool { return r == room })

	if m.state != domain.StateConnected {
		m.logger.Debug("room forgotten while not connected", "room", room)
		return
	}
	if err := m.sendLocked(domain.OutLeaveRoom, domain.RoomRequest{Room: room}); err != nil {
		m.logger.Warn("failed to leave room", "room", room, "error", err)
		return
	}
	m.logger.Info("left room", "room", room)
}

// Send writes one outbound message. It returns ErrNotConnected when the
// channel is down; data requests may also be refused with ErrRateLimited.
func (m *ConnectionManager) Send(kind domain.OutboundKind, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.StateConnected || m.conn == nil {
		m.logger.Warn("not connected, dropping outbound message", "kind", kind)
		return apperrors.ErrNotConnected
	}
	if kind.IsDataRequest() && !m.limiter.Allow() {
		m.logger.Warn("outbound request rate limited", "kind", kind)
		return apperrors.ErrRateLimited
	}
	return m.sendLocked(kind, payload)
}

func (m *ConnectionManager) sendLocked(kind domain.OutboundKind, payload any) error {
	frame, err := domain.EncodeFrame(string(kind), payload)
	if err != nil {
		return err
	}
	return m.conn.Send(frame)
}

// RequestDashboardData asks the server to push fresh data for a dashboard.
func (m *ConnectionManager) RequestDashboardData(dashboardType domain.DashboardType, filters map[string]any) error {
	if filters == nil {
		filters = map[string]any{}
	}
	return m.Send(domain.OutRequestDashboardData, domain.DashboardDataRequest{
		Type:      dashboardType,
		Filters:   filters,
		Timestamp: domain.NewTimestamp(m.clock.Now()),
	})
}

// RequestPerformanceData asks the server to push performance data for a user.
func (m *ConnectionManager) RequestPerformanceData(userID string, dateRange map[string]any) error {
	if dateRange == nil {
		dateRange = map[string]any{}
	}
	return m.Send(domain.OutRequestPerformanceData, domain.PerformanceDataRequest{
		UserID:    userID,
		DateRange: dateRange,
		Timestamp: domain.NewTimestamp(m.clock.Now()),
	})
}

// RequestTeamData asks the server to push team metrics.
func (m *ConnectionManager) RequestTeamData(teamID string, metrics []string) error {
	if metrics == nil {
		metrics = []string{}
	}
	return m.Send(domain.OutRequestTeamData, domain.TeamDataRequest{
		TeamID:    teamID,
		Metrics:   metrics,
		Timestamp: domain.NewTimestamp(m.clock.Now()),
	})
}

// IsConnected reports whether the channel is currently acknowledged.
func (m *ConnectionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == domain.StateConnected
}

// State returns the current connection state.
func (m *ConnectionManager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns a description of the channel for status reporting.
func (m *ConnectionManager) Info() domain.ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ConnectionInfo{
		State:    m.state.String(),
		SocketID: m.socketID,
		UserID:   m.identity.UserID,
		Attempts: m.attempts,
		Rooms:    slices.Clone(m.roomOrder),
	}
}
