package services

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
	"github.com/lorrc/dashboard-sync/internal/infrastructure/clock"
	"github.com/lorrc/dashboard-sync/internal/infrastructure/logging"
)

// SynchronizerConfig controls pull fetches and the polling fallback.
type SynchronizerConfig struct {
	PollInterval time.Duration
	FetchTimeout time.Duration
}

// DefaultSynchronizerConfig returns the production defaults.
func DefaultSynchronizerConfig() SynchronizerConfig {
	return SynchronizerConfig{
		PollInterval: 30 * time.Second,
		FetchTimeout: 15 * time.Second,
	}
}

// DashboardRequest describes the dashboard a consumer wants to follow.
type DashboardRequest struct {
	Type    domain.DashboardType
	Scope   domain.Scope
	Filters map[string]any
	// OnChange, if set, is called after every accepted snapshot or status
	// change. It must not block.
	OnChange func(DashboardStatus)
}

// DashboardStatus is what a consumer renders.
type DashboardStatus struct {
	Snapshot   domain.Snapshot
	Err        error
	Connected  bool
	Polling    bool
	LastUpdate time.Time
}

// State projects the status for primary adapters.
func (s DashboardStatus) State() domain.DashboardState {
	state := domain.DashboardState{
		Snapshot:   s.Snapshot,
		Connected:  s.Connected,
		Polling:    s.Polling,
		LastUpdate: s.LastUpdate,
	}
	if s.Err != nil {
		state.Error = s.Err.Error()
	}
	return state
}

// pushRule says which dashboards care about a data update and under which
// payload key the update is merged.
type pushRule struct {
	key   string
	types []domain.DashboardType
	match scopeMatch
}

type scopeMatch uint8

const (
	matchNone scopeMatch = iota
	// matchAssignee accepts updates assigned to the scoped user or team.
	matchAssignee
	// matchTeam accepts updates for the scoped team.
	matchTeam
)

var pushRules = map[domain.MessageKind]pushRule{
	domain.KindPerformanceUpdate: {
		key:   "performance",
		types: []domain.DashboardType{domain.DashboardEmployee, domain.DashboardTeamLead, domain.DashboardAdmin},
	},
	domain.KindTaskUpdate: {
		key:   "tasks",
		types: []domain.DashboardType{domain.DashboardAdmin},
		match: matchAssignee,
	},
	domain.KindTeamUpdate: {
		key:   "team",
		types: []domain.DashboardType{domain.DashboardAdmin},
		match: matchTeam,
	},
	domain.KindProjectUpdate: {
		key:   "projects",
		types: []domain.DashboardType{domain.DashboardProjectManager, domain.DashboardAdmin},
	},
	domain.KindSystemUpdate: {
		key:   "system",
		types: []domain.DashboardType{domain.DashboardAdmin},
	},
	domain.KindResourceUpdate: {
		key:   "resources",
		types: []domain.DashboardType{domain.DashboardProjectManager, domain.DashboardAdmin},
	},
	domain.KindWorktimeUpdate: {
		key:   "worktime",
		types: []domain.DashboardType{domain.DashboardEmployee, domain.DashboardTeamLead},
	},
}

// subscribes reports whether a dashboard of type t with scope could ever
// accept updates under this rule.
func (r pushRule) subscribes(t domain.DashboardType, scope domain.Scope) bool {
	if slices.Contains(r.types, t) {
		return true
	}
	switch r.match {
	case matchAssignee:
		return scope.UserID != "" || scope.TeamID != ""
	case matchTeam:
		return scope.TeamID != ""
	}
	return false
}

func (r pushRule) accepts(t domain.DashboardType, scope domain.Scope, u domain.DataUpdate) bool {
	if slices.Contains(r.types, t) {
		return true
	}
	switch r.match {
	case matchAssignee:
		return (scope.UserID != "" && u.AssignedTo == scope.UserID) ||
			(scope.TeamID != "" && u.TeamID == scope.TeamID)
	case matchTeam:
		return scope.TeamID != "" && u.TeamID == scope.TeamID
	}
	return false
}

// RelevantKinds returns the message kinds a dashboard subscribes to, in a
// stable order.
func RelevantKinds(t domain.DashboardType, scope domain.Scope) []domain.MessageKind {
	kinds := []domain.MessageKind{domain.KindDashboardUpdate}
	for kind, rule := range pushRules {
		if rule.subscribes(t, scope) {
			kinds = append(kinds, kind)
		}
	}
	slices.Sort(kinds[1:])
	return kinds
}

// DashboardSynchronizer hands out DashboardHandles. Every handle fuses an
// initial pull fetch, push deltas from the bus and a polling fallback that
// only runs while the channel is down.
type DashboardSynchronizer struct {
	fetcher ports.DashboardFetcher
	channel ports.RealtimeChannel
	bus     ports.MessageSubscriber
	clock   clock.Clock
	cfg     SynchronizerConfig
	logger  *slog.Logger

	mu      sync.Mutex
	handles map[uuid.UUID]*DashboardHandle
	nextSeq uint64
}

var _ ports.DashboardQuery = (*DashboardSynchronizer)(nil)

// NewDashboardSynchronizer creates a new synchronizer.
func NewDashboardSynchronizer(
	fetcher ports.DashboardFetcher,
	channel ports.RealtimeChannel,
	bus ports.MessageSubscriber,
	clk clock.Clock,
	cfg SynchronizerConfig,
	logger *slog.Logger,
) *DashboardSynchronizer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &DashboardSynchronizer{
		fetcher: fetcher,
		channel: channel,
		bus:     bus,
		clock:   clk,
		cfg:     cfg,
		logger:  logger.With("component", "dashboard_sync"),
		handles: make(map[uuid.UUID]*DashboardHandle),
	}
}

// Acquire starts following a dashboard. The initial fetch completes before
// Acquire returns; a failed fetch is reported through the handle's status,
// not as an error. The caller must Close the handle.
func (s *DashboardSynchronizer) Acquire(ctx context.Context, req DashboardRequest) (*DashboardHandle, error) {
	if !req.Type.IsValid() {
		return nil, apperrors.ErrInvalidDashboardType
	}
	room, err := domain.RoomFor(req.Type, req.Scope)
	if err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(context.Background())
	h := &DashboardHandle{
		id:       uuid.New(),
		req:      req,
		room:     room,
		sync:     s,
		ctx:      hctx,
		cancel:   cancel,
		snapshot: domain.Snapshot{Type: req.Type},
		keyTimes: make(map[string]time.Time),
	}
	h.logger = s.logger.With(
		"dashboard", string(req.Type),
		"handle_id", h.id,
	)

	h.mu.Lock()
	h.connected = s.channel.IsConnected()
	for _, kind := range RelevantKinds(req.Type, req.Scope) {
		h.unsubs = append(h.unsubs, s.bus.Subscribe(kind, h.handlePush))
	}
	h.unsubs = append(h.unsubs, s.bus.Subscribe(domain.KindConnection, h.handleConnection))
	if !h.connected {
		h.startPollLocked()
	}
	h.mu.Unlock()

	if room != "" {
		s.channel.JoinRoom(room)
	}

	s.mu.Lock()
	s.nextSeq++
	h.seq = s.nextSeq
	s.handles[h.id] = h
	s.mu.Unlock()

	h.logger.Info("dashboard acquired",
		"room", room,
		"connected", h.connected,
	)

	if err := h.fetch(ctx, domain.SourceInitial); err != nil {
		h.logger.Warn("initial dashboard fetch failed", "error", err)
	}
	return h, nil
}

// Lookup returns the oldest open handle for dashboardType, if any.
func (s *DashboardSynchronizer) Lookup(dashboardType domain.DashboardType) (*DashboardHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *DashboardHandle
	for _, h := range s.handles {
		if h.req.Type == dashboardType && (found == nil || h.seq < found.seq) {
			found = h
		}
	}
	return found, found != nil
}

// Active returns the number of open handles.
func (s *DashboardSynchronizer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// DashboardState returns the state of the open dashboard of type t.
func (s *DashboardSynchronizer) DashboardState(t domain.DashboardType) (domain.DashboardState, error) {
	h, ok := s.Lookup(t)
	if !ok {
		return domain.DashboardState{}, apperrors.ErrDashboardNotFollowed
	}
	return h.Status().State(), nil
}

// RefreshDashboard refreshes the open dashboard of type t and returns its
// resulting state. A failed fetch is reported in the state's error.
func (s *DashboardSynchronizer) RefreshDashboard(ctx context.Context, t domain.DashboardType) (domain.DashboardState, error) {
	h, ok := s.Lookup(t)
	if !ok {
		return domain.DashboardState{}, apperrors.ErrDashboardNotFollowed
	}
	if err := h.Refresh(ctx); err != nil && errors.Is(err, apperrors.ErrHandleClosed) {
		return domain.DashboardState{}, err
	}
	return h.Status().State(), nil
}

func (s *DashboardSynchronizer) release(h *DashboardHandle) {
	s.mu.Lock()
	delete(s.handles, h.id)
	s.mu.Unlock()
}

// DashboardHandle is one consumer's view of a dashboard. It is safe for
// concurrent use; after Close it never changes again.
type DashboardHandle struct {
	id     uuid.UUID
	req    DashboardRequest
	room   string
	seq    uint64 // acquisition order, set under sync.mu
	sync   *DashboardSynchronizer
	logger *slog.Logger

	// ctx is cancelled on Close to abandon in-flight fetches
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	snapshot   domain.Snapshot
	keyTimes   map[string]time.Time
	fetchedAt  time.Time
	err        error
	connected  bool
	lastUpdate time.Time
	pollTimer  clock.Timer
	pollGen    uint64
	unsubs     []func()
	closed     bool
	closeOnce  sync.Once
}

// ID returns the handle id.
func (h *DashboardHandle) ID() uuid.UUID { return h.id }

// Type returns the dashboard type.
func (h *DashboardHandle) Type() domain.DashboardType { return h.req.Type }

// Room returns the room joined for this dashboard, or "" for none.
func (h *DashboardHandle) Room() string { return h.room }

// Status returns the current snapshot together with error and connection
// flags.
func (h *DashboardHandle) Status() DashboardStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

func (h *DashboardHandle) statusLocked() DashboardStatus {
	return DashboardStatus{
		Snapshot:   h.snapshot,
		Err:        h.err,
		Connected:  h.connected,
		Polling:    h.pollTimer != nil,
		LastUpdate: h.lastUpdate,
	}
}

func (h *DashboardHandle) notify(status DashboardStatus) {
	if h.req.OnChange != nil {
		h.req.OnChange(status)
	}
}

// Refresh performs a pull fetch and, when connected, also asks the server
// to push fresh data. Whichever result carries the later timestamp wins.
func (h *DashboardHandle) Refresh(ctx context.Context) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return apperrors.ErrHandleClosed
	}

	if h.sync.channel.IsConnected() {
		if err := h.sync.channel.RequestDashboardData(h.req.Type, h.req.Filters); err != nil {
			h.logger.Debug("push refresh not requested", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	return h.fetch(ctx, domain.SourcePoll)
}

// fetch pulls the full dashboard and replaces the snapshot. The result is
// stamped with the time the request went out, so keys pushed while it was in
// flight keep their newer values. On failure the prior snapshot is kept and
// the error is recorded next to it.
func (h *DashboardHandle) fetch(ctx context.Context, source domain.SnapshotSource) error {
	ctx, cancel := context.WithTimeout(logging.WithDashboard(ctx, string(h.req.Type)), h.sync.cfg.FetchTimeout)
	defer cancel()

	issued := h.sync.clock.Now()
	data, err := h.sync.fetcher.FetchDashboard(ctx, h.req.Type, h.req.Scope, h.req.Filters)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.logger.Debug("discarding fetch result after close", "source", source)
		return apperrors.ErrHandleClosed
	}

	if err != nil {
		var fetchErr *apperrors.DataFetchError
		if !errors.As(err, &fetchErr) {
			fetchErr = &apperrors.DataFetchError{Resource: string(h.req.Type), Err: err}
		}
		h.err = fetchErr
		status := h.statusLocked()
		h.mu.Unlock()

		h.logger.Warn("dashboard fetch failed, keeping previous snapshot",
			"source", source,
			"error", err,
		)
		h.notify(status)
		return fetchErr
	}

	ts := data.Timestamp
	if ts.IsZero() {
		ts = issued
	}
	if ts.Before(h.fetchedAt) {
		fetchedAt := h.fetchedAt
		h.mu.Unlock()
		h.logger.Debug("discarding stale fetch result",
			"source", source,
			"fetched_at", ts,
			"previous_fetch_at", fetchedAt,
		)
		return nil
	}

	h.replaceLocked(data.Payload, ts, source)
	h.err = nil
	h.lastUpdate = h.sync.clock.Now()
	status := h.statusLocked()
	h.mu.Unlock()

	h.logger.Debug("dashboard snapshot replaced", "source", source)
	h.notify(status)
	return nil
}

// replaceLocked installs a payload fetched as of ts. Keys pushed after ts
// keep their pushed value; every other key comes from payload. h.mu must be
// held.
func (h *DashboardHandle) replaceLocked(payload map[string]any, ts time.Time, source domain.SnapshotSource) {
	next := make(map[string]any, len(payload))
	times := make(map[string]time.Time, len(payload))
	for k, v := range payload {
		next[k] = v
		times[k] = ts
	}
	for k, at := range h.keyTimes {
		if at.After(ts) {
			next[k] = h.snapshot.Payload[k]
			times[k] = at
		}
	}

	snap := domain.Snapshot{Type: h.req.Type, Payload: next, Timestamp: ts, Source: source}
	if h.snapshot.Timestamp.After(ts) {
		snap.Timestamp = h.snapshot.Timestamp
		snap.Source = h.snapshot.Source
	}
	h.snapshot = snap
	h.keyTimes = times
	h.fetchedAt = ts
}

// delta extracts the part of msg this dashboard merges, if any.
func (h *DashboardHandle) delta(msg domain.Message) (map[string]any, time.Time, bool) {
	switch m := msg.(type) {
	case domain.DashboardUpdate:
		if m.Type != h.req.Type && m.Type != domain.DashboardAll {
			return nil, time.Time{}, false
		}
		return m.Payload, m.Timestamp.Time, true
	case domain.DataUpdate:
		rule, ok := pushRules[m.MessageKind]
		if !ok || !rule.accepts(h.req.Type, h.req.Scope, m) {
			return nil, time.Time{}, false
		}
		return map[string]any{rule.key: m.Data}, m.Timestamp.Time, true
	}
	return nil, time.Time{}, false
}

func (h *DashboardHandle) handlePush(msg domain.Message) {
	delta, ts, ok := h.delta(msg)
	if !ok {
		return
	}
	if ts.IsZero() {
		ts = h.sync.clock.Now()
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if ts.Before(h.snapshot.Timestamp) {
		current := h.snapshot.Timestamp
		h.mu.Unlock()
		h.logger.Debug("discarding stale update",
			"kind", msg.Kind(),
			"update_at", ts,
			"snapshot_at", current,
		)
		return
	}
	h.snapshot = h.snapshot.Merge(delta, ts, domain.SourcePush)
	for k := range delta {
		h.keyTimes[k] = ts
	}
	h.lastUpdate = h.sync.clock.Now()
	status := h.statusLocked()
	h.mu.Unlock()

	h.notify(status)
}

func (h *DashboardHandle) handleConnection(msg domain.Message) {
	ev, ok := msg.(domain.ConnectionEvent)
	if !ok {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if ev.Status.Up() {
		h.connected = true
		h.stopPollLocked()
	} else {
		h.connected = false
		if h.pollTimer == nil {
			h.startPollLocked()
		}
	}
	status := h.statusLocked()
	h.mu.Unlock()

	h.logger.Debug("connection status changed",
		"status", ev.Status,
		"polling", status.Polling,
	)
	h.notify(status)
}

// startPollLocked replaces any running poll timer. h.mu must be held.
func (h *DashboardHandle) startPollLocked() {
	h.stopPollLocked()
	gen := h.pollGen
	h.pollTimer = h.sync.clock.AfterFunc(h.sync.cfg.PollInterval, func() { h.pollTick(gen) })
}

// stopPollLocked cancels the poll timer and invalidates ticks already
// running. h.mu must be held.
func (h *DashboardHandle) stopPollLocked() {
	if h.pollTimer != nil {
		h.pollTimer.Stop()
		h.pollTimer = nil
	}
	h.pollGen++
}

func (h *DashboardHandle) pollTick(gen uint64) {
	h.mu.Lock()
	if h.closed || gen != h.pollGen {
		h.mu.Unlock()
		return
	}
	if h.connected || h.sync.channel.IsConnected() {
		h.pollTimer = nil
		h.pollGen++
		h.mu.Unlock()
		return
	}
	h.pollTimer = h.sync.clock.AfterFunc(h.sync.cfg.PollInterval, func() { h.pollTick(gen) })
	h.mu.Unlock()

	if err := h.fetch(h.ctx, domain.SourcePoll); err != nil && !errors.Is(err, apperrors.ErrHandleClosed) {
		h.logger.Debug("poll fetch failed", "error", err)
	}
}

// Close stops following the dashboard: it unsubscribes, leaves the room and
// cancels the poll timer. In-flight fetches are abandoned. Close is
// idempotent.
func (h *DashboardHandle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.stopPollLocked()
		unsubs := h.unsubs
		h.unsubs = nil
		h.mu.Unlock()

		h.cancel()
		for _, unsub := range unsubs {
			unsub()
		}
		if h.room != "" {
			h.sync.channel.LeaveRoom(h.room)
		}
		h.sync.release(h)

		h.logger.Info("dashboard released")
	})
}
