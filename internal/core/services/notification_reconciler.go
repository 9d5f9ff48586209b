package services

import (
	"cmp"
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
	"golang.org/x/sync/errgroup"
)

// ReconcilerConfig controls the notification reconciler.
type ReconcilerConfig struct {
	UserID string
	// RecentDays bounds the persisted notifications loaded up front.
	RecentDays int
	// UnreadRefreshInterval is the period of the unread count refresh. Zero
	// disables it.
	UnreadRefreshInterval time.Duration
	RequestTimeout        time.Duration
	// MaxEphemeral caps the in-memory live notifications; the oldest are
	// dropped first.
	MaxEphemeral int
}

// DefaultReconcilerConfig returns the production defaults for userID.
func DefaultReconcilerConfig(userID string) ReconcilerConfig {
	return ReconcilerConfig{
		UserID:                userID,
		RecentDays:            7,
		UnreadRefreshInterval: 30 * time.Second,
		RequestTimeout:        15 * time.Second,
		MaxEphemeral:          100,
	}
}

// NotificationReconciler merges persisted notifications, whose read state
// the server acknowledges, with ephemeral notifications from the push
// channel, whose read state is local. Ids are namespaced by source so the
// two sets never overlap.
//
// Read state of persisted notifications is changed optimistically: a
// pending-operation record shadows the durable flag until the server
// answers, and is dropped again on failure.
type NotificationReconciler struct {
	store  ports.NotificationStore
	clock  clock.Clock
	cfg    ReconcilerConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	persisted map[string]domain.Notification
	ephemeral map[string]domain.Notification
	// pending holds persisted ids with a mark-read request in flight
	pending    map[string]struct{}
	pendingAll bool
	// serverUnread is the last unread count reported by the server,
	// adjusted for acknowledged mark-read requests
	serverUnread int
	loaded       bool
	err          error
	onChange     func(domain.NotificationView)
	refreshTimer clock.Timer
	unsubs       []func()
	closed       bool
	closeOnce    sync.Once
}

var _ ports.NotificationInbox = (*NotificationReconciler)(nil)

// NewNotificationReconciler creates a reconciler subscribed to every live
// notification kind on bus. LoadInitial fetches the persisted side.
func NewNotificationReconciler(
	store ports.NotificationStore,
	bus ports.MessageSubscriber,
	clk clock.Clock,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *NotificationReconciler {
	if cfg.RecentDays <= 0 {
		cfg.RecentDays = 7
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxEphemeral <= 0 {
		cfg.MaxEphemeral = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &NotificationReconciler{
		store:     store,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With("component", "notification_reconciler", "user_id", cfg.UserID),
		ctx:       ctx,
		cancel:    cancel,
		persisted: make(map[string]domain.Notification),
		ephemeral: make(map[string]domain.Notification),
		pending:   make(map[string]struct{}),
	}

	for _, kind := range domain.NotificationKinds {
		r.unsubs = append(r.unsubs, bus.Subscribe(kind, r.handlePush))
	}

	r.mu.Lock()
	r.scheduleRefreshLocked()
	r.mu.Unlock()

	return r
}

// OnChange registers fn to receive the view after every change. It must
// not block.
func (r *NotificationReconciler) OnChange(fn func(domain.NotificationView)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *NotificationReconciler) notify(view domain.NotificationView) {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn(view)
	}
}

// LoadInitial fetches the unread count and recent persisted notifications
// concurrently. The ephemeral side is left untouched.
func (r *NotificationReconciler) LoadInitial(ctx context.Context) error {
	ctx, cancel := r.requestContext(ctx)
	defer cancel()

	var (
		count  int
		recent []domain.Notification
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		count, err = r.store.GetUnreadCount(gctx, r.cfg.UserID)
		if err != nil {
			return &apperrors.DataFetchError{Resource: "unread-count", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recent, err = r.store.GetRecent(gctx, r.cfg.UserID, r.cfg.RecentDays)
		if err != nil {
			return &apperrors.DataFetchError{Resource: "recent-notifications", Err: err}
		}
		return nil
	})
	err := g.Wait()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.ErrHandleClosed
	}
	if err != nil {
		r.err = err
		view := r.viewLocked()
		r.mu.Unlock()
		r.logger.Warn("failed to load notifications", "error", err)
		r.notify(view)
		return err
	}

	r.mergePersistedLocked(recent)
	r.serverUnread = count
	r.loaded = true
	r.err = nil
	view := r.viewLocked()
	r.mu.Unlock()

	r.logger.Info("notifications loaded",
		"unread", count,
		"recent", len(recent),
	)
	r.notify(view)
	return nil
}

// RefreshUnreadCount re-reads the server unread count. It is skipped while
// a mark-read request is pending so the optimistic view is not overwritten
// by a count taken before the server applied it.
func (r *NotificationReconciler) RefreshUnreadCount(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.ErrHandleClosed
	}
	if r.hasPendingLocked() {
		r.mu.Unlock()
		r.logger.Debug("unread refresh skipped, mark-read pending")
		return nil
	}
	r.mu.Unlock()

	ctx, cancel := r.requestContext(ctx)
	defer cancel()

	count, err := r.store.GetUnreadCount(ctx, r.cfg.UserID)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.ErrHandleClosed
	}
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("failed to refresh unread count", "error", err)
		return &apperrors.DataFetchError{Resource: "unread-count", Err: err}
	}
	if r.hasPendingLocked() {
		// A mark-read started while the count was in flight.
		r.mu.Unlock()
		return nil
	}
	changed := r.serverUnread != count
	r.serverUnread = count
	view := r.viewLocked()
	r.mu.Unlock()

	if changed {
		r.notify(view)
	}
	return nil
}

// RefreshRecent reloads recent persisted notifications and merges them in.
// Items already read locally stay read.
func (r *NotificationReconciler) RefreshRecent(ctx context.Context) error {
	ctx, cancel := r.requestContext(ctx)
	defer cancel()

	recent, err := r.store.GetRecent(ctx, r.cfg.UserID, r.cfg.RecentDays)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.ErrHandleClosed
	}
	if err != nil {
		r.mu.Unlock()
		return &apperrors.DataFetchError{Resource: "recent-notifications", Err: err}
	}
	r.mergePersistedLocked(recent)
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
	return nil
}

// FetchPage returns one page of persisted notifications and merges its
// items into the view.
func (r *NotificationReconciler) FetchPage(ctx context.Context, page, size int) (domain.NotificationPage, error) {
	ctx, cancel := r.requestContext(ctx)
	defer cancel()

	result, err := r.store.GetPage(ctx, r.cfg.UserID, page, size)
	if err != nil {
		return domain.NotificationPage{}, &apperrors.DataFetchError{Resource: "notifications", Err: err}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return result, nil
	}
	r.mergePersistedLocked(result.Notifications)
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
	return result, nil
}

// mergePersistedLocked upserts server notifications. A notification read
// locally is never made unread again. r.mu must be held.
func (r *NotificationReconciler) mergePersistedLocked(items []domain.Notification) {
	for _, n := range items {
		n.Source = domain.SourcePersisted
		if existing, ok := r.persisted[n.ID]; ok && existing.IsRead && !n.IsRead {
			n.IsRead = true
			n.ReadAt = existing.ReadAt
		}
		r.persisted[n.ID] = n
	}
}

// OnEphemeralArrival adds a live notification. A missing id is generated;
// an id already present replaces the content but keeps the read flag.
func (r *NotificationReconciler) OnEphemeralArrival(n domain.Notification) {
	now := r.clock.Now()
	n.Source = domain.SourceEphemeral
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityMedium
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if existing, ok := r.ephemeral[n.ID]; ok && existing.IsRead {
		n.IsRead = true
		n.ReadAt = existing.ReadAt
	}
	r.ephemeral[n.ID] = n
	r.trimEphemeralLocked()
	view := r.viewLocked()
	r.mu.Unlock()

	r.logger.Debug("ephemeral notification received",
		"notification_id", n.ID,
		"type", n.Type,
		"priority", n.Priority,
	)
	r.notify(view)
}

func (r *NotificationReconciler) handlePush(msg domain.Message) {
	push, ok := msg.(domain.NotificationPush)
	if !ok {
		return
	}
	r.OnEphemeralArrival(notificationFromPush(push, r.clock.Now()))
}

func (r *NotificationReconciler) trimEphemeralLocked() {
	excess := len(r.ephemeral) - r.cfg.MaxEphemeral
	if excess <= 0 {
		return
	}
	items := make([]domain.Notification, 0, len(r.ephemeral))
	for _, n := range r.ephemeral {
		items = append(items, n)
	}
	slices.SortFunc(items, func(a, b domain.Notification) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	for _, n := range items[:excess] {
		delete(r.ephemeral, n.ID)
	}
}

// MarkAsRead marks the given notifications read. Ephemeral ones flip
// locally. Every persisted id goes out in one request, including ids
// outside the loaded window; loaded ones flip optimistically and revert on
// failure, in which case a *MarkReadError is returned. Notifications already
// read or pending are skipped, so repeating a call is a no-op.
func (r *NotificationReconciler) MarkAsRead(ctx context.Context, keys ...domain.NotificationKey) error {
	for _, key := range keys {
		if _, err := domain.ParseNotificationSource(string(key.Source)); err != nil {
			return err
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.ErrHandleClosed
	}

	now := r.clock.Now()
	var ids []string
	changed := false
	for _, key := range keys {
		switch key.Source {
		case domain.SourcePersisted:
			n, loaded := r.persisted[key.ID]
			if (loaded && n.IsRead) || r.pendingAll || r.isPendingLocked(key.ID) {
				continue
			}
			r.pending[key.ID] = struct{}{}
			ids = append(ids, key.ID)
			if loaded {
				changed = true
			}
		case domain.SourceEphemeral:
			n, ok := r.ephemeral[key.ID]
			if !ok || n.IsRead {
				continue
			}
			n.IsRead = true
			n.ReadAt = &now
			r.ephemeral[key.ID] = n
			changed = true
		}
	}
	view := r.viewLocked()
	r.mu.Unlock()

	if changed {
		r.notify(view)
	}
	if len(ids) == 0 {
		return nil
	}

	reqCtx, cancel := r.requestContext(ctx)
	defer cancel()
	err := r.store.MarkRead(reqCtx, r.cfg.UserID, ids)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.ErrHandleClosed
	}
	for _, id := range ids {
		delete(r.pending, id)
	}
	if err != nil {
		view := r.viewLocked()
		r.mu.Unlock()

		r.logger.Warn("mark read failed, rolled back", "ids", ids, "error", err)
		r.notify(view)
		return &apperrors.MarkReadError{IDs: ids, Err: err}
	}

	// Unloaded ids are assumed unread until the next count corrects it.
	readAt := r.clock.Now()
	flipped := 0
	for _, id := range ids {
		n, ok := r.persisted[id]
		if !ok {
			flipped++
			continue
		}
		if n.IsRead {
			continue
		}
		n.IsRead = true
		n.ReadAt = &readAt
		r.persisted[id] = n
		flipped++
	}
	r.serverUnread = max(0, r.serverUnread-flipped)
	view = r.viewLocked()
	r.mu.Unlock()

	r.logger.Info("notifications marked read", "count", flipped)
	r.notify(view)
	return nil
}

// MarkAllAsRead marks every ephemeral notification read locally and every
// persisted one with a single awaited request. The view reports Pending
// until that request resolves; on failure persisted items revert.
func (r *NotificationReconciler) MarkAllAsRead(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.ErrHandleClosed
	}
	if r.pendingAll {
		r.mu.Unlock()
		return nil
	}

	now := r.clock.Now()
	for id, n := range r.ephemeral {
		if n.IsRead {
			continue
		}
		n.IsRead = true
		n.ReadAt = &now
		r.ephemeral[id] = n
	}
	r.pendingAll = true
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)

	reqCtx, cancel := r.requestContext(ctx)
	defer cancel()
	err := r.store.MarkAllRead(reqCtx, r.cfg.UserID)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.ErrHandleClosed
	}
	r.pendingAll = false
	if err != nil {
		view := r.viewLocked()
		r.mu.Unlock()

		r.logger.Warn("mark all read failed, rolled back", "error", err)
		r.notify(view)
		return &apperrors.MarkReadError{All: true, Err: err}
	}

	readAt := r.clock.Now()
	for id, n := range r.persisted {
		if n.IsRead {
			continue
		}
		n.IsRead = true
		n.ReadAt = &readAt
		r.persisted[id] = n
	}
	r.serverUnread = 0
	view = r.viewLocked()
	r.mu.Unlock()

	r.logger.Info("all notifications marked read")
	r.notify(view)
	return nil
}

// Remove drops a notification from the view. Persisted notifications are
// only removed locally.
func (r *NotificationReconciler) Remove(key domain.NotificationKey) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.ErrHandleClosed
	}

	switch key.Source {
	case domain.SourcePersisted:
		n, ok := r.persisted[key.ID]
		if !ok {
			r.mu.Unlock()
			return apperrors.ErrNotificationNotFound
		}
		delete(r.persisted, key.ID)
		if !n.IsRead {
			r.serverUnread = max(0, r.serverUnread-1)
		}
	case domain.SourceEphemeral:
		if _, ok := r.ephemeral[key.ID]; !ok {
			r.mu.Unlock()
			return apperrors.ErrNotificationNotFound
		}
		delete(r.ephemeral, key.ID)
	default:
		r.mu.Unlock()
		return apperrors.ErrInvalidSource
	}
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
	return nil
}

// View returns the merged notifications, newest first, with unread counts.
func (r *NotificationReconciler) View() domain.NotificationView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *NotificationReconciler) hasPendingLocked() bool {
	return r.pendingAll || len(r.pending) > 0
}

func (r *NotificationReconciler) isPendingLocked(id string) bool {
	_, ok := r.pending[id]
	return ok
}

// viewLocked derives the merged view. Persisted unread is the unread count
// of loaded items plus the server-reported unread items that are not
// loaded. r.mu must be held.
func (r *NotificationReconciler) viewLocked() domain.NotificationView {
	items := make([]domain.Notification, 0, len(r.persisted)+len(r.ephemeral))

	durableUnread := 0
	persistedUnread := 0
	for id, n := range r.persisted {
		if !n.IsRead {
			durableUnread++
		}
		if !n.IsRead && (r.pendingAll || r.isPendingLocked(id)) {
			n.IsRead = true
		}
		if !n.IsRead {
			persistedUnread++
		}
		items = append(items, n)
	}
	if !r.pendingAll {
		persistedUnread += max(0, r.serverUnread-durableUnread)
	}

	ephemeralUnread := 0
	for _, n := range r.ephemeral {
		if !n.IsRead {
			ephemeralUnread++
		}
		items = append(items, n)
	}

	slices.SortFunc(items, func(a, b domain.Notification) int {
		return cmp.Or(
			b.CreatedAt.Compare(a.CreatedAt),
			cmp.Compare(a.Source, b.Source),
			cmp.Compare(a.ID, b.ID),
		)
	})

	view := domain.NotificationView{
		Items:           items,
		PersistedUnread: persistedUnread,
		EphemeralUnread: ephemeralUnread,
		UnreadTotal:     persistedUnread + ephemeralUnread,
		Pending:         r.hasPendingLocked(),
		Loaded:          r.loaded,
	}
	if r.err != nil {
		view.Error = r.err.Error()
	}
	return view
}

// scheduleRefreshLocked arms the unread count refresh. r.mu must be held.
func (r *NotificationReconciler) scheduleRefreshLocked() {
	if r.cfg.UnreadRefreshInterval <= 0 {
		return
	}
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
	}
	r.refreshTimer = r.clock.AfterFunc(r.cfg.UnreadRefreshInterval, r.refreshTick)
}

func (r *NotificationReconciler) refreshTick() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.scheduleRefreshLocked()
	r.mu.Unlock()

	if err := r.RefreshUnreadCount(r.ctx); err != nil && !errors.Is(err, apperrors.ErrHandleClosed) {
		r.logger.Debug("scheduled unread refresh failed", "error", err)
	}
}

// requestContext bounds a store call by the request timeout and by Close.
func (r *NotificationReconciler) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	stop := context.AfterFunc(r.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Close unsubscribes from the bus and stops the refresh timer. In-flight
// requests are abandoned and their results discarded. Close is idempotent.
func (r *NotificationReconciler) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		if r.refreshTimer != nil {
			r.refreshTimer.Stop()
			r.refreshTimer = nil
		}
		unsubs := r.unsubs
		r.unsubs = nil
		r.mu.Unlock()

		r.cancel()
		for _, unsub := range unsubs {
			unsub()
		}
		r.logger.Info("notification reconciler closed")
	})
}
