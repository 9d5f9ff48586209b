package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
	"github.com/lorrc/dashboard-sync/internal/core/utils"
)

const notificationColumns = `id, notification_type, title, message, data, is_read, channel, created_at, read_at`

// NotificationStore reads and acknowledges persisted notifications
// directly in the notification service's table.
type NotificationStore struct {
	pool *pgxpool.Pool
	tx   *TransactionManager
}

var _ ports.NotificationStore = (*NotificationStore)(nil)

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{
		pool: pool,
		tx:   NewTransactionManager(pool),
	}
}

// Ping checks database connectivity.
func (s *NotificationStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var (
		n        domain.Notification
		data     map[string]any
		channel  pgtype.Text
		readAt   pgtype.Timestamptz
		kindName string
	)
	if err := row.Scan(&n.ID, &kindName, &n.Title, &n.Message, &data, &n.IsRead, &channel, &n.CreatedAt, &readAt); err != nil {
		return domain.Notification{}, err
	}

	n.Source = domain.SourcePersisted
	n.Type = kindName
	n.ReadAt = utils.FromTimestamptz(readAt)
	n.Priority = domain.PriorityMedium

	if len(data) > 0 {
		n.Payload = data
		if p := strings.ToUpper(utils.StringField(data, "priority")); p != "" {
			n.Priority = domain.Priority(p)
		}
		n.ActionURL = utils.StringField(data, "actionUrl")
	}
	if c := utils.FromString(channel); c != "" {
		if n.Payload == nil {
			n.Payload = make(map[string]any, 1)
		}
		n.Payload["channel"] = c
	}
	return n, nil
}

func collectNotifications(rows pgx.Rows) ([]domain.Notification, error) {
	defer rows.Close()

	out := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *NotificationStore) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	var count int64
	err := GetDBTX(ctx, s.pool).QueryRow(ctx,
		`SELECT count(*) FROM user_notifications WHERE user_id = $1 AND NOT is_read`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return int(count), nil
}

func (s *NotificationStore) GetRecent(ctx context.Context, userID string, days int) ([]domain.Notification, error) {
	rows, err := GetDBTX(ctx, s.pool).Query(ctx,
		`SELECT `+notificationColumns+`
		 FROM user_notifications
		 WHERE user_id = $1 AND created_at >= now() - make_interval(days => $2)
		 ORDER BY created_at DESC, id`,
		userID, days,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent notifications: %w", err)
	}
	return collectNotifications(rows)
}

// GetPage reads the page and the total inside one read-only transaction so
// both agree.
func (s *NotificationStore) GetPage(ctx context.Context, userID string, page, size int) (domain.NotificationPage, error) {
	if page < 0 || size <= 0 {
		return domain.NotificationPage{}, apperrors.ErrBadRequest
	}

	result := domain.NotificationPage{Page: page, Size: size}
	err := s.tx.WithReadOnlyTransaction(ctx, func(ctx context.Context, _ pgx.Tx) error {
		db := GetDBTX(ctx, s.pool)
		if err := db.QueryRow(ctx,
			`SELECT count(*) FROM user_notifications WHERE user_id = $1`,
			userID,
		).Scan(&result.TotalElements); err != nil {
			return err
		}

		rows, err := db.Query(ctx,
			`SELECT `+notificationColumns+`
			 FROM user_notifications
			 WHERE user_id = $1
			 ORDER BY created_at DESC, id
			 LIMIT $2 OFFSET $3`,
			userID, size, page*size,
		)
		if err != nil {
			return err
		}
		result.Notifications, err = collectNotifications(rows)
		return err
	})
	if err != nil {
		return domain.NotificationPage{}, fmt.Errorf("query notification page: %w", err)
	}

	result.TotalPages = int((result.TotalElements + int64(size) - 1) / int64(size))
	return result, nil
}

// markReadBatch bounds the id array bound to one UPDATE.
const markReadBatch = 100

// MarkRead flips the given ids. Ids that are already read or belong to
// another user are left alone. Large lists are split into batches that
// commit together or not at all.
func (s *NotificationStore) MarkRead(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for batch := range slices.Chunk(ids, markReadBatch) {
			if _, err := tx.Exec(ctx,
				`UPDATE user_notifications
				 SET is_read = TRUE, read_at = now()
				 WHERE user_id = $1 AND id = ANY($2) AND NOT is_read`,
				userID, batch,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	_, err := GetDBTX(ctx, s.pool).Exec(ctx,
		`UPDATE user_notifications
		 SET is_read = TRUE, read_at = now()
		 WHERE user_id = $1 AND NOT is_read`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}
