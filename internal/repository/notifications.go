package repository

import (
	"context"
	"fmt"

	"boxoffice/internal/database"
)

// NotificationRepository is the ledger of processed checkout notifications.
type NotificationRepository struct {
	db *database.DB
}

func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// MarkProcessed records a notification id. It returns false when the id is already in the ledger.
// Inside a transaction a concurrent insert of the same id blocks on the unique index until the
// other transaction ends.
func (r *NotificationRepository) MarkProcessed(ctx context.Context, notificationID, eventType string) (bool, error) {
	query := `
		INSERT INTO processed_notifications (notification_id, type)
		VALUES ($1, $2)
		ON CONFLICT (notification_id) DO NOTHING`

	res, err := r.db.Conn(ctx).ExecContext(ctx, query, notificationID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record notification %s: %w", notificationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
