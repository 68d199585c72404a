package postgres

import (
	"context"
	"fmt"

	"crypto-escrow-gateway/internal/core/domain"
)

// NotificationRepo implements ports.NotificationRepository.
type NotificationRepo struct {
	pool Pool
}

// NewNotificationRepo creates a new NotificationRepo.
func NewNotificationRepo(pool Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

// Create inserts a callback delivery log.
func (r *NotificationRepo) Create(ctx context.Context, log *domain.NotificationDeliveryLog) error {
	query := `INSERT INTO notification_log (id, escrow_id, event_type, callback_url, payload, http_status, attempt, status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		log.ID, log.EscrowID, log.EventType, log.CallbackURL, log.Payload,
		log.HTTPStatus, log.Attempt, string(log.Status), log.LastError,
		log.CreatedAt, log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

// Update records the latest delivery attempt outcome.
func (r *NotificationRepo) Update(ctx context.Context, log *domain.NotificationDeliveryLog) error {
	query := `UPDATE notification_log SET http_status = $1, attempt = $2, status = $3, last_error = $4, updated_at = $5
		WHERE id = $6`

	_, err := r.pool.Exec(ctx, query,
		log.HTTPStatus, log.Attempt, string(log.Status), log.LastError, log.UpdatedAt, log.ID,
	)
	if err != nil {
		return fmt.Errorf("update notification log: %w", err)
	}
	return nil
}
