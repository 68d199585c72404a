package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationStatus represents the delivery state of a storefront callback.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "PENDING"
	NotificationStatusDelivered NotificationStatus = "DELIVERED"
	NotificationStatusFailed    NotificationStatus = "FAILED"
)

// NotificationDeliveryLog records each callback delivery attempt to the
// storefront when an escrow changes state.
type NotificationDeliveryLog struct {
	ID          uuid.UUID          `json:"id"`
	EscrowID    uuid.UUID          `json:"escrow_id"`
	EventType   string             `json:"event_type"`
	CallbackURL string             `json:"callback_url"`
	Payload     string             `json:"payload"` // JSON string
	HTTPStatus  *int               `json:"http_status"`
	Attempt     int                `json:"attempt"`
	Status      NotificationStatus `json:"status"`
	LastError   *string            `json:"last_error"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
