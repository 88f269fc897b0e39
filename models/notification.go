package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	NotificationOrderConfirmation = "order_confirmation"
	NotificationOrderShipped      = "order_shipped"
	NotificationEmailVerification = "email_verification"
)

const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// Stages of a notification's life recorded in the log.
const (
	NotificationStageDispatch = "dispatch"
	NotificationStagePublish  = "publish"
	NotificationStageDelivery = "delivery"
)

// NotificationEvent is the message published to the notification queue
// after an order transaction commits.
type NotificationEvent struct {
	Type           string          `json:"type"`
	OrderID        int64           `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	UserID         int64           `json:"user_id"`
	Total          decimal.Decimal `json:"total"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	CargoCompany   string          `json:"cargo_company,omitempty"`
	Items          []OrderItem     `json:"items"`
	VerifyURL      string          `json:"verify_url,omitempty"`
	Occurred       time.Time       `json:"occurred"`
}

type NotificationLog struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	UserID    int64     `json:"user_id"`
	Type      string    `json:"type"`
	Recipient string    `json:"recipient"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}
