package models

import "time"

const (
	RefundStatusPending  = "pending"
	RefundStatusInReview = "in_review"
	RefundStatusApproved = "approved"
	RefundStatusRejected = "rejected"
)

// RefundReasonOrderCancelled marks requests opened automatically by a
// cancellation of an already paid order.
const RefundReasonOrderCancelled = "order_cancelled"

var refundStatuses = map[string]bool{
	RefundStatusPending:  true,
	RefundStatusInReview: true,
	RefundStatusApproved: true,
	RefundStatusRejected: true,
}

func ValidRefundStatus(s string) bool { return refundStatuses[s] }

type RefundRequest struct {
	ID                   int64      `json:"id"`
	OrderID              int64      `json:"order_id"`
	UserID               int64      `json:"user_id"`
	Reason               string     `json:"reason"`
	Description          string     `json:"description,omitempty"`
	Photos               []string   `json:"photos,omitempty"`
	Status               string     `json:"status"`
	AdminNotes           string     `json:"admin_notes,omitempty"`
	ReturnTrackingNumber string     `json:"return_tracking_number,omitempty"`
	ReturnCargoCompany   string     `json:"return_cargo_company,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
}

type CreateRefundRequest struct {
	Reason      string   `json:"reason" binding:"required,max=100"`
	Description string   `json:"description" binding:"max=2000"`
	Photos      []string `json:"photos" binding:"max=10,dive,url"`
}

type ResolveRefundRequest struct {
	Status               string `json:"status" binding:"required"`
	AdminNotes           string `json:"admin_notes" binding:"max=2000"`
	ReturnTrackingNumber string `json:"return_tracking_number" binding:"max=100"`
	ReturnCargoCompany   string `json:"return_cargo_company" binding:"max=100"`
}
