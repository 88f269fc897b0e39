package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"shop-service/database"
	"shop-service/logging"
	"shop-service/models"
)

const DefaultRefundWindowDays = 14

type RefundInput struct {
	OrderID     int64
	UserID      int64
	Reason      string
	Description string
	Photos      []string
}

type ResolveRefundInput struct {
	RequestID            int64
	Status               string
	AdminNotes           string
	ReturnTrackingNumber string
	ReturnCargoCompany   string
	ActorID              int64
}

type RefundServiceDeps struct {
	Store      database.OrderStore
	WindowDays int
	Logger     *zap.Logger
	Clock      func() time.Time
}

type RefundService struct {
	store      database.OrderStore
	windowDays int
	logger     *zap.Logger
	clock      func() time.Time
}

func NewRefundService(deps RefundServiceDeps) (*RefundService, error) {
	if deps.Store == nil {
		return nil, errors.New("refund service: store is required")
	}
	s := &RefundService{
		store:      deps.Store,
		windowDays: deps.WindowDays,
		logger:     logging.OrNop(deps.Logger),
		clock:      deps.Clock,
	}
	if s.windowDays <= 0 {
		s.windowDays = DefaultRefundWindowDays
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s, nil
}

// wholeDays is the number of complete 24h periods between from and to.
func wholeDays(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}

// RequestRefund opens a refund request for a delivered order of the caller,
// inside the refund window, when none exists yet.
func (s *RefundService) RequestRefund(ctx context.Context, in RefundInput) (*models.RefundRequest, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	now := s.clock().UTC()
	var created *models.RefundRequest

	err := s.store.InTx(ctx, func(tx database.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, in.OrderID)
		if err != nil {
			return mapStoreError(err, "order", in.OrderID)
		}
		if o.UserID != in.UserID {
			return fmt.Errorf("%w: order %d belongs to another user", ErrForbidden, o.ID)
		}
		if o.Status != models.OrderStatusDelivered || o.DeliveredAt == nil {
			return fmt.Errorf("%w: status is %s", ErrNotEligible, o.Status)
		}
		if days := wholeDays(*o.DeliveredAt, now); days > s.windowDays {
			return fmt.Errorf("%w: delivered %d days ago, window is %d days", ErrWindowExpired, days, s.windowDays)
		}
		if _, err := tx.GetRefundRequestByOrder(ctx, o.ID); err == nil {
			return fmt.Errorf("%w: order %d", ErrAlreadyRequested, o.ID)
		} else if !errors.Is(err, database.ErrNotFound) {
			return err
		}

		rr := &models.RefundRequest{
			OrderID:     o.ID,
			UserID:      in.UserID,
			Reason:      reason,
			Description: strings.TrimSpace(in.Description),
			Photos:      in.Photos,
			Status:      models.RefundStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		id, err := tx.InsertRefundRequest(ctx, rr)
		if errors.Is(err, database.ErrDuplicate) {
			return fmt.Errorf("%w: order %d", ErrAlreadyRequested, o.ID)
		}
		if err != nil {
			return fmt.Errorf("insert refund request: %w", err)
		}
		rr.ID = id
		created = rr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ResolveRefund records an operator decision. Approval restores stock, unless
// a cancellation already did, and marks the order refunded atomically.
func (s *RefundService) ResolveRefund(ctx context.Context, in ResolveRefundInput) (*models.RefundRequest, error) {
	if !models.ValidRefundStatus(in.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	now := s.clock().UTC()
	var resolved *models.RefundRequest

	err := s.store.InTx(ctx, func(tx database.Tx) error {
		rr, err := tx.GetRefundRequestForUpdate(ctx, in.RequestID)
		if err != nil {
			return mapStoreError(err, "refund request", in.RequestID)
		}
		if rr.Status == models.RefundStatusApproved {
			return fmt.Errorf("%w: request %d", ErrRefundResolved, rr.ID)
		}

		if in.Status == models.RefundStatusApproved {
			if err := s.approve(ctx, tx, rr, in.ActorID, now); err != nil {
				return err
			}
		}

		rr.Status = in.Status
		rr.UpdatedAt = now
		if n := strings.TrimSpace(in.AdminNotes); n != "" {
			rr.AdminNotes = n
		}
		if tn := strings.TrimSpace(in.ReturnTrackingNumber); tn != "" {
			rr.ReturnTrackingNumber = tn
		}
		if cc := strings.TrimSpace(in.ReturnCargoCompany); cc != "" {
			rr.ReturnCargoCompany = cc
		}
		switch in.Status {
		case models.RefundStatusApproved, models.RefundStatusRejected:
			rr.ResolvedAt = &now
		default:
			rr.ResolvedAt = nil
		}
		if err := tx.UpdateRefundRequest(ctx, rr); err != nil {
			return fmt.Errorf("update refund request: %w", err)
		}
		resolved = rr
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refund request resolved",
		zap.Int64("request_id", resolved.ID),
		zap.Int64("order_id", resolved.OrderID),
		zap.String("status", resolved.Status),
	)
	return resolved, nil
}

func (s *RefundService) approve(ctx context.Context, tx database.Tx, rr *models.RefundRequest, actorID int64, now time.Time) error {
	o, err := tx.GetOrderForUpdate(ctx, rr.OrderID)
	if err != nil {
		return mapStoreError(err, "order", rr.OrderID)
	}
	if err := releaseStock(ctx, tx, o); err != nil {
		return err
	}

	previous := o.Status
	o.Status = models.OrderStatusRefunded
	o.PaymentStatus = models.PaymentStatusRefunded
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return tx.InsertStatusHistory(ctx, &models.OrderStatusHistory{
		OrderID:   o.ID,
		OldStatus: previous,
		NewStatus: models.OrderStatusRefunded,
		Notes:     fmt.Sprintf("refund request %d approved", rr.ID),
		ChangedBy: actorID,
		CreatedAt: now,
	})
}

func (s *RefundService) ListRefundRequests(ctx context.Context, status string, page models.Page) ([]models.RefundRequest, error) {
	if status != "" && !models.ValidRefundStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.store.ListRefundRequests(ctx, status, page.Normalize())
}
