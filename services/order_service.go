package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shop-service/database"
	"shop-service/logging"
	"shop-service/models"
)

// Notifier accepts post-commit notification events. Dispatch must not block;
// an error only means the event was not queued.
type Notifier interface {
	Dispatch(event models.NotificationEvent) error
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(models.NotificationEvent) error { return nil }

type LineItem struct {
	ProductID int64
	Quantity  int
}

type CreateOrderInput struct {
	UserID         int64
	Items          []LineItem
	Address        models.DeliveryAddress
	PaymentMethod  string
	DiscountCode   string
	DiscountAmount *decimal.Decimal
	ShippingFee    *decimal.Decimal
	Notes          string
}

type UpdateStatusInput struct {
	OrderID        int64
	Status         string
	TrackingNumber string
	CargoCompany   string
	Notes          string
	ActorID        int64
}

type CancelInput struct {
	OrderID int64
	Actor   models.Identity
	Reason  string
}

// OrderServiceDeps bundles collaborators of the order ledger.
type OrderServiceDeps struct {
	Store          database.OrderStore
	Notifier       Notifier
	Pricing        PricingPolicy
	Logger         *zap.Logger
	Clock          func() time.Time
	NewOrderNumber func() string
	NewPaymentID   func() string
}

type OrderService struct {
	store          database.OrderStore
	notifier       Notifier
	pricing        PricingPolicy
	logger         *zap.Logger
	clock          func() time.Time
	newOrderNumber func() string
	newPaymentID   func() string
}

func NewOrderService(deps OrderServiceDeps) (*OrderService, error) {
	if deps.Store == nil {
		return nil, errors.New("order service: store is required")
	}
	s := &OrderService{
		store:          deps.Store,
		notifier:       deps.Notifier,
		pricing:        deps.Pricing,
		logger:         logging.OrNop(deps.Logger),
		clock:          deps.Clock,
		newOrderNumber: deps.NewOrderNumber,
		newPaymentID:   deps.NewPaymentID,
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newOrderNumber == nil {
		s.newOrderNumber = func() string { return "ORD-" + ulid.Make().String() }
	}
	if s.newPaymentID == nil {
		s.newPaymentID = func() string { return "PAY-" + uuid.NewString() }
	}
	return s, nil
}

func (s *OrderService) now() time.Time { return s.clock().UTC() }

// CreateOrder snapshots every line, prices the order and persists it together
// with the stock decrement in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	for _, line := range in.Items {
		if line.ProductID <= 0 || line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: every item needs a product and a positive quantity", ErrValidation)
		}
	}
	if strings.TrimSpace(in.PaymentMethod) == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrValidation)
	}

	now := s.now()
	var order *models.Order
	var items []models.OrderItem

	err := s.store.InTx(ctx, func(tx database.Tx) error {
		items = make([]models.OrderItem, 0, len(in.Items))
		subtotal := decimal.Zero
		for _, line := range in.Items {
			p, err := tx.GetProduct(ctx, line.ProductID)
			if err != nil {
				return mapStoreError(err, "product", line.ProductID)
			}
			if line.Quantity > p.Stock {
				return fmt.Errorf("%w: %q has %d available, %d requested", ErrInsufficientStock, p.Name, p.Stock, line.Quantity)
			}
			item := models.OrderItem{
				ProductID:          p.ID,
				ProductName:        p.Name,
				ProductDescription: p.Description,
				ProductImage:       p.PrimaryImage(),
				Price:              p.Price,
				Quantity:           line.Quantity,
			}
			subtotal = subtotal.Add(item.LineTotal())
			items = append(items, item)
		}

		discount, code, err := s.resolveDiscount(ctx, tx, subtotal, in, now)
		if err != nil {
			return err
		}
		shipping := s.pricing.Shipping(subtotal)
		if in.ShippingFee != nil && !in.ShippingFee.Equal(shipping) {
			return fmt.Errorf("%w: shipping fee %s does not match %s", ErrValidation, in.ShippingFee.StringFixed(2), shipping.StringFixed(2))
		}

		order = &models.Order{
			UserID:         in.UserID,
			OrderNumber:    s.newOrderNumber(),
			Subtotal:       subtotal,
			ShippingFee:    shipping,
			DiscountAmount: discount,
			DiscountCode:   code,
			TotalPrice:     Total(subtotal, discount, shipping),
			PaymentMethod:  in.PaymentMethod,
			PaymentID:      s.newPaymentID(),
			PaymentStatus:  models.PaymentStatusSuccess,
			Address:        in.Address,
			Notes:          strings.TrimSpace(in.Notes),
			Status:         models.OrderStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		order.ID = id

		for i := range items {
			items[i].OrderID = id
			itemID, err := tx.InsertOrderItem(ctx, &items[i])
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
			items[i].ID = itemID

			ok, err := tx.DecrementStock(ctx, items[i].ProductID, items[i].Quantity)
			if err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: %q sold out while placing the order", ErrInsufficientStock, items[i].ProductName)
			}
		}

		return tx.InsertStatusHistory(ctx, &models.OrderStatusHistory{
			OrderID:   id,
			NewStatus: models.OrderStatusPending,
			Notes:     "order placed",
			ChangedBy: in.UserID,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(models.NotificationOrderConfirmation, order, items)
	return order, nil
}

// resolveDiscount computes the discount from the code. A client-supplied
// amount is only accepted when it agrees with the computed one.
func (s *OrderService) resolveDiscount(ctx context.Context, tx database.Tx, subtotal decimal.Decimal, in CreateOrderInput, now time.Time) (decimal.Decimal, string, error) {
	code := strings.TrimSpace(in.DiscountCode)
	discount := decimal.Zero
	if code != "" {
		dc, err := tx.GetDiscountCode(ctx, code)
		if errors.Is(err, database.ErrNotFound) {
			return decimal.Zero, "", fmt.Errorf("%w: unknown discount code %q", ErrValidation, code)
		}
		if err != nil {
			return decimal.Zero, "", err
		}
		if !dc.Usable(now) {
			return decimal.Zero, "", fmt.Errorf("%w: discount code %q has expired", ErrValidation, code)
		}
		discount = s.pricing.Discount(subtotal, dc.Percent)
	}
	if in.DiscountAmount != nil && !in.DiscountAmount.Equal(discount) {
		return decimal.Zero, "", fmt.Errorf("%w: discount amount %s does not match %s", ErrValidation, in.DiscountAmount.StringFixed(2), discount.StringFixed(2))
	}
	return discount, code, nil
}

// UpdateStatus sets any known status (admin override) and records it in the
// history. Entering shipped queues the shipping notification once.
func (s *OrderService) UpdateStatus(ctx context.Context, in UpdateStatusInput) (*models.Order, error) {
	if !models.ValidOrderStatus(in.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	now := s.now()
	var order *models.Order
	var items []models.OrderItem
	var previous string

	err := s.store.InTx(ctx, func(tx database.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, in.OrderID)
		if err != nil {
			return mapStoreError(err, "order", in.OrderID)
		}
		previous = o.Status

		o.Status = in.Status
		o.UpdatedAt = now
		if tn := strings.TrimSpace(in.TrackingNumber); tn != "" {
			o.TrackingNumber = tn
		}
		if cc := strings.TrimSpace(in.CargoCompany); cc != "" {
			o.CargoCompany = cc
		}
		switch {
		case in.Status == models.OrderStatusShipped && previous != models.OrderStatusShipped:
			o.ShippedAt = &now
		case in.Status == models.OrderStatusDelivered && previous != models.OrderStatusDelivered:
			o.DeliveredAt = &now
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if err := tx.InsertStatusHistory(ctx, &models.OrderStatusHistory{
			OrderID:   o.ID,
			OldStatus: previous,
			NewStatus: in.Status,
			Notes:     strings.TrimSpace(in.Notes),
			ChangedBy: in.ActorID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if in.Status == models.OrderStatusShipped && previous != models.OrderStatusShipped {
			if items, err = tx.GetOrderItems(ctx, o.ID); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if in.Status == models.OrderStatusShipped && previous != models.OrderStatusShipped {
		s.notify(models.NotificationOrderShipped, order, items)
	}
	return order, nil
}

// CancelOrder returns stock and closes the order. Paid orders get a pending
// refund request so the money can be returned by an operator.
func (s *OrderService) CancelOrder(ctx context.Context, in CancelInput) (*models.Order, error) {
	now := s.now()
	var order *models.Order

	err := s.store.InTx(ctx, func(tx database.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, in.OrderID)
		if err != nil {
			return mapStoreError(err, "order", in.OrderID)
		}
		if !in.Actor.CanAccess(o.UserID) {
			return fmt.Errorf("%w: order %d belongs to another user", ErrForbidden, o.ID)
		}
		if !models.Cancellable(o.Status) {
			return fmt.Errorf("%w: status is %s", ErrNotCancellable, o.Status)
		}

		if err := releaseStock(ctx, tx, o); err != nil {
			return err
		}

		previous := o.Status
		o.Status = models.OrderStatusCancelled
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		notes := "cancelled"
		if r := strings.TrimSpace(in.Reason); r != "" {
			notes = "cancelled: " + r
		}
		if err := tx.InsertStatusHistory(ctx, &models.OrderStatusHistory{
			OrderID:   o.ID,
			OldStatus: previous,
			NewStatus: models.OrderStatusCancelled,
			Notes:     notes,
			ChangedBy: in.Actor.UserID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if o.PaymentStatus == models.PaymentStatusSuccess {
			if err := openCancellationRefund(ctx, tx, o, in.Reason, now); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func openCancellationRefund(ctx context.Context, tx database.Tx, o *models.Order, reason string, now time.Time) error {
	_, err := tx.GetRefundRequestByOrder(ctx, o.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return err
	}
	_, err = tx.InsertRefundRequest(ctx, &models.RefundRequest{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Reason:      models.RefundReasonOrderCancelled,
		Description: strings.TrimSpace(reason),
		Status:      models.RefundStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("insert refund request: %w", err)
	}
	return nil
}

// releaseStock returns the order's quantities to the catalog unless that
// already happened. The caller persists o.
func releaseStock(ctx context.Context, tx database.Tx, o *models.Order) error {
	if o.StockRestored {
		return nil
	}
	items, err := tx.GetOrderItems(ctx, o.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := tx.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("restore stock for product %d: %w", it.ProductID, err)
		}
	}
	o.StockRestored = true
	return nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, viewer models.Identity, userID int64, page models.Page) ([]models.Order, error) {
	if !viewer.CanAccess(userID) {
		return nil, fmt.Errorf("%w: orders of user %d", ErrForbidden, userID)
	}
	return s.store.ListOrdersByUser(ctx, userID, page.Normalize())
}

func (s *OrderService) ListOrders(ctx context.Context, status string, page models.Page) ([]models.Order, error) {
	if status != "" && !models.ValidOrderStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.store.ListOrders(ctx, status, page.Normalize())
}

func (s *OrderService) GetOrderDetails(ctx context.Context, viewer models.Identity, orderID int64) (*models.OrderDetails, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, mapStoreError(err, "order", orderID)
	}
	if !viewer.CanAccess(o.UserID) {
		return nil, fmt.Errorf("%w: order %d belongs to another user", ErrForbidden, orderID)
	}
	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.GetStatusHistory(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &models.OrderDetails{Order: *o, Items: items, History: history}, nil
}

func (s *OrderService) notify(kind string, o *models.Order, items []models.OrderItem) {
	event := models.NotificationEvent{
		Type:           kind,
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		Total:          o.TotalPrice,
		TrackingNumber: o.TrackingNumber,
		CargoCompany:   o.CargoCompany,
		Items:          items,
		Occurred:       s.now(),
	}
	if err := s.notifier.Dispatch(event); err != nil {
		s.logger.Warn("notification not queued",
			zap.String("type", kind),
			zap.Int64("order_id", o.ID),
			zap.Error(err),
		)
	}
}
