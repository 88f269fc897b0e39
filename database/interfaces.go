package database

import (
	"context"
	"errors"

	"shop-service/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Tx is the statement set available inside one database transaction.
type Tx interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	DecrementStock(ctx context.Context, productID int64, qty int) (bool, error)
	IncrementStock(ctx context.Context, productID int64, qty int) error
	GetDiscountCode(ctx context.Context, code string) (*models.DiscountCode, error)

	InsertOrder(ctx context.Context, o *models.Order) (int64, error)
	InsertOrderItem(ctx context.Context, item *models.OrderItem) (int64, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	InsertStatusHistory(ctx context.Context, h *models.OrderStatusHistory) error

	GetRefundRequestByOrder(ctx context.Context, orderID int64) (*models.RefundRequest, error)
	GetRefundRequestForUpdate(ctx context.Context, id int64) (*models.RefundRequest, error)
	InsertRefundRequest(ctx context.Context, r *models.RefundRequest) (int64, error)
	UpdateRefundRequest(ctx context.Context, r *models.RefundRequest) error
}

// OrderStore runs transactions for the order ledger and serves its reads
// from the shared pool.
type OrderStore interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetStatusHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error)
	ListOrdersByUser(ctx context.Context, userID int64, page models.Page) ([]models.Order, error)
	ListOrders(ctx context.Context, status string, page models.Page) ([]models.Order, error)
	ListRefundRequests(ctx context.Context, status string, page models.Page) ([]models.RefundRequest, error)
}

type CatalogStore interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, q models.ProductQuery) ([]models.Product, error)
}

type CartStore interface {
	GetCart(ctx context.Context, userID int64) ([]models.CartItem, error)
	UpsertCartItem(ctx context.Context, userID, productID int64, qty int) error
	DeleteCartItem(ctx context.Context, userID, productID int64) (bool, error)
	ClearCart(ctx context.Context, userID int64) error
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	SaveEmailVerification(ctx context.Context, v *models.EmailVerification) error
	GetEmailVerification(ctx context.Context, tokenHash string) (*models.EmailVerification, error)
	MarkEmailVerified(ctx context.Context, userID int64) error
}

type NotificationLogStore interface {
	InsertNotificationLog(ctx context.Context, entry *models.NotificationLog) error
}
