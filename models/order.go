package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending         = "pending"
	OrderStatusPaymentReceived = "payment_received"
	OrderStatusPreparing       = "preparing"
	OrderStatusShipped         = "shipped"
	OrderStatusDelivered       = "delivered"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRefunded        = "refunded"
)

const (
	PaymentStatusSuccess  = "success"
	PaymentStatusRefunded = "refunded"
)

var orderStatuses = map[string]bool{
	OrderStatusPending:         true,
	OrderStatusPaymentReceived: true,
	OrderStatusPreparing:       true,
	OrderStatusShipped:         true,
	OrderStatusDelivered:       true,
	OrderStatusCancelled:       true,
	OrderStatusRefunded:        true,
}

var cancellableStatuses = map[string]bool{
	OrderStatusPending:         true,
	OrderStatusPaymentReceived: true,
	OrderStatusPreparing:       true,
}

// ValidOrderStatus reports whether s is one of the known lifecycle states.
func ValidOrderStatus(s string) bool { return orderStatuses[s] }

// Cancellable reports whether an order in status s may still be cancelled.
func Cancellable(s string) bool { return cancellableStatuses[s] }

// DeliveryAddress is copied into the order at checkout.
type DeliveryAddress struct {
	FullName    string `json:"full_name" binding:"required,max=100"`
	Phone       string `json:"phone" binding:"required,max=30"`
	AddressLine string `json:"address_line" binding:"required,max=255"`
	City        string `json:"city" binding:"required,max=100"`
	District    string `json:"district" binding:"max=100"`
	PostalCode  string `json:"postal_code" binding:"max=20"`
}

type Order struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	OrderNumber    string          `json:"order_number"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DiscountCode   string          `json:"discount_code,omitempty"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentID      string          `json:"payment_id"`
	PaymentStatus  string          `json:"payment_status"`
	Address        DeliveryAddress `json:"delivery_address"`
	Notes          string          `json:"notes,omitempty"`
	Status         string          `json:"status"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	CargoCompany   string          `json:"cargo_company,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ShippedAt      *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	StockRestored  bool            `json:"stock_restored"`
}

// OrderItem holds the product as it looked when the order was placed.
type OrderItem struct {
	ID                 int64           `json:"id"`
	OrderID            int64           `json:"order_id"`
	ProductID          int64           `json:"product_id"`
	ProductName        string          `json:"product_name"`
	ProductDescription string          `json:"product_description,omitempty"`
	ProductImage       string          `json:"product_image,omitempty"`
	Price              decimal.Decimal `json:"price"`
	Quantity           int             `json:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type OrderStatusHistory struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Notes     string    `json:"notes,omitempty"`
	ChangedBy int64     `json:"changed_by"`
	CreatedAt time.Time `json:"created_at"`
}

type OrderDetails struct {
	Order   Order                `json:"order"`
	Items   []OrderItem          `json:"items"`
	History []OrderStatusHistory `json:"history"`
}

type CreateOrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,gt=0,lte=1000"`
}

type CreateOrderRequest struct {
	Items          []CreateOrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Address        DeliveryAddress          `json:"address"`
	PaymentMethod  string                   `json:"payment_method" binding:"required,oneof=credit_card debit_card bank_transfer cash_on_delivery"`
	DiscountCode   string                   `json:"discount_code" binding:"max=50"`
	DiscountAmount *decimal.Decimal         `json:"discount_amount"`
	ShippingFee    *decimal.Decimal         `json:"shipping_fee"`
	Notes          string                   `json:"notes" binding:"max=500"`
}

type UpdateOrderStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"tracking_number" binding:"max=100"`
	CargoCompany   string `json:"cargo_company" binding:"max=100"`
	Notes          string `json:"notes" binding:"max=500"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}
