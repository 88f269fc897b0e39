package models

import "github.com/shopspring/decimal"

// CartItem is a cart line joined with the current product state.
type CartItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Quantity  int             `json:"quantity"`
}

type Cart struct {
	UserID   int64           `json:"user_id"`
	Items    []CartItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type SetCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0,lte=1000"`
}
