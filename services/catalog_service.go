package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"shop-service/database"
	"shop-service/models"
)

type CatalogService struct {
	products database.CatalogStore
}

func NewCatalogService(products database.CatalogStore) *CatalogService {
	return &CatalogService{products: products}
}

func (s *CatalogService) ListProducts(ctx context.Context, q models.ProductQuery) ([]models.Product, error) {
	q.Page = q.Page.Normalize()
	return s.products.ListProducts(ctx, q)
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "product", id)
	}
	return p, nil
}

// CartService keeps the per-user cart. It is independent of checkout.
type CartService struct {
	carts    database.CartStore
	products database.CatalogStore
}

func NewCartService(carts database.CartStore, products database.CatalogStore) *CartService {
	return &CartService{carts: carts, products: products}
}

func (s *CartService) GetCart(ctx context.Context, userID int64) (*models.Cart, error) {
	items, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return &models.Cart{UserID: userID, Items: items, Subtotal: subtotal}, nil
}

// SetItem sets the quantity of one product, bounded by current stock.
func (s *CartService) SetItem(ctx context.Context, userID, productID int64, qty int) (*models.Cart, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, mapStoreError(err, "product", productID)
	}
	if qty > p.Stock {
		return nil, fmt.Errorf("%w: %q has %d available, %d requested", ErrInsufficientStock, p.Name, p.Stock, qty)
	}
	if err := s.carts.UpsertCartItem(ctx, userID, productID, qty); err != nil {
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) (*models.Cart, error) {
	removed, err := s.carts.DeleteCartItem(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, fmt.Errorf("%w: product %d is not in the cart", ErrNotFound, productID)
	}
	return s.GetCart(ctx, userID)
}

func (s *CartService) Clear(ctx context.Context, userID int64) error {
	if err := s.carts.ClearCart(ctx, userID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	return nil
}
