package database

import (
	"context"

	"shop-service/models"
)

func (r *Queries) GetCart(ctx context.Context, userID int64) ([]models.CartItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT c.product_id, p.name, p.price, p.stock, c.quantity
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = ?
		ORDER BY c.updated_at, c.product_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var it models.CartItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Price, &it.Stock, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Queries) UpsertCartItem(ctx context.Context, userID, productID int64, qty int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity, updated_at)
		VALUES (?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), updated_at = NOW()
	`, userID, productID, qty)
	return err
}

func (r *Queries) DeleteCartItem(ctx context.Context, userID, productID int64) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ? AND product_id = ?`, userID, productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Queries) ClearCart(ctx context.Context, userID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID)
	return err
}
