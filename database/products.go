package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"shop-service/models"
)

const productColumns = `id, name, description, price, stock, category, images, created_at, updated_at`

func scanProduct(rs rowScanner) (*models.Product, error) {
	var p models.Product
	var images []byte
	if err := rs.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Category, &images, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	imgs, err := decodeStrings(images)
	if err != nil {
		return nil, fmt.Errorf("decode product %d images: %w", p.ID, err)
	}
	p.Images = imgs
	return &p, nil
}

func (r *Queries) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanProduct(r.q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE id = ?
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (r *Queries) ListProducts(ctx context.Context, q models.ProductQuery) ([]models.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	page := q.Page.Normalize()
	search := strings.TrimSpace(q.Q)
	category := strings.TrimSpace(q.Category)

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE (? = '' OR name LIKE CONCAT('%', ?, '%') OR description LIKE CONCAT('%', ?, '%'))
		  AND (? = '' OR category = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, search, search, search, category, category, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DecrementStock removes qty units only when enough stock remains. It reports
// false when the guard rejected the update.
func (r *Queries) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, updated_at = NOW()
		WHERE id = ? AND stock >= ?
	`, qty, productID, qty)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Queries) IncrementStock(ctx context.Context, productID int64, qty int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, updated_at = NOW()
		WHERE id = ?
	`, qty, productID)
	return err
}

func (r *Queries) GetDiscountCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var d models.DiscountCode
	var expires sql.NullTime
	err := r.q.QueryRowContext(ctx, `
		SELECT code, percent, active, expires_at
		FROM discount_codes WHERE code = ?
	`, code).Scan(&d.Code, &d.Percent, &d.Active, &expires)
	if err != nil {
		return nil, notFound(err)
	}
	d.ExpiresAt = timePtr(expires)
	return &d, nil
}
