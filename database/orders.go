package database

import (
	"context"
	"database/sql"

	"shop-service/models"
)

const orderColumns = `id, user_id, order_number, subtotal, shipping_fee, discount_amount, discount_code,
	total_price, payment_method, payment_id, payment_status,
	delivery_name, delivery_phone, delivery_address, delivery_city, delivery_district, delivery_postal_code,
	notes, status, tracking_number, cargo_company, created_at, updated_at, shipped_at, delivered_at, stock_restored`

func scanOrder(rs rowScanner) (*models.Order, error) {
	var o models.Order
	var shipped, delivered sql.NullTime
	err := rs.Scan(
		&o.ID, &o.UserID, &o.OrderNumber, &o.Subtotal, &o.ShippingFee, &o.DiscountAmount, &o.DiscountCode,
		&o.TotalPrice, &o.PaymentMethod, &o.PaymentID, &o.PaymentStatus,
		&o.Address.FullName, &o.Address.Phone, &o.Address.AddressLine, &o.Address.City, &o.Address.District, &o.Address.PostalCode,
		&o.Notes, &o.Status, &o.TrackingNumber, &o.CargoCompany, &o.CreatedAt, &o.UpdatedAt, &shipped, &delivered, &o.StockRestored,
	)
	if err != nil {
		return nil, err
	}
	o.ShippedAt = timePtr(shipped)
	o.DeliveredAt = timePtr(delivered)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()
	out := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *Queries) InsertOrder(ctx context.Context, o *models.Order) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (user_id, order_number, subtotal, shipping_fee, discount_amount, discount_code,
			total_price, payment_method, payment_id, payment_status,
			delivery_name, delivery_phone, delivery_address, delivery_city, delivery_district, delivery_postal_code,
			notes, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.UserID, o.OrderNumber, o.Subtotal, o.ShippingFee, o.DiscountAmount, o.DiscountCode,
		o.TotalPrice, o.PaymentMethod, o.PaymentID, o.PaymentStatus,
		o.Address.FullName, o.Address.Phone, o.Address.AddressLine, o.Address.City, o.Address.District, o.Address.PostalCode,
		o.Notes, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Queries) InsertOrderItem(ctx context.Context, item *models.OrderItem) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO order_items (order_id, product_id, product_name, product_description, product_image, price, quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.OrderID, item.ProductID, item.ProductName, item.ProductDescription, item.ProductImage, item.Price, item.Quantity)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	o, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

// GetOrderForUpdate locks the order row until the surrounding transaction ends.
func (r *Queries) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	o, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

func (r *Queries) UpdateOrder(ctx context.Context, o *models.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, payment_status = ?, tracking_number = ?, cargo_company = ?,
		    shipped_at = ?, delivered_at = ?, stock_restored = ?, updated_at = ?
		WHERE id = ?
	`, o.Status, o.PaymentStatus, o.TrackingNumber, o.CargoCompany,
		nullTime(o.ShippedAt), nullTime(o.DeliveredAt), o.StockRestored, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Queries) ListOrdersByUser(ctx context.Context, userID int64, page models.Page) ([]models.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	page = page.Normalize()
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (r *Queries) ListOrders(ctx context.Context, status string, page models.Page) ([]models.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	page = page.Normalize()
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, status, status, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (r *Queries) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, product_description, product_image, price, quantity
		FROM order_items WHERE order_id = ?
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductDescription, &it.ProductImage, &it.Price, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Queries) InsertStatusHistory(ctx context.Context, h *models.OrderStatusHistory) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, old_status, new_status, notes, changed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.OrderID, h.OldStatus, h.NewStatus, h.Notes, h.ChangedBy, h.CreatedAt)
	return err
}

func (r *Queries) GetStatusHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, old_status, new_status, notes, changed_by, created_at
		FROM order_status_history WHERE order_id = ?
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.OrderStatusHistory{}
	for rows.Next() {
		var h models.OrderStatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.OldStatus, &h.NewStatus, &h.Notes, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
