package database

import (
	"context"
	"database/sql"
	"fmt"

	"shop-service/models"
)

const refundColumns = `id, order_id, user_id, reason, description, photos, status, admin_notes,
	return_tracking_number, return_cargo_company, created_at, updated_at, resolved_at`

func scanRefund(rs rowScanner) (*models.RefundRequest, error) {
	var rr models.RefundRequest
	var photos []byte
	var resolved sql.NullTime
	err := rs.Scan(&rr.ID, &rr.OrderID, &rr.UserID, &rr.Reason, &rr.Description, &photos, &rr.Status, &rr.AdminNotes,
		&rr.ReturnTrackingNumber, &rr.ReturnCargoCompany, &rr.CreatedAt, &rr.UpdatedAt, &resolved)
	if err != nil {
		return nil, err
	}
	if rr.Photos, err = decodeStrings(photos); err != nil {
		return nil, fmt.Errorf("decode refund %d photos: %w", rr.ID, err)
	}
	rr.ResolvedAt = timePtr(resolved)
	return &rr, nil
}

func (r *Queries) GetRefundRequestByOrder(ctx context.Context, orderID int64) (*models.RefundRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rr, err := scanRefund(r.q.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE order_id = ?`, orderID))
	if err != nil {
		return nil, notFound(err)
	}
	return rr, nil
}

func (r *Queries) GetRefundRequestForUpdate(ctx context.Context, id int64) (*models.RefundRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rr, err := scanRefund(r.q.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return rr, nil
}

func (r *Queries) InsertRefundRequest(ctx context.Context, rr *models.RefundRequest) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	photos, err := encodeStrings(rr.Photos)
	if err != nil {
		return 0, err
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO refund_requests (order_id, user_id, reason, description, photos, status, admin_notes,
			return_tracking_number, return_cargo_company, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rr.OrderID, rr.UserID, rr.Reason, rr.Description, photos, rr.Status, rr.AdminNotes,
		rr.ReturnTrackingNumber, rr.ReturnCargoCompany, rr.CreatedAt, rr.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Queries) UpdateRefundRequest(ctx context.Context, rr *models.RefundRequest) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = ?, admin_notes = ?, return_tracking_number = ?, return_cargo_company = ?,
		    updated_at = ?, resolved_at = ?
		WHERE id = ?
	`, rr.Status, rr.AdminNotes, rr.ReturnTrackingNumber, rr.ReturnCargoCompany,
		rr.UpdatedAt, nullTime(rr.ResolvedAt), rr.ID)
	return err
}

func (r *Queries) ListRefundRequests(ctx context.Context, status string, page models.Page) ([]models.RefundRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	page = page.Normalize()
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+refundColumns+`
		FROM refund_requests WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, status, status, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.RefundRequest{}
	for rows.Next() {
		rr, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rr)
	}
	return out, rows.Err()
}
