package database

import (
	"context"

	"shop-service/models"
)

const userColumns = `id, email, password_hash, full_name, role, email_verified, created_at`

func scanUser(rs rowScanner) (*models.User, error) {
	var u models.User
	if err := rs.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.EmailVerified, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *Queries) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO users (email, password_hash, full_name, role, email_verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.Email, u.PasswordHash, u.FullName, u.Role, u.EmailVerified, u.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *Queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// SaveEmailVerification replaces any outstanding token of the user.
func (r *Queries) SaveEmailVerification(ctx context.Context, v *models.EmailVerification) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO email_verifications (user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE token_hash = VALUES(token_hash), expires_at = VALUES(expires_at), created_at = VALUES(created_at)
	`, v.UserID, v.TokenHash, v.ExpiresAt, v.CreatedAt)
	return err
}

func (r *Queries) GetEmailVerification(ctx context.Context, tokenHash string) (*models.EmailVerification, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var v models.EmailVerification
	err := r.q.QueryRowContext(ctx, `
		SELECT user_id, token_hash, expires_at, created_at
		FROM email_verifications WHERE token_hash = ?
	`, tokenHash).Scan(&v.UserID, &v.TokenHash, &v.ExpiresAt, &v.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

// MarkEmailVerified flags the user and consumes the outstanding token.
func (r *Queries) MarkEmailVerified(ctx context.Context, userID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `UPDATE users SET email_verified = TRUE WHERE id = ?`, userID)
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
	_, err = r.q.ExecContext(ctx, `DELETE FROM email_verifications WHERE user_id = ?`, userID)
	return err
}

func (r *Queries) InsertNotificationLog(ctx context.Context, entry *models.NotificationLog) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO notification_logs (order_id, user_id, type, recipient, stage, status, error, attempt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.OrderID, entry.UserID, entry.Type, entry.Recipient, entry.Stage, entry.Status, entry.Error, entry.Attempt, entry.CreatedAt)
	return err
}
