package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-service/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

var productCols = []string{"id", "name", "description", "price", "stock", "category", "images", "created_at", "updated_at"}

func TestInTxCommits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").
		WithArgs(3, int64(7), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx Tx) error {
		ok, err := tx.DecrementStock(context.Background(), 7, 3)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	errStop := errors.New("stop")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").
		WithArgs(5, int64(7), 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx Tx) error {
		ok, err := tx.DecrementStock(context.Background(), 7, 5)
		require.NoError(t, err)
		if !ok {
			return errStop
		}
		return nil
	})

	require.ErrorIs(t, err, errStop)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM products WHERE id").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(productCols))

	_, err := store.GetProduct(context.Background(), 9)

	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetProductDecodesImages(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("FROM products WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(productCols).
			AddRow(1, "Lamp", "Desk lamp", "19.90", 4, "home", []byte(`["a.jpg","b.jpg"]`), now, now))

	p, err := store.GetProduct(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, "Lamp", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("19.90")))
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, p.Images)
	assert.Equal(t, "a.jpg", p.PrimaryImage())
}

func TestInsertRefundRequestDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO refund_requests").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '4' for key 'uq_refund_order'"})

	_, err := store.InsertRefundRequest(context.Background(), &models.RefundRequest{OrderID: 4, UserID: 1, Status: models.RefundStatusPending})

	require.ErrorIs(t, err, ErrDuplicate)
}

func TestUpdateOrderMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateOrder(context.Background(), &models.Order{ID: 42, Status: models.OrderStatusShipped})

	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByUserClampsPage(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "user_id", "order_number", "subtotal", "shipping_fee", "discount_amount", "discount_code",
		"total_price", "payment_method", "payment_id", "payment_status",
		"delivery_name", "delivery_phone", "delivery_address", "delivery_city", "delivery_district", "delivery_postal_code",
		"notes", "status", "tracking_number", "cargo_company", "created_at", "updated_at", "shipped_at", "delivered_at", "stock_restored"}

	mock.ExpectQuery("FROM orders WHERE user_id").
		WithArgs(int64(3), models.DefaultPageLimit, 0).
		WillReturnRows(sqlmock.NewRows(cols))

	orders, err := store.ListOrdersByUser(context.Background(), 3, models.Page{Limit: 5000, Offset: -1})

	require.NoError(t, err)
	assert.Empty(t, orders)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStatements(t *testing.T) {
	stmts := splitStatements(schema)

	require.Len(t, stmts, 10)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS users")
}

func TestMarkEmailVerifiedConsumesToken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET email_verified = TRUE").
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM email_verifications").
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkEmailVerified(context.Background(), 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEmailVerifiedUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET email_verified = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, store.MarkEmailVerified(context.Background(), 4), ErrNotFound)
}
