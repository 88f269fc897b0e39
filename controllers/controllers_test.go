package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shop-service/database/memstore"
	"shop-service/middlewares"
	"shop-service/models"
	"shop-service/services"
	"shop-service/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	router   *gin.Engine
	store    *memstore.Store
	tokens   *utils.TokenManager
	customer string
	other    string
	admin    string
	now      time.Time
	verifies int
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		store:  memstore.New(),
		tokens: utils.NewTokenManager("test-secret", time.Hour),
		now:    time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return api.now }

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Store:   api.store,
		Pricing: services.PricingPolicy{ShippingFee: decimal.NewFromInt(20)},
		Clock:   clock,
	})
	require.NoError(t, err)
	refunds, err := services.NewRefundService(services.RefundServiceDeps{Store: api.store, Clock: clock})
	require.NoError(t, err)

	api.router = NewRouter(RouterDeps{
		Orders:  NewOrderController(orders, refunds, nil),
		Admin:   NewAdminController(orders, refunds, nil),
		Shop: NewShopController(
			services.NewCatalogService(api.store),
			services.NewCartService(api.store, api.store),
			services.NewUserService(services.UserServiceDeps{
				Users:     api.store,
				Tokens:    api.tokens,
				VerifyURL: "http://shop.test/api/auth/verify",
				Clock:     clock,
				NewToken: func() string {
					api.verifies++
					return "verify-" + strconv.Itoa(api.verifies)
				},
			}),
			nil,
		),
		Tokens:  api.tokens,
		Limiter: middlewares.NewKeyedLimiter(1000, 1000),
	})

	api.customer = api.token(t, api.store.AddUser(models.User{Email: "c@example.com", Role: models.RoleCustomer}), models.RoleCustomer)
	api.other = api.token(t, api.store.AddUser(models.User{Email: "o@example.com", Role: models.RoleCustomer}), models.RoleCustomer)
	api.admin = api.token(t, api.store.AddUser(models.User{Email: "a@example.com", Role: models.RoleAdmin}), models.RoleAdmin)
	return api
}

func (api *testAPI) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, _, err := api.tokens.Generate(userID, role)
	require.NoError(t, err)
	return tok
}

func (api *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	return w
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var address = map[string]any{
	"full_name":    "Ada Lovelace",
	"phone":        "+90 555 000 0000",
	"address_line": "1 Analytical St",
	"city":         "Izmir",
}

func (api *testAPI) createOrder(t *testing.T, productID int64, qty int) models.Order {
	t.Helper()
	w := api.do(http.MethodPost, "/api/orders", api.customer, map[string]any{
		"items":          []map[string]any{{"product_id": productID, "quantity": qty}},
		"address":        address,
		"payment_method": "credit_card",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Order](t, w)
}

func TestCreateOrderEndpoint(t *testing.T) {
	api := newTestAPI(t)
	pid := api.store.AddProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(50), Stock: 4})

	order := api.createOrder(t, pid, 2)
	assert.Equal(t, "120.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, 2, api.store.Stock(pid))

	w := api.do(http.MethodGet, "/api/orders/"+itoa(order.ID), api.customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode[models.OrderDetails](t, w)
	assert.Len(t, details.Items, 1)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/api/orders/"+itoa(order.ID), api.other, nil).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/orders/"+itoa(order.ID), api.admin, nil).Code)
}

func TestCreateOrderErrors(t *testing.T) {
	api := newTestAPI(t)
	pid := api.store.AddProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(50), Stock: 1})

	w := api.do(http.MethodPost, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodPost, "/api/orders", api.customer, map[string]any{
		"items":          []map[string]any{{"product_id": pid, "quantity": 0}},
		"address":        address,
		"payment_method": "barter",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "validation_error", body.Error)
	assert.Contains(t, body.Fields, "payment_method")
	assert.Contains(t, body.Fields, "items[0].quantity")

	w = api.do(http.MethodPost, "/api/orders", api.customer, map[string]any{
		"items":          []map[string]any{{"product_id": pid, "quantity": 2}},
		"address":        address,
		"payment_method": "credit_card",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "insufficient_stock", decode[errorBody](t, w).Error)

	w = api.do(http.MethodPost, "/api/orders", api.customer, map[string]any{
		"items":          []map[string]any{{"product_id": 999, "quantity": 1}},
		"address":        address,
		"payment_method": "credit_card",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelAndRefundFlow(t *testing.T) {
	api := newTestAPI(t)
	pid := api.store.AddProduct(models.Product{Name: "Lamp", Price: decimal.NewFromInt(30), Stock: 5})

	cancelled := api.createOrder(t, pid, 2)
	w := api.do(http.MethodPost, "/api/orders/"+itoa(cancelled.ID)+"/cancel", api.other, map[string]any{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/api/orders/"+itoa(cancelled.ID)+"/cancel", api.customer, map[string]any{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, api.store.Stock(pid))

	w = api.do(http.MethodPost, "/api/orders/"+itoa(cancelled.ID)+"/cancel", api.customer, nil)
	assert.Equal(t, "not_cancellable", decode[errorBody](t, w).Error)

	delivered := api.createOrder(t, pid, 1)
	w = api.do(http.MethodPost, "/api/orders/"+itoa(delivered.ID)+"/refund", api.customer, map[string]any{"reason": "damaged"})
	assert.Equal(t, "not_eligible", decode[errorBody](t, w).Error)

	for _, status := range []string{models.OrderStatusShipped, models.OrderStatusDelivered} {
		w = api.do(http.MethodPut, "/api/admin/orders/"+itoa(delivered.ID)+"/status", api.admin, map[string]any{"status": status, "tracking_number": "TRK"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = api.do(http.MethodPost, "/api/orders/"+itoa(delivered.ID)+"/refund", api.customer, map[string]any{
		"reason": "damaged",
		"photos": []string{"https://img.example/1.jpg"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rr := decode[models.RefundRequest](t, w)

	w = api.do(http.MethodPost, "/api/orders/"+itoa(delivered.ID)+"/refund", api.customer, map[string]any{"reason": "again"})
	assert.Equal(t, "already_requested", decode[errorBody](t, w).Error)

	w = api.do(http.MethodGet, "/api/admin/refund-requests?status=pending", api.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[struct {
		RefundRequests []models.RefundRequest `json:"refund_requests"`
	}](t, w)
	assert.Len(t, listed.RefundRequests, 2)

	w = api.do(http.MethodPut, "/api/admin/refund-requests/"+itoa(rr.ID), api.admin, map[string]any{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, api.store.Stock(pid))

	w = api.do(http.MethodPut, "/api/admin/refund-requests/"+itoa(rr.ID), api.admin, map[string]any{"status": "approved"})
	assert.Equal(t, "refund_resolved", decode[errorBody](t, w).Error)
}

func TestRefundWindowEndpoint(t *testing.T) {
	api := newTestAPI(t)
	pid := api.store.AddProduct(models.Product{Name: "Lamp", Price: decimal.NewFromInt(30), Stock: 5})
	order := api.createOrder(t, pid, 1)
	api.do(http.MethodPut, "/api/admin/orders/"+itoa(order.ID)+"/status", api.admin, map[string]any{"status": "delivered"})

	api.now = api.now.Add(15 * 24 * time.Hour)
	w := api.do(http.MethodPost, "/api/orders/"+itoa(order.ID)+"/refund", api.customer, map[string]any{"reason": "late"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "window_expired", decode[errorBody](t, w).Error)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/api/admin/orders", api.customer, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/admin/orders", "", nil).Code)

	w := api.do(http.MethodGet, "/api/admin/orders?status=bogus", api.admin, nil)
	assert.Equal(t, "invalid_status", decode[errorBody](t, w).Error)

	w = api.do(http.MethodPut, "/api/admin/orders/77/status", api.admin, map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodPut, "/api/admin/orders/abc/status", api.admin, map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserOrdersListing(t *testing.T) {
	api := newTestAPI(t)
	pid := api.store.AddProduct(models.Product{Name: "Lamp", Price: decimal.NewFromInt(30), Stock: 5})
	order := api.createOrder(t, pid, 1)

	w := api.do(http.MethodGet, "/api/users/"+itoa(order.UserID)+"/orders?limit=5", api.customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Orders []models.Order `json:"orders"`
	}](t, w)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, order.OrderNumber, got.Orders[0].OrderNumber)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/api/users/"+itoa(order.UserID)+"/orders", api.other, nil).Code)
}

func TestAuthAndCartEndpoints(t *testing.T) {
	api := newTestAPI(t)
	pid := api.store.AddProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(10), Stock: 3})

	w := api.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": "new@example.com", "password": "longenough", "full_name": "New"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	w = api.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": "new@example.com", "password": "longenough", "full_name": "New"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "new@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "new@example.com", "password": "longenough"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[models.LoginResponse](t, w)

	w = api.do(http.MethodPut, "/api/cart/items/"+itoa(pid), login.Token, map[string]any{"quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cart := decode[models.Cart](t, w)
	assert.Equal(t, "20.00", cart.Subtotal.StringFixed(2))

	w = api.do(http.MethodGet, "/api/cart", login.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodDelete, "/api/cart/items/"+itoa(pid), login.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/cart", login.Token, nil).Code)
}

func TestEmailVerificationEndpoints(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": "v@example.com", "password": "longenough", "full_name": "V"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode[models.User](t, w)
	assert.False(t, user.EmailVerified)
	token := api.token(t, user.ID, models.RoleCustomer)

	w = api.do(http.MethodGet, "/api/auth/verify", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(http.MethodGet, "/api/auth/verify?token=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/api/auth/verify/resend", "", nil).Code)
	assert.Equal(t, http.StatusAccepted, api.do(http.MethodPost, "/api/auth/verify/resend", token, nil).Code)

	w = api.do(http.MethodGet, "/api/auth/verify?token=verify-2", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[models.User](t, w).EmailVerified)

	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, "/api/auth/verify/resend", token, nil).Code)
}

func TestProductEndpoints(t *testing.T) {
	api := newTestAPI(t)
	pid := api.store.AddProduct(models.Product{Name: "Blue Mug", Category: "kitchen", Price: decimal.NewFromInt(10), Stock: 3})

	w := api.do(http.MethodGet, "/api/products?q=mug", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Blue Mug")

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/products/"+itoa(pid), "", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/products/4040", "", nil).Code)
}

type pingFunc func() error

func (f pingFunc) PingContext(context.Context) error { return f() }

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	r := gin.New()
	r.GET("/health", healthHandler(pingFunc(func() error { return errors.New("db down") })))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRespondErrorHidesInternalErrors(t *testing.T) {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { respondError(c, zap.NewNop(), errors.New("dsn secret leaked")) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
	assert.Equal(t, "internal_error", decode[errorBody](t, w).Error)
}

func TestValidationFieldsUseWireNames(t *testing.T) {
	type lookup struct {
		ZipCode string `json:"zipCode" binding:"required"`
		Page    int    `form:"page" binding:"min=1"`
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	err := binding.Validator.ValidateStruct(&lookup{})
	require.Error(t, err)
	respondBindError(c, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "is required", body.Fields["zipCode"])
	assert.Equal(t, "must be at least 1", body.Fields["page"])
}
