package middlewares

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shop-service/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticTokens map[string]models.Identity

func (s staticTokens) Parse(token string) (models.Identity, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return models.Identity{}, errors.New("bad token")
}

var tokens = staticTokens{
	"customer": {UserID: 1, Role: models.RoleCustomer},
	"admin":    {UserID: 2, Role: models.RoleAdmin},
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Logger(zap.NewNop()))
	handlers = append(handlers, func(c *gin.Context) {
		id, _ := CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id.UserID})
	})
	r.GET("/x", handlers...)
	return r
}

func do(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(AuthMiddleware(tokens))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic customer", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer customer", http.StatusOK},
		{"case insensitive scheme", "bearer customer", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, tc.header)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), `"error":"unauthorized"`)
			}
		})
	}
}

func TestAdminOnly(t *testing.T) {
	r := newRouter(AuthMiddleware(tokens), AdminOnly())

	assert.Equal(t, http.StatusForbidden, do(r, "Bearer customer").Code)
	assert.Equal(t, http.StatusOK, do(r, "Bearer admin").Code)
}

func TestRequestIDPropagation(t *testing.T) {
	r := newRouter()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = do(r, "")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := NewKeyedLimiter(1, 2)
	r := newRouter(AuthMiddleware(tokens), RateLimit(limiter))

	assert.Equal(t, http.StatusOK, do(r, "Bearer customer").Code)
	assert.Equal(t, http.StatusOK, do(r, "Bearer customer").Code)
	w := do(r, "Bearer customer")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(r, "Bearer admin").Code)
}

func TestKeyedLimiterRefillsAndEvicts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewKeyedLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))

	now = now.Add(time.Hour)
	assert.True(t, l.Allow("b"))
	l.mu.Lock()
	_, kept := l.limiters["a"]
	l.mu.Unlock()
	assert.False(t, kept)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(zap.NewNop()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func counterValue(t *testing.T, operation, status string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, orderOperations.WithLabelValues(operation, status).Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordOrderOperationLabels(t *testing.T) {
	before := counterValue(t, "resolve_refund", "success")
	failedBefore := counterValue(t, "resolve_refund", "error")

	RecordOrderOperation("resolve_refund", true)
	RecordOrderOperation("resolve_refund", false)

	assert.Equal(t, before+1, counterValue(t, "resolve_refund", "success"))
	assert.Equal(t, failedBefore+1, counterValue(t, "resolve_refund", "error"))
}

func TestRecordOrderOperationDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordOrderOperation("create", true)
		RecordOrderOperation("create", false)
		RecordNotification("dispatch", "queued")
	})
}
