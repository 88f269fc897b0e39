package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shop-service/logging"
	"shop-service/middlewares"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterDeps struct {
	Orders  *OrderController
	Admin   *AdminController
	Shop    *ShopController
	Tokens  middlewares.TokenParser
	Limiter *middlewares.KeyedLimiter
	Health  Pinger
	Logger  *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	logger := logging.OrNop(deps.Logger)

	r := gin.New()
	r.Use(
		middlewares.RequestID(),
		middlewares.Logger(logger),
		middlewares.Recovery(logger),
		middlewares.PrometheusMiddleware(),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", healthHandler(deps.Health))

	limited := middlewares.RateLimit(deps.Limiter)

	api := r.Group("/api")
	{
		api.POST("/auth/register", limited, deps.Shop.Register)
		api.POST("/auth/login", limited, deps.Shop.Login)
		api.GET("/auth/verify", limited, deps.Shop.VerifyEmail)
		api.GET("/products", deps.Shop.ListProducts)
		api.GET("/products/:productId", deps.Shop.GetProduct)
	}

	authGroup := api.Group("")
	authGroup.Use(middlewares.AuthMiddleware(deps.Tokens))
	{
		authGroup.POST("/auth/verify/resend", limited, deps.Shop.ResendVerification)

		authGroup.GET("/cart", deps.Shop.GetCart)
		authGroup.PUT("/cart/items/:productId", deps.Shop.SetCartItem)
		authGroup.DELETE("/cart/items/:productId", deps.Shop.RemoveCartItem)
		authGroup.DELETE("/cart", deps.Shop.ClearCart)

		authGroup.POST("/orders", limited, deps.Orders.CreateOrder)
		authGroup.GET("/users/:userId/orders", deps.Orders.GetUserOrders)
		authGroup.GET("/orders/:orderId", deps.Orders.GetOrderDetails)
		authGroup.POST("/orders/:orderId/cancel", limited, deps.Orders.CancelOrder)
		authGroup.POST("/orders/:orderId/refund", deps.Orders.RequestRefund)
	}

	admin := authGroup.Group("/admin")
	admin.Use(middlewares.AdminOnly())
	{
		admin.GET("/orders", deps.Admin.ListOrders)
		admin.PUT("/orders/:orderId/status", limited, deps.Admin.UpdateOrderStatus)
		admin.GET("/refund-requests", deps.Admin.ListRefundRequests)
		admin.PUT("/refund-requests/:requestId", limited, deps.Admin.ResolveRefund)
	}

	return r
}

func healthHandler(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := p.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
