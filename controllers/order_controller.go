package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shop-service/logging"
	"shop-service/middlewares"
	"shop-service/models"
	"shop-service/services"
)

type OrderController struct {
	orders  *services.OrderService
	refunds *services.RefundService
	logger  *zap.Logger
}

func NewOrderController(orders *services.OrderService, refunds *services.RefundService, logger *zap.Logger) *OrderController {
	return &OrderController{orders: orders, refunds: refunds, logger: logging.OrNop(logger)}
}

// recordOperation counts the operation by the final response status.
func recordOperation(c *gin.Context, operation string) {
	status := c.Writer.Status() >= 200 && c.Writer.Status() < 300
	middlewares.RecordOrderOperation(operation, status)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
			Error:   "validation_error",
			Message: fmt.Sprintf("invalid %s", name),
		})
		return 0, false
	}
	return id, true
}

func identity(c *gin.Context) (models.Identity, bool) {
	id, ok := middlewares.CurrentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "user not authenticated"})
	}
	return id, ok
}

func (oc *OrderController) CreateOrder(c *gin.Context) {
	defer recordOperation(c, "create")
	caller, ok := identity(c)
	if !ok {
		return
	}

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	items := make([]services.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, services.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	order, err := oc.orders.CreateOrder(c.Request.Context(), services.CreateOrderInput{
		UserID:         caller.UserID,
		Items:          items,
		Address:        req.Address,
		PaymentMethod:  req.PaymentMethod,
		DiscountCode:   req.DiscountCode,
		DiscountAmount: req.DiscountAmount,
		ShippingFee:    req.ShippingFee,
		Notes:          req.Notes,
	})
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (oc *OrderController) GetUserOrders(c *gin.Context) {
	defer recordOperation(c, "list")
	caller, ok := identity(c)
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	var page models.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		respondBindError(c, err)
		return
	}

	orders, err := oc.orders.ListUserOrders(c.Request.Context(), caller, userID, page)
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (oc *OrderController) GetOrderDetails(c *gin.Context) {
	defer recordOperation(c, "details")
	caller, ok := identity(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	details, err := oc.orders.GetOrderDetails(c.Request.Context(), caller, orderID)
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (oc *OrderController) CancelOrder(c *gin.Context) {
	defer recordOperation(c, "cancel")
	caller, ok := identity(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	var req models.CancelOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}

	order, err := oc.orders.CancelOrder(c.Request.Context(), services.CancelInput{
		OrderID: orderID,
		Actor:   caller,
		Reason:  req.Reason,
	})
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OrderController) RequestRefund(c *gin.Context) {
	defer recordOperation(c, "refund")
	caller, ok := identity(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	var req models.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	rr, err := oc.refunds.RequestRefund(c.Request.Context(), services.RefundInput{
		OrderID:     orderID,
		UserID:      caller.UserID,
		Reason:      req.Reason,
		Description: req.Description,
		Photos:      req.Photos,
	})
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusCreated, rr)
}
