package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shop-service/logging"
	"shop-service/models"
	"shop-service/services"
)

type AdminController struct {
	orders  *services.OrderService
	refunds *services.RefundService
	logger  *zap.Logger
}

func NewAdminController(orders *services.OrderService, refunds *services.RefundService, logger *zap.Logger) *AdminController {
	return &AdminController{orders: orders, refunds: refunds, logger: logging.OrNop(logger)}
}

type listQuery struct {
	Status string `form:"status"`
	models.Page
}

func (ac *AdminController) UpdateOrderStatus(c *gin.Context) {
	defer recordOperation(c, "update_status")
	caller, ok := identity(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	order, err := ac.orders.UpdateStatus(c.Request.Context(), services.UpdateStatusInput{
		OrderID:        orderID,
		Status:         req.Status,
		TrackingNumber: req.TrackingNumber,
		CargoCompany:   req.CargoCompany,
		Notes:          req.Notes,
		ActorID:        caller.UserID,
	})
	if err != nil {
		respondError(c, ac.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (ac *AdminController) ResolveRefund(c *gin.Context) {
	defer recordOperation(c, "resolve_refund")
	caller, ok := identity(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "requestId")
	if !ok {
		return
	}

	var req models.ResolveRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	rr, err := ac.refunds.ResolveRefund(c.Request.Context(), services.ResolveRefundInput{
		RequestID:            requestID,
		Status:               req.Status,
		AdminNotes:           req.AdminNotes,
		ReturnTrackingNumber: req.ReturnTrackingNumber,
		ReturnCargoCompany:   req.ReturnCargoCompany,
		ActorID:              caller.UserID,
	})
	if err != nil {
		respondError(c, ac.logger, err)
		return
	}
	c.JSON(http.StatusOK, rr)
}

func (ac *AdminController) ListOrders(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}
	orders, err := ac.orders.ListOrders(c.Request.Context(), q.Status, q.Page)
	if err != nil {
		respondError(c, ac.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (ac *AdminController) ListRefundRequests(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}
	requests, err := ac.refunds.ListRefundRequests(c.Request.Context(), q.Status, q.Page)
	if err != nil {
		respondError(c, ac.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refund_requests": requests})
}
