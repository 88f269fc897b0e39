package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shop-service/logging"
	"shop-service/models"
	"shop-service/services"
)

// ShopController serves the catalog, the cart and account endpoints.
type ShopController struct {
	catalog *services.CatalogService
	carts   *services.CartService
	users   *services.UserService
	logger  *zap.Logger
}

func NewShopController(catalog *services.CatalogService, carts *services.CartService, users *services.UserService, logger *zap.Logger) *ShopController {
	return &ShopController{catalog: catalog, carts: carts, users: users, logger: logging.OrNop(logger)}
}

type productQuery struct {
	Q        string `form:"q"`
	Category string `form:"category"`
	models.Page
}

func (sc *ShopController) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	u, err := sc.users.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (sc *ShopController) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	resp, err := sc.users.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (sc *ShopController) VerifyEmail(c *gin.Context) {
	u, err := sc.users.VerifyEmail(c.Request.Context(), c.Query("token"))
	if err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (sc *ShopController) ResendVerification(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	if err := sc.users.ResendVerification(c.Request.Context(), caller.UserID); err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "verification_sent"})
}

func (sc *ShopController) ListProducts(c *gin.Context) {
	var q productQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}
	products, err := sc.catalog.ListProducts(c.Request.Context(), models.ProductQuery{Q: q.Q, Category: q.Category, Page: q.Page})
	if err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (sc *ShopController) GetProduct(c *gin.Context) {
	id, ok := pathID(c, "productId")
	if !ok {
		return
	}
	p, err := sc.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (sc *ShopController) GetCart(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	cart, err := sc.carts.GetCart(c.Request.Context(), caller.UserID)
	if err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (sc *ShopController) SetCartItem(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	var req models.SetCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	cart, err := sc.carts.SetItem(c.Request.Context(), caller.UserID, productID, req.Quantity)
	if err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (sc *ShopController) RemoveCartItem(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	cart, err := sc.carts.RemoveItem(c.Request.Context(), caller.UserID, productID)
	if err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (sc *ShopController) ClearCart(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	if err := sc.carts.Clear(c.Request.Context(), caller.UserID); err != nil {
		respondError(c, sc.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
