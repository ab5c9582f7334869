package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TokenParser resolves a bearer token to a user id. Implemented by auth.TokenManager.
type TokenParser interface {
	Parse(token string) (int64, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders   *service.OrderService
	products *service.ProductService
	users    *service.UserService
	tokens   TokenParser
	ready    Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	products *service.ProductService,
	users *service.UserService,
	tokens TokenParser,
	ready Pinger,
) *Handler {
	return &Handler{
		orders:   orders,
		products: products,
		users:    users,
		tokens:   tokens,
		ready:    ready,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/products", h.createProduct)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		v1.POST("/users/register", h.registerUser)
		v1.POST("/users/login", h.login)
		v1.GET("/users/:id", h.getUser)

		authed := v1.Group("", h.requireAuth())
		authed.POST("/orders", h.placeOrder)
		authed.GET("/orders/items", h.listOrderItems)
		authed.PUT("/users/:id", h.editUser)
		authed.DELETE("/users/:id", h.deleteUser)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only while the store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.ready.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !h.bind(c, &req) {
		return
	}

	id, err := h.products.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    "product created",
		"product_id": id,
	})
}

func (h *Handler) listProducts(c *gin.Context) {
	page, ok := h.queryInt(c, "page", 1)
	if !ok {
		return
	}
	limit, ok := h.queryInt(c, "limit", service.DefaultPageLimit)
	if !ok {
		return
	}

	products, err := h.products.ListProducts(c.Request.Context(), page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	product, err := h.products.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

// placeOrder handles order placement for the authenticated user
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if !h.bind(c, &req) {
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	receipt, err := h.orders.PlaceOrder(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "order placed",
		"order_id":    receipt.OrderID,
		"total_price": receipt.TotalPrice,
	})
}

func (h *Handler) listOrderItems(c *gin.Context) {
	items, err := h.orders.ListOrderItems(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) registerUser(c *gin.Context) {
	var req service.RegisterRequest
	if !h.bind(c, &req) {
		return
	}

	id, err := h.users.Register(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "user registered",
		"user_id": id,
	})
}

func (h *Handler) login(c *gin.Context) {
	var req service.LoginRequest
	if !h.bind(c, &req) {
		return
	}

	token, err := h.users.Login(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	profile, err := h.users.GetUser(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (h *Handler) editUser(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req service.EditUserRequest
	if !h.bind(c, &req) {
		return
	}

	if _, err := h.users.EditUser(c.Request.Context(), currentUser(c), id, &req); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user updated"})
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.users.DeleteUser(c.Request.Context(), currentUser(c), id); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

// writeError maps err to a status and a client-safe message. Causes of
// internal errors are logged, never returned.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}
