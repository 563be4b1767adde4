package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"order-lifecycle/internal/apperror"
	"order-lifecycle/internal/models"
	"order-lifecycle/internal/service"
	"order-lifecycle/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WebhookHandler is implemented by *service.PaymentService
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload *models.WebhookPayload) (*service.WebhookResponse, error)
}

// OrderRejecter is implemented by *service.RejectionCoordinator
type OrderRejecter interface {
	RejectOrder(ctx context.Context, req service.RejectOrderRequest) (*service.RejectOrderResponse, error)
}

// OrderReader is implemented by *service.OrderService
type OrderReader interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
}

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	payments WebhookHandler
	rejecter OrderRejecter
	orders   OrderReader
	pingers  []Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(payments WebhookHandler, rejecter OrderRejecter, orders OrderReader, pingers ...Pinger) *Handler {
	return &Handler{
		payments: payments,
		rejecter: rejecter,
		orders:   orders,
		pingers:  pingers,
	}
}

type rejectBody struct {
	UserID int64 `json:"userId" binding:"required,min=1"`
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments/webhook", h.paymentWebhook)
		v1.POST("/orders/:id/reject", h.rejectOrder)
		v1.GET("/orders/:id", h.getOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once every dependency answers a ping
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
				"time":   time.Now().Unix(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// paymentWebhook handles payment gateway callbacks
func (h *Handler) paymentWebhook(c *gin.Context) {
	var payload models.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, apperror.BadRequest(apperror.KeyInvalidInput, "invalid webhook payload"))
		return
	}

	resp, err := h.payments.HandleWebhook(c.Request.Context(), &payload)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// rejectOrder handles order rejection by an admin
func (h *Handler) rejectOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var body rejectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperror.BadRequest(apperror.KeyInvalidInput, "invalid request body"))
		return
	}

	resp, err := h.rejecter.RejectOrder(c.Request.Context(), service.RejectOrderRequest{
		OrderID: orderID,
		UserID:  body.UserID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(c, apperror.BadRequest(apperror.KeyInvalidInput, "invalid order id"))
		return 0, false
	}
	return orderID, true
}

// writeError renders err as {code, messageKey, message}
func writeError(c *gin.Context, err error) {
	appErr := apperror.From(err)
	c.AbortWithStatusJSON(apperror.HTTPStatus(appErr.Code), appErr)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
