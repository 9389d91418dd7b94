package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthChecker is satisfied by database.Service.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Options struct {
	Health         HealthChecker
	Metrics        prometheus.Gatherer
	AllowedOrigins []string
}

type Handler struct {
	orders service.OrderService
	recon  service.ReconciliationService
	opts   Options
	logger *zap.Logger
}

func NewHandler(orders service.OrderService, recon service.ReconciliationService, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		orders: orders,
		recon:  recon,
		opts:   opts,
		logger: logger.With(zap.String("component", "http_server")),
	}
}

func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.observe(), cors.New(corsConfig(h.opts.AllowedOrigins)))

	r.GET("/health", h.Health)
	if h.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.opts.Metrics, promhttp.HandlerOpts{})))
	}
	// Authenticated by signature, not by actor headers.
	r.POST("/webhooks/payment", h.PaymentWebhook)

	api := r.Group("", requireActor())
	api.POST("/cart/preview", h.PreviewCart)
	api.POST("/checkout", h.Checkout)
	api.GET("/payments/:reference", h.GetPayment)
	api.GET("/payments/:reference/verify", h.VerifyPayment)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/cancel", h.CancelOrder)
	api.POST("/orders/:id/retry-payment", h.RetryPayment)
	api.GET("/orders/:id/refunds", h.ListRefunds)

	admin := api.Group("/admin")
	admin.PATCH("/orders/:id/status", h.UpdateOrderStatus)
	admin.POST("/orders/:id/refunds", h.RefundOrder)
	admin.POST("/orders/:id/archive", h.ArchiveOrder)
	admin.GET("/products", h.ListProducts)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", headerRequestID, headerActorID, headerActorRole, headerActorEmail}
	cfg.ExposeHeaders = []string{headerRequestID}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (h *Handler) Health(c *gin.Context) {
	if h.opts.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
		return
	}
	stats := h.opts.Health.Health(c.Request.Context())
	if stats["status"] != "up" {
		c.JSON(http.StatusServiceUnavailable, stats)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) PreviewCart(c *gin.Context) {
	var req cartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	q, err := h.orders.PreviewDiscount(c.Request.Context(), actorFrom(c), req.cart())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newQuoteResponse(q))
}

func (h *Handler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	actor := actorFrom(c)
	res, err := h.recon.Checkout(c.Request.Context(), actor, service.CheckoutRequest{
		Cart:            req.cart(),
		CustomerEmail:   req.CustomerEmail,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCheckoutResponse(res, actor))
}

func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.recon.GetPayment(c.Request.Context(), actorFrom(c), c.Param("reference"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(p))
}

// VerifyPayment is the client poll. A payment the gateway declined still answers with the
// settled payment alongside the error code.
func (h *Handler) VerifyPayment(c *gin.Context) {
	ctx := c.Request.Context()
	actor := actorFrom(c)
	reference := c.Param("reference")

	// Only the owner may drive verification for a reference.
	if _, err := h.recon.GetPayment(ctx, actor, reference); err != nil {
		writeDomainError(c, err)
		return
	}

	out, err := h.recon.VerifyPayment(ctx, reference)
	switch {
	case errors.Is(err, domain.ErrPaymentVerificationFailure) && out != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   err.Error(),
			"code":    "PAYMENT_NOT_SUCCESSFUL",
			"payment": newPaymentResponse(out.Payment),
			"order":   newOrderResponse(out.Order, actor),
		})
		return
	case err != nil:
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{
		Payment:  newPaymentResponse(out.Payment),
		Order:    newOrderResponse(out.Order, actor),
		Replayed: out.Replayed,
	})
}

// PaymentWebhook acknowledges every correctly signed delivery. Anything that should make the
// gateway redeliver answers with a 5xx.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.recon.HandleWebhook(c.Request.Context(), payload, c.GetHeader(headerPaystackSig)); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	actor := actorFrom(c)
	o, err := h.orders.GetOrder(c.Request.Context(), actor, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o, actor))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	actor := actorFrom(c)
	o, err := h.orders.CancelOrder(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o, actor))
}

func (h *Handler) RetryPayment(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	actor := actorFrom(c)
	res, err := h.recon.RetryPayment(c.Request.Context(), actor, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCheckoutResponse(res, actor))
}

func (h *Handler) ListRefunds(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	refunds, err := h.recon.ListRefunds(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]refundResponse, 0, len(refunds))
	for i := range refunds {
		out = append(out, newRefundResponse(&refunds[i]))
	}
	c.JSON(http.StatusOK, gin.H{"refunds": out})
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	actor := actorFrom(c)
	o, err := h.orders.UpdateOrderStatus(c.Request.Context(), actor, id, service.StatusUpdate{
		Status:         req.Status,
		Reason:         req.Reason,
		TrackingNumber: req.TrackingNumber,
		AdminNotes:     req.AdminNotes,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o, actor))
}

func (h *Handler) RefundOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	refund, err := h.recon.RefundOrder(c.Request.Context(), actorFrom(c), id, service.RefundRequest{
		Amount:     req.Amount,
		Reason:     req.Reason,
		AdminNotes: req.AdminNotes,
	})
	if err != nil {
		if refund != nil {
			// The refund row exists and records the gateway's answer.
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "refund": newRefundResponse(refund)})
			return
		}
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newRefundResponse(refund))
}

func (h *Handler) ArchiveOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	if err := h.orders.ArchiveOrder(c.Request.Context(), actorFrom(c), id); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListProducts(c *gin.Context) {
	band := domain.StockBand(c.DefaultQuery("band", string(domain.StockLow)))
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		limit = n
	}
	products, err := h.orders.ListProductsByStockBand(c.Request.Context(), actorFrom(c), band, limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for i := range products {
		out = append(out, newProductResponse(&products[i]))
	}
	c.JSON(http.StatusOK, gin.H{"band": band, "products": out})
}

func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "order not found", Code: "NOT_FOUND"})
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}
