package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/middleware"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/response"
	"golang-pos-backend/internal/services"
)

// maxWebhookBody caps provider callbacks; real events are a few KiB.
const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// @Summary Create a payment intent
// @Description Reserve a payment for an order at the cheapest provider accepting the method; requires an Idempotency-Key
// @Tags payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param method path string true "Payment method" Enums(qr, card, apple_pay)
// @Param Idempotency-Key header string true "Retry key, scoped to the order"
// @Param request body services.CreateIntentRequest true "Intent request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /api/v1/payments/{method}/intents [post]
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	var req services.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	intent, err := h.paymentService.CreateIntent(c.Request.Context(), c.Param("method"), c.GetHeader("Idempotency-Key"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, intent)
}

// @Summary Get a payment intent
// @Tags payments
// @Security BearerAuth
// @Produce json
// @Param intent_id path string true "Intent ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/payments/intents/{intent_id} [get]
func (h *PaymentHandler) GetIntent(c *gin.Context) {
	intentID, err := uuid.Parse(c.Param("intent_id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed intent id"))
		return
	}

	intent, err := h.paymentService.GetIntent(c.Request.Context(), intentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, intent)
}

// @Summary Confirm a payment intent
// @Description Capture synchronously at the provider; exactly one capture may win per order
// @Tags payments
// @Security BearerAuth
// @Produce json
// @Param intent_id path string true "Intent ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /api/v1/payments/intents/{intent_id}/confirm [post]
func (h *PaymentHandler) ConfirmIntent(c *gin.Context) {
	intentID, err := uuid.Parse(c.Param("intent_id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed intent id"))
		return
	}

	intent, payment, err := h.paymentService.ConfirmIntent(c.Request.Context(), intentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"intent": intent, "payment": payment})
}

// @Summary Provider webhook
// @Description Signature-verified provider callback; duplicate events are acknowledged without effect
// @Tags payments
// @Accept json
// @Produce json
// @Param provider path string true "Provider name" Enums(qrpay, sumup, stripe, applepay)
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/payments/webhook/{provider} [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("unreadable webhook body"))
		return
	}

	if err := h.paymentService.HandleWebhook(c.Request.Context(), c.Param("provider"), c.Request.Header, body); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"received": true})
}

// @Summary Refund a payment
// @Description Full refund by default, partial with an amount; refunds never exceed the capture
// @Tags payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param payment_id path string true "Payment ID"
// @Param request body services.RefundRequest false "Refund request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/payments/{payment_id}/refund [post]
func (h *PaymentHandler) Refund(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("payment_id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed payment id"))
		return
	}

	req := services.RefundRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperrors.InvalidPayload(err.Error()))
			return
		}
	}

	refund, err := h.paymentService.Refund(c.Request.Context(), paymentID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, refund)
}

// @Summary List payments for an order
// @Description Captured, failed and refund rows in creation order
// @Tags payments
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param oid path string true "Order ID"
// @Success 200 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/orders/{oid}/payments [get]
func (h *PaymentHandler) ListOrderPayments(c *gin.Context) {
	orderID, err := orderParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	payments, err := h.paymentService.ListPayments(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, payments)
}

func (h *PaymentHandler) RegisterRoutes(router *gin.RouterGroup, authMiddleware *middleware.AuthMiddleware) {
	payments := router.Group("/payments")
	{
		// Webhooks authenticate by signature, not bearer token.
		payments.POST("/webhook/:provider", h.Webhook)

		authed := payments.Group("", authMiddleware.AuthRequired())
		{
			authed.POST("/:method/intents", h.CreateIntent)
			authed.GET("/intents/:intent_id", h.GetIntent)
			authed.POST("/intents/:intent_id/confirm", h.ConfirmIntent)
		}
	}

	scoped := router.Group("/restaurants/:id", authMiddleware.AuthRequired(), authMiddleware.RestaurantAccess("id"))
	{
		scoped.GET("/orders/:oid/payments", h.ListOrderPayments)
		scoped.POST("/payments/:payment_id/refund",
			authMiddleware.RoleRequired(models.RoleRestaurantOwner, models.RoleManager), h.Refund)
	}
}
