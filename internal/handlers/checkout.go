package handlers

import (
	"net/http"

	"boxoffice/internal/external"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody caps provider notification payloads
const maxWebhookBody = 1 << 20

// StartCheckout - POST /api/events/:id/checkout
// Зарезервировать билеты и открыть платежную сессию
func (h *Handlers) StartCheckout(c *gin.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.checkout.StartCheckout(c.Request.Context(), eventID, &req)
	if err != nil {
		handleServiceError(c, err, "Failed to start checkout")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// ListTicketTypes - GET /api/events/:id/ticket-types
// Получить типы билетов события с остатками
func (h *Handlers) ListTicketTypes(c *gin.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	response, err := h.availability.Availability(c.Request.Context(), eventID)
	if err != nil {
		handleServiceError(c, err, "Failed to load ticket types")
		return
	}

	c.JSON(http.StatusOK, response)
}

// CheckoutWebhook - POST /api/checkout/webhook
// Принимать уведомления платежного провайдера. Тело читается как есть для проверки подписи.
func (h *Handlers) CheckoutWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	result, err := h.fulfillment.HandleWebhook(c.Request.Context(), raw, c.GetHeader(external.SignatureHeader))
	if err != nil {
		handleServiceError(c, err, "Failed to process notification")
		return
	}

	if result.Status() == service.StatusProcessed {
		logger.WithContext(c.Request.Context()).Info("Checkout notification processed", "tickets", len(result.Issued))
	}
	c.JSON(http.StatusOK, models.WebhookResponse{Status: result.Status()})
}
