package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
)

type Checkout interface {
	StartCheckout(ctx context.Context, eventID int64, req *models.CheckoutRequest) (*models.CheckoutResponse, error)
}

type Availability interface {
	Availability(ctx context.Context, eventID int64) (*models.AvailabilityResponse, error)
}

type Fulfillment interface {
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) (service.Result, error)
}

type Tickets interface {
	Lookup(ctx context.Context, token string) (*models.TicketDetails, error)
	Resend(ctx context.Context, token string) (*models.TicketDetails, error)
	CheckIn(ctx context.Context, token string) (*models.TicketDetails, bool, error)
	Issue(ctx context.Context, req *models.IssueTicketsRequest, soldBy string) ([]models.TicketDetails, error)
	Search(ctx context.Context, query string, size int) ([]models.TicketDetails, int64, error)
}

type Reaper interface {
	Sweep(ctx context.Context, opts service.SweepOptions) (*service.SweepResult, error)
}

type Handlers struct {
	checkout     Checkout
	availability Availability
	fulfillment  Fulfillment
	tickets      Tickets
	reaper       Reaper
}

func NewHandlers(services *service.Services) *Handlers {
	return &Handlers{
		checkout:     services.Checkout,
		availability: services.Reservations,
		fulfillment:  services.Fulfillment,
		tickets:      services.Tickets,
		reaper:       services.Reaper,
	}
}

func eventIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return 0, false
	}
	return id, true
}

// handleServiceError переводит ошибки сервисного слоя в HTTP ответы
func handleServiceError(c *gin.Context, err error, msg string) {
	log := logger.WithContext(c.Request.Context())

	if ce, ok := apperrors.IsCapacity(err); ok {
		c.JSON(http.StatusConflict, gin.H{
			"error":          ce.Detail(),
			"ticket_type_id": ce.TicketTypeID,
			"ticket_type":    ce.TicketTypeName,
		})
		return
	}

	var df *apperrors.DispatchFailure
	switch {
	case apperrors.IsAuthenticity(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	case errors.Is(err, apperrors.ErrInvalidSelection):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrEventNotFound),
		errors.Is(err, apperrors.ErrTicketTypeNotFound),
		errors.Is(err, apperrors.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrNoRecipient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrProviderFailure):
		log.Error(msg, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment provider unavailable"})
	case errors.As(err, &df):
		log.Error(msg, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to dispatch confirmation"})
	case errors.Is(err, apperrors.ErrSearchUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Error(msg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
