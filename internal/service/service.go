package service

import (
	"context"
	"errors"

	"boxoffice/internal/config"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
)

// Dependencies gathers what the services are built from. Optional collaborators may be nil.
type Dependencies struct {
	Tx               Transactor
	Events           EventStore
	TicketTypes      TicketTypeStore
	Reservations     ReservationStore
	Tickets          TicketStore
	Notifications    NotificationLedger
	DispatchFailures DispatchFailureStore

	Provider   CheckoutProvider
	Verifier   WebhookVerifier
	Publisher  EventPublisher
	Dispatcher Dispatcher
	Cache      AvailabilityCache
	Index      TicketIndex
}

type Services struct {
	Reservations *ReservationService
	Checkout     *CheckoutService
	Fulfillment  *FulfillmentService
	Reaper       *ReaperService
	Tickets      *TicketService
}

func NewServices(deps Dependencies, cfg *config.Config) *Services {
	if deps.Dispatcher == nil {
		deps.Dispatcher = &undeliverable{failures: deps.DispatchFailures}
	}

	reservationService := NewReservationService(deps.Tx, deps.Events, deps.TicketTypes, deps.Reservations, deps.Cache, cfg.Reservation)
	checkoutService := NewCheckoutService(deps.Events, deps.TicketTypes, reservationService, deps.Provider, deps.Publisher)
	fulfillmentService := NewFulfillmentService(deps.Tx, deps.Reservations, deps.Tickets, deps.Notifications, deps.Verifier,
		deps.Publisher, deps.Dispatcher, cfg.Reservation, cfg.SiteBaseURL)
	reaperService := NewReaperService(deps.Tx, deps.Reservations, deps.Publisher, cfg.Reservation)
	ticketService := NewTicketService(deps.Tx, deps.TicketTypes, deps.Tickets, deps.DispatchFailures, deps.Index,
		deps.Cache, deps.Publisher, deps.Dispatcher, cfg.Reservation, cfg.SiteBaseURL)

	return &Services{
		Reservations: reservationService,
		Checkout:     checkoutService,
		Fulfillment:  fulfillmentService,
		Reaper:       reaperService,
		Tickets:      ticketService,
	}
}

var errNoDispatcher = errors.New("confirmation dispatch is not configured")

// undeliverable stands in when no queue is wired: every confirmation is recorded
// as a dispatch failure so the retry job picks it up once a dispatcher exists.
type undeliverable struct {
	failures DispatchFailureStore
}

func (u *undeliverable) Dispatch(ctx context.Context, conf models.Confirmation) error {
	if conf.Email == "" {
		return apperrors.ErrNoRecipient
	}
	metrics.DispatchFailed()

	if u.failures != nil {
		var err error
		if conf.FailureID != 0 {
			err = u.failures.RegisterAttempt(ctx, conf.FailureID, errNoDispatcher.Error())
		} else {
			err = u.failures.Record(ctx, &models.DispatchFailure{
				Email:        conf.Email,
				Name:         conf.Name,
				TicketTokens: conf.Tokens(),
				Reason:       errNoDispatcher.Error(),
			})
		}
		if err != nil {
			logger.WithContext(ctx).Error("Failed to record dispatch failure", "error", err, "email", conf.Email)
		}
	}

	return &apperrors.DispatchFailure{Email: conf.Email, Tokens: conf.Tokens(), Err: errNoDispatcher}
}
