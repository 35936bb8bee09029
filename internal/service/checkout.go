package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/external"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
)

type CheckoutService struct {
	events       EventStore
	types        TicketTypeStore
	reservations *ReservationService
	provider     CheckoutProvider
	publisher    EventPublisher
	now          func() time.Time
}

func NewCheckoutService(events EventStore, types TicketTypeStore, reservations *ReservationService, provider CheckoutProvider, publisher EventPublisher) *CheckoutService {
	return &CheckoutService{
		events:       events,
		types:        types,
		reservations: reservations,
		provider:     provider,
		publisher:    publisher,
		now:          time.Now,
	}
}

// StartCheckout reserves the selection and opens a hosted payment session for it.
// The hold transaction commits before the provider is called.
func (s *CheckoutService) StartCheckout(ctx context.Context, eventID int64, req *models.CheckoutRequest) (*models.CheckoutResponse, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if event == nil || !event.Published {
		return nil, apperrors.ErrEventNotFound
	}

	names := make(map[int64]string, len(req.Items))
	for _, item := range req.Items {
		if _, ok := names[item.TicketTypeID]; ok {
			continue
		}
		tt, err := s.types.GetByID(ctx, item.TicketTypeID)
		if err != nil {
			return nil, fmt.Errorf("failed to get ticket type: %w", err)
		}
		if tt == nil || tt.EventID != eventID {
			return nil, fmt.Errorf("%w: %d", apperrors.ErrTicketTypeNotFound, item.TicketTypeID)
		}
		names[tt.ID] = tt.Name
	}

	purchaser := models.Purchaser{Email: strings.TrimSpace(req.Email), Name: strings.TrimSpace(req.Name)}
	holds, err := s.reservations.CreateHolds(ctx, req.Items, purchaser)
	if err != nil {
		return nil, err
	}

	holdIDs := make([]int64, len(holds))
	idStrings := make([]string, len(holds))
	typeIDs := make([]int64, 0, len(holds))
	lineItems := make([]external.LineItem, len(holds))
	for i, h := range holds {
		holdIDs[i] = h.ID
		idStrings[i] = strconv.FormatInt(h.ID, 10)
		typeIDs = append(typeIDs, h.TicketTypeID)
		lineItems[i] = external.LineItem{
			Name:       event.Name + " - " + names[h.TicketTypeID],
			UnitAmount: h.UnitPriceCents,
			Quantity:   h.Quantity,
		}
	}

	metadata := map[string]string{
		external.MetaHoldIDs:        strings.Join(idStrings, ","),
		external.MetaEventID:        strconv.FormatInt(eventID, 10),
		external.MetaPurchaserEmail: purchaser.Email,
		external.MetaPurchaserName:  purchaser.Name,
	}
	if req.SoldBy != "" {
		metadata[external.MetaSoldBy] = req.SoldBy
	}

	session, err := s.provider.CreateSession(ctx, external.SessionRequest{
		LineItems:     lineItems,
		Metadata:      metadata,
		CustomerEmail: purchaser.Email,
	})
	if err != nil {
		// The holds stay in place until they expire and the reaper frees them
		logger.WithContext(ctx).Error("Failed to create checkout session",
			"error", err,
			"hold_ids", holdIDs,
			"event_id", eventID)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrProviderFailure, err)
	}

	if err := s.reservations.AttachSession(ctx, holdIDs, session.ID); err != nil {
		return nil, fmt.Errorf("failed to attach session: %w", err)
	}

	expiresAt := holds[0].ExpiresAt
	if extended := s.now().Add(s.reservations.cfg.SessionExtension); extended.After(expiresAt) {
		expiresAt = extended
	}

	publish(ctx, s.publisher, models.EventReservationsCreated, models.ReservationsCreatedEvent{
		EventID:       eventID,
		HoldIDs:       holdIDs,
		TicketTypeIDs: typeIDs,
		ExpiresAt:     expiresAt,
		Timestamp:     s.now(),
	})

	logger.WithContext(ctx).Info("Checkout session opened",
		"session_id", session.ID,
		"hold_ids", holdIDs,
		"event_id", eventID)

	return &models.CheckoutResponse{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		HoldIDs:     holdIDs,
		ExpiresAt:   expiresAt,
	}, nil
}
