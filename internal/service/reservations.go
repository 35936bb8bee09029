package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"boxoffice/internal/config"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"

	"github.com/shopspring/decimal"
)

type ReservationService struct {
	tx     Transactor
	events EventStore
	types  TicketTypeStore
	holds  ReservationStore
	cache  AvailabilityCache
	cfg    config.ReservationConfig
	now    func() time.Time
}

func NewReservationService(tx Transactor, events EventStore, types TicketTypeStore, holds ReservationStore, cache AvailabilityCache, cfg config.ReservationConfig) *ReservationService {
	return &ReservationService{
		tx:     tx,
		events: events,
		types:  types,
		holds:  holds,
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
	}
}

// liveAfter is the expiry boundary above which an unfulfilled hold still counts against capacity.
func (s *ReservationService) liveAfter(now time.Time) time.Time {
	return now.Add(-s.cfg.GraceWindow)
}

// CreateHolds validates and reserves capacity for every selection line, all or nothing.
// Ticket type rows are locked in ascending id order and capacity is evaluated only after
// every lock is held.
func (s *ReservationService) CreateHolds(ctx context.Context, selections []models.Selection, purchaser models.Purchaser) ([]models.Reservation, error) {
	if len(selections) == 0 {
		return nil, apperrors.ErrInvalidSelection
	}

	requested := make(map[int64]int, len(selections))
	for _, sel := range selections {
		if sel.TicketTypeID <= 0 || sel.Quantity <= 0 {
			return nil, apperrors.ErrInvalidSelection
		}
		requested[sel.TicketTypeID] += sel.Quantity
	}

	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var (
		created  []*models.Reservation
		eventIDs []int64
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		started := time.Now()
		locked := make(map[int64]*models.TicketType, len(ids))
		for _, id := range ids {
			tt, err := s.types.LockForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if tt == nil {
				return fmt.Errorf("%w: %d", apperrors.ErrTicketTypeNotFound, id)
			}
			locked[id] = tt
		}
		metrics.ObserveLockWait("create_holds", started)

		now := s.now()
		for _, id := range ids {
			tt := locked[id]
			want := requested[id]

			if !tt.IsOnSale(now) {
				return &apperrors.CapacityError{TicketTypeID: tt.ID, TicketTypeName: tt.Name, Reason: apperrors.ReasonNotOnSale}
			}
			if tt.MaxPerOrder != nil && want > *tt.MaxPerOrder {
				return &apperrors.CapacityError{TicketTypeID: tt.ID, TicketTypeName: tt.Name, Reason: apperrors.ReasonPerOrderCapExceeded}
			}

			usage, err := s.types.Usage(ctx, id, s.liveAfter(now))
			if err != nil {
				return err
			}
			if remaining := tt.Remaining(usage); want > remaining {
				return &apperrors.CapacityError{
					TicketTypeID:   tt.ID,
					TicketTypeName: tt.Name,
					Reason:         apperrors.ReasonInsufficientInventory,
					Remaining:      remaining,
				}
			}
		}

		expiresAt := now.Add(s.cfg.HoldTTL)
		created = make([]*models.Reservation, 0, len(selections))
		for _, sel := range selections {
			created = append(created, &models.Reservation{
				TicketTypeID:   sel.TicketTypeID,
				Quantity:       sel.Quantity,
				UnitPriceCents: locked[sel.TicketTypeID].PriceCents,
				CreatedAt:      now,
				ExpiresAt:      expiresAt,
				PurchaserEmail: purchaser.Email,
				PurchaserName:  purchaser.Name,
			})
		}

		seen := make(map[int64]bool)
		for _, tt := range locked {
			if !seen[tt.EventID] {
				seen[tt.EventID] = true
				eventIDs = append(eventIDs, tt.EventID)
			}
		}

		return s.holds.CreateBatch(ctx, created)
	})
	if err != nil {
		if ce, ok := apperrors.IsCapacity(err); ok {
			metrics.HoldRejected(ce.Reason)
			logger.WithContext(ctx).Info("Checkout rejected",
				"ticket_type_id", ce.TicketTypeID,
				"reason", ce.Detail())
		}
		return nil, err
	}

	holds := make([]models.Reservation, len(created))
	for i, h := range created {
		holds[i] = *h
		metrics.HoldsCreated(strconv.FormatInt(h.TicketTypeID, 10), h.Quantity)
	}

	invalidate(ctx, s.cache, eventIDs...)
	return holds, nil
}

// AttachSession binds the holds to a checkout session and pushes their expiry out to
// at least now + SessionExtension. Calling it again with the same session is harmless.
func (s *ReservationService) AttachSession(ctx context.Context, holdIDs []int64, sessionID string) error {
	if len(holdIDs) == 0 || sessionID == "" {
		return apperrors.ErrInvalidSelection
	}

	n, err := s.holds.AttachSession(ctx, holdIDs, sessionID, s.now().Add(s.cfg.SessionExtension))
	if err != nil {
		return err
	}
	if int(n) != len(holdIDs) {
		logger.WithContext(ctx).Warn("Session attached to fewer holds than requested",
			"session_id", sessionID,
			"hold_ids", holdIDs,
			"updated", n)
	}
	return nil
}

// Availability returns the display view of an event's ticket types. It may be served from
// cache and is never used for capacity decisions.
func (s *ReservationService) Availability(ctx context.Context, eventID int64) (*models.AvailabilityResponse, error) {
	if s.cache != nil {
		data, ok, err := s.cache.GetAvailability(ctx, eventID)
		if err != nil {
			logger.WithContext(ctx).Warn("Availability cache lookup failed", "error", err, "event_id", eventID)
		}
		if ok {
			var cached models.AvailabilityResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if event == nil || !event.Published {
		return nil, apperrors.ErrEventNotFound
	}

	now := s.now()
	types, usage, err := s.types.ListByEvent(ctx, eventID, s.liveAfter(now))
	if err != nil {
		return nil, err
	}

	resp := &models.AvailabilityResponse{
		EventID:     event.ID,
		EventName:   event.Name,
		TicketTypes: make([]models.TicketTypeAvailability, 0, len(types)),
	}
	for i := range types {
		tt := &types[i]
		if !tt.Active {
			continue
		}
		resp.TicketTypes = append(resp.TicketTypes, models.TicketTypeAvailability{
			ID:          tt.ID,
			Name:        tt.Name,
			PriceCents:  tt.PriceCents,
			Price:       decimal.New(tt.PriceCents, -2).StringFixed(2),
			Remaining:   tt.Remaining(usage[tt.ID]),
			OnSale:      tt.IsOnSale(now),
			MaxPerOrder: tt.MaxPerOrder,
		})
	}

	if s.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			if err := s.cache.SetAvailability(ctx, eventID, data); err != nil {
				logger.WithContext(ctx).Warn("Failed to cache availability", "error", err, "event_id", eventID)
			}
		}
	}

	return resp, nil
}
