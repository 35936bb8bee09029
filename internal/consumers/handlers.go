package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"boxoffice/internal/logger"
	"boxoffice/internal/models"

	"github.com/nats-io/stan.go"
)

// TicketIndexer keeps the admin search index in step with issued tickets
type TicketIndexer interface {
	Enabled() bool
	IndexTickets(ctx context.Context, tickets []models.TicketDetails) error
	MarkCheckedIn(ctx context.Context, token string, at time.Time) error
}

type CacheInvalidator interface {
	InvalidateAvailability(ctx context.Context, eventIDs ...int64) error
}

type TicketTypeLookup interface {
	GetByID(ctx context.Context, id int64) (*models.TicketType, error)
}

type Handlers struct {
	index TicketIndexer
	cache CacheInvalidator
	types TicketTypeLookup
}

func NewHandlers(index TicketIndexer, cache CacheInvalidator, types TicketTypeLookup) *Handlers {
	return &Handlers{
		index: index,
		cache: cache,
		types: types,
	}
}

// ack wraps a handler: undecodable messages are acked and dropped, other failures are
// left unacked for redelivery after AckWait.
func ack(subject string, fn func(ctx context.Context, data []byte) error) stan.MsgHandler {
	return func(m *stan.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		err := fn(ctx, m.Data)
		if err != nil {
			if errors.Is(err, errUndecodable) {
				logger.Get().Error("Dropping undecodable message", "subject", subject, "error", err)
				_ = m.Ack()
				return
			}
			logger.Get().Error("Failed to handle message", "subject", subject, "error", err, "redelivered", m.Redelivered)
			return
		}
		if err := m.Ack(); err != nil {
			logger.Get().Warn("Failed to ack message", "subject", subject, "error", err)
		}
	}
}

func (h *Handlers) HandleTicketsIssued(m *stan.Msg) {
	ack(models.EventTicketsIssued, h.ticketsIssued)(m)
}

func (h *Handlers) HandleReservationsCreated(m *stan.Msg) {
	ack(models.EventReservationsCreated, h.reservationsCreated)(m)
}

func (h *Handlers) HandleReservationsReaped(m *stan.Msg) {
	ack(models.EventReservationsReaped, h.reservationsReaped)(m)
}

func (h *Handlers) HandleTicketCheckedIn(m *stan.Msg) {
	ack(models.EventTicketCheckedIn, h.ticketCheckedIn)(m)
}

func (h *Handlers) ticketsIssued(ctx context.Context, data []byte) error {
	var event models.TicketsIssuedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	logger.Get().Info("Processing tickets issued event",
		"count", len(event.Tickets),
		"payment_method", event.PaymentMethod,
		"session_id", event.SessionID)

	seen := make(map[int64]bool)
	var eventIDs []int64
	for _, t := range event.Tickets {
		if t.EventID != 0 && !seen[t.EventID] {
			seen[t.EventID] = true
			eventIDs = append(eventIDs, t.EventID)
		}
	}
	h.invalidate(ctx, eventIDs)

	if h.index == nil || !h.index.Enabled() || len(event.Tickets) == 0 {
		return nil
	}
	if err := h.index.IndexTickets(ctx, event.Tickets); err != nil {
		return fmt.Errorf("failed to index tickets: %w", err)
	}
	return nil
}

func (h *Handlers) reservationsCreated(ctx context.Context, data []byte) error {
	var event models.ReservationsCreatedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	logger.Get().Debug("Processing reservations created event", "event_id", event.EventID, "hold_ids", event.HoldIDs)
	h.invalidate(ctx, []int64{event.EventID})
	return nil
}

func (h *Handlers) reservationsReaped(ctx context.Context, data []byte) error {
	var event models.ReservationsReapedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	logger.Get().Info("Processing reservations reaped event", "deleted", event.Deleted, "freed", event.Freed)

	seen := make(map[int64]bool)
	var eventIDs []int64
	for typeID := range event.Freed {
		tt, err := h.types.GetByID(ctx, typeID)
		if err != nil {
			return fmt.Errorf("failed to resolve ticket type %d: %w", typeID, err)
		}
		if tt == nil || seen[tt.EventID] {
			continue
		}
		seen[tt.EventID] = true
		eventIDs = append(eventIDs, tt.EventID)
	}
	h.invalidate(ctx, eventIDs)
	return nil
}

func (h *Handlers) ticketCheckedIn(ctx context.Context, data []byte) error {
	var event models.TicketCheckedInEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	if h.index == nil || !h.index.Enabled() {
		return nil
	}
	if err := h.index.MarkCheckedIn(ctx, event.Token, event.CheckedInAt); err != nil {
		return fmt.Errorf("failed to update indexed ticket: %w", err)
	}
	return nil
}

func (h *Handlers) invalidate(ctx context.Context, eventIDs []int64) {
	if h.cache == nil || len(eventIDs) == 0 {
		return
	}
	if err := h.cache.InvalidateAvailability(ctx, eventIDs...); err != nil {
		logger.Get().Warn("Failed to invalidate availability cache", "error", err, "event_ids", eventIDs)
	}
}

var errUndecodable = errors.New("undecodable message")

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errUndecodable, err)
	}
	return nil
}
