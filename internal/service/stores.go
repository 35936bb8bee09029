package service

import (
	"context"
	"time"

	"boxoffice/internal/external"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"

	"github.com/google/uuid"
)

// Transactor runs fn in one database transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type EventStore interface {
	GetByID(ctx context.Context, id int64) (*models.Event, error)
}

type TicketTypeStore interface {
	GetByID(ctx context.Context, id int64) (*models.TicketType, error)
	LockForUpdate(ctx context.Context, id int64) (*models.TicketType, error)
	Usage(ctx context.Context, id int64, liveAfter time.Time) (models.Usage, error)
	ListByEvent(ctx context.Context, eventID int64, liveAfter time.Time) ([]models.TicketType, map[int64]models.Usage, error)
}

type ReservationStore interface {
	CreateBatch(ctx context.Context, holds []*models.Reservation) error
	AttachSession(ctx context.Context, ids []int64, sessionID string, extendTo time.Time) (int64, error)
	LockForFulfillment(ctx context.Context, ids []int64, sessionID string, liveAfter time.Time) ([]models.Reservation, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.Reservation, error)
	MarkFulfilled(ctx context.Context, ids []int64) error
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error)
	LockReclaimable(ctx context.Context, ids []int64, cutoff time.Time) ([]models.Reservation, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}

type TicketStore interface {
	CreateBatch(ctx context.Context, tickets []*models.Ticket) error
	GetByToken(ctx context.Context, token uuid.UUID) (*models.TicketDetails, error)
	ListByTokens(ctx context.Context, tokens []string) ([]models.TicketDetails, error)
	ListByIDs(ctx context.Context, ids []int64) ([]models.TicketDetails, error)
	CheckIn(ctx context.Context, token uuid.UUID, at time.Time) (bool, error)
}

// NotificationLedger records processed provider notification ids.
type NotificationLedger interface {
	MarkProcessed(ctx context.Context, notificationID, eventType string) (bool, error)
}

type DispatchFailureStore interface {
	Record(ctx context.Context, f *models.DispatchFailure) error
	ListPending(ctx context.Context, retryBefore time.Time, maxAttempts, limit int) ([]models.DispatchFailure, error)
	RegisterAttempt(ctx context.Context, id int64, reason string) error
}

// EventPublisher is satisfied by the NATS streaming client
type EventPublisher interface {
	Publish(subject string, data interface{}) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, conf models.Confirmation) error
}

type CheckoutProvider interface {
	CreateSession(ctx context.Context, req external.SessionRequest) (*external.Session, error)
}

type WebhookVerifier interface {
	Verify(rawBody []byte, signatureHeader string) (*external.VerifiedEvent, error)
}

// AvailabilityCache holds display snapshots only
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, eventID int64) ([]byte, bool, error)
	SetAvailability(ctx context.Context, eventID int64, data []byte) error
	InvalidateAvailability(ctx context.Context, eventIDs ...int64) error
}

type TicketIndex interface {
	Search(ctx context.Context, query string, size int) ([]models.TicketDetails, int64, error)
}

func publish(ctx context.Context, p EventPublisher, subject string, data interface{}) {
	if p == nil {
		return
	}
	if err := p.Publish(subject, data); err != nil {
		logger.WithContext(ctx).Error("Failed to publish event",
			"error", err,
			"event_type", subject)
	}
}

func invalidate(ctx context.Context, c AvailabilityCache, eventIDs ...int64) {
	if c == nil || len(eventIDs) == 0 {
		return
	}
	if err := c.InvalidateAvailability(ctx, eventIDs...); err != nil {
		logger.WithContext(ctx).Warn("Failed to invalidate availability cache",
			"error", err,
			"event_ids", eventIDs)
	}
}
