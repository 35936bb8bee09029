package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"boxoffice/internal/config"
	"boxoffice/internal/dispatch"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"

	"github.com/google/uuid"
)

const defaultSearchSize = 20

var tokenPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

type TicketService struct {
	tx          Transactor
	types       TicketTypeStore
	tickets     TicketStore
	failures    DispatchFailureStore
	index       TicketIndex
	cache       AvailabilityCache
	publisher   EventPublisher
	dispatcher  Dispatcher
	cfg         config.ReservationConfig
	siteBaseURL string
	now         func() time.Time
}

func NewTicketService(tx Transactor, types TicketTypeStore, tickets TicketStore, failures DispatchFailureStore, index TicketIndex, cache AvailabilityCache, publisher EventPublisher, dispatcher Dispatcher, cfg config.ReservationConfig, siteBaseURL string) *TicketService {
	if dispatcher == nil {
		dispatcher = &undeliverable{failures: failures}
	}
	return &TicketService{
		tx:          tx,
		types:       types,
		tickets:     tickets,
		failures:    failures,
		index:       index,
		cache:       cache,
		publisher:   publisher,
		dispatcher:  dispatcher,
		cfg:         cfg,
		siteBaseURL: siteBaseURL,
		now:         time.Now,
	}
}

// Lookup returns an issued ticket by its scannable token.
func (s *TicketService) Lookup(ctx context.Context, token string) (*models.TicketDetails, error) {
	// Scanners may hand over the whole confirmation URL
	match := tokenPattern.FindString(token)
	if match == "" {
		return nil, apperrors.ErrTicketNotFound
	}
	id, err := uuid.Parse(match)
	if err != nil {
		return nil, apperrors.ErrTicketNotFound
	}

	ticket, err := s.tickets.GetByToken(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	if ticket == nil {
		return nil, apperrors.ErrTicketNotFound
	}
	return ticket, nil
}

// Resend re-dispatches the confirmation for one ticket and waits for the hand-off.
func (s *TicketService) Resend(ctx context.Context, token string) (*models.TicketDetails, error) {
	ticket, err := s.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if ticket.PurchaserEmail == "" {
		return nil, apperrors.ErrNoRecipient
	}
	conf := dispatch.NewConfirmation(s.siteBaseURL, ticket.PurchaserEmail, ticket.PurchaserName, []models.TicketDetails{*ticket})
	conf.Resend = true

	if err := s.dispatcher.Dispatch(ctx, conf); err != nil {
		logger.WithContext(ctx).Error("Failed to resend confirmation",
			"error", err,
			"token", ticket.Token,
			"email", ticket.PurchaserEmail)
		return nil, err
	}

	logger.WithContext(ctx).Info("Confirmation resent", "token", ticket.Token, "email", ticket.PurchaserEmail)
	return ticket, nil
}

// CheckIn stamps the ticket as used. already is true when it had been checked in before.
func (s *TicketService) CheckIn(ctx context.Context, token string) (*models.TicketDetails, bool, error) {
	ticket, err := s.Lookup(ctx, token)
	if err != nil {
		return nil, false, err
	}
	if ticket.CheckedInAt != nil {
		return ticket, true, nil
	}

	at := s.now()
	updated, err := s.tickets.CheckIn(ctx, ticket.Token, at)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check in ticket: %w", err)
	}
	if !updated {
		// Lost the race against another scanner
		fresh, err := s.tickets.GetByToken(ctx, ticket.Token)
		if err == nil && fresh != nil {
			ticket = fresh
		}
		return ticket, true, nil
	}

	ticket.CheckedInAt = &at
	publish(ctx, s.publisher, models.EventTicketCheckedIn, models.TicketCheckedInEvent{
		Token:       ticket.Token.String(),
		CheckedInAt: at,
		Timestamp:   s.now(),
	})

	logger.WithContext(ctx).Info("Ticket checked in", "token", ticket.Token)
	return ticket, false, nil
}

// Issue creates cash or complimentary tickets directly, without a hold. Capacity is checked
// under the same ticket type lock checkout uses.
func (s *TicketService) Issue(ctx context.Context, req *models.IssueTicketsRequest, soldBy string) ([]models.TicketDetails, error) {
	if req.Quantity <= 0 || req.TicketTypeID <= 0 {
		return nil, apperrors.ErrInvalidSelection
	}
	if req.PaymentMethod != models.PaymentMethodCash && req.PaymentMethod != models.PaymentMethodComp {
		return nil, fmt.Errorf("%w: unsupported payment method %q", apperrors.ErrInvalidSelection, req.PaymentMethod)
	}

	var (
		issued  []*models.Ticket
		eventID int64
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		started := time.Now()
		tt, err := s.types.LockForUpdate(ctx, req.TicketTypeID)
		if err != nil {
			return err
		}
		if tt == nil {
			return fmt.Errorf("%w: %d", apperrors.ErrTicketTypeNotFound, req.TicketTypeID)
		}
		metrics.ObserveLockWait("issue", started)
		eventID = tt.EventID

		usage, err := s.types.Usage(ctx, tt.ID, s.now().Add(-s.cfg.GraceWindow))
		if err != nil {
			return err
		}
		if remaining := tt.Remaining(usage); req.Quantity > remaining {
			return &apperrors.CapacityError{
				TicketTypeID:   tt.ID,
				TicketTypeName: tt.Name,
				Reason:         apperrors.ReasonInsufficientInventory,
				Remaining:      remaining,
			}
		}

		var seller *string
		if soldBy != "" {
			seller = &soldBy
		}
		for i := 0; i < req.Quantity; i++ {
			issued = append(issued, &models.Ticket{
				TicketTypeID:   tt.ID,
				Token:          uuid.New(),
				PurchaserName:  strings.TrimSpace(req.Name),
				PurchaserEmail: strings.TrimSpace(req.Email),
				PaymentMethod:  req.PaymentMethod,
				SoldBy:         seller,
				Note:           req.Note,
			})
		}
		return s.tickets.CreateBatch(ctx, issued)
	})
	if err != nil {
		return nil, err
	}

	metrics.TicketsIssued(req.PaymentMethod, len(issued))
	logger.WithContext(ctx).Info("Tickets issued at the desk",
		"ticket_type_id", req.TicketTypeID,
		"count", len(issued),
		"payment_method", req.PaymentMethod)

	invalidate(ctx, s.cache, eventID)

	ids := make([]int64, len(issued))
	for i, t := range issued {
		ids[i] = t.ID
	}
	details, err := s.tickets.ListByIDs(ctx, ids)
	if err != nil || len(details) != len(issued) {
		details = make([]models.TicketDetails, len(issued))
		for i, t := range issued {
			details[i] = models.TicketDetails{Ticket: *t, EventID: eventID}
		}
	}

	publish(ctx, s.publisher, models.EventTicketsIssued, models.TicketsIssuedEvent{
		PaymentMethod: req.PaymentMethod,
		Tickets:       details,
		Timestamp:     s.now(),
	})

	if email := strings.TrimSpace(req.Email); email != "" {
		conf := dispatch.NewConfirmation(s.siteBaseURL, email, strings.TrimSpace(req.Name), details)
		if err := s.dispatcher.Dispatch(ctx, conf); err != nil {
			logger.WithContext(ctx).Error("Failed to dispatch confirmation", "error", err, "email", email)
		}
	}

	return details, nil
}

// Search finds issued tickets by purchaser email, name or token.
func (s *TicketService) Search(ctx context.Context, query string, size int) ([]models.TicketDetails, int64, error) {
	if s.index == nil {
		return nil, 0, apperrors.ErrSearchUnavailable
	}
	if size <= 0 || size > 100 {
		size = defaultSearchSize
	}
	return s.index.Search(ctx, strings.TrimSpace(query), size)
}

// RetryFailedDispatches re-queues recorded confirmation failures that are due for another attempt.
// It returns how many were handed back to the dispatcher.
func (s *TicketService) RetryFailedDispatches(ctx context.Context, limit int) (int, error) {
	if s.failures == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 100
	}

	pending, err := s.failures.ListPending(ctx, s.now().Add(-s.cfg.DispatchRetryInterval), s.cfg.DispatchMaxAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list dispatch failures: %w", err)
	}

	retried := 0
	for _, f := range pending {
		log := logger.WithContext(ctx).With("failure_id", f.ID, "email", f.Email, "attempts", f.Attempts)

		tickets, err := s.tickets.ListByTokens(ctx, f.TicketTokens)
		if err != nil {
			log.Error("Failed to load tickets for dispatch retry", "error", err)
			continue
		}
		if len(tickets) == 0 {
			if err := s.failures.RegisterAttempt(ctx, f.ID, "tickets no longer exist"); err != nil {
				log.Error("Failed to register dispatch attempt", "error", err)
			}
			continue
		}

		conf := dispatch.NewConfirmation(s.siteBaseURL, f.Email, f.Name, tickets)
		conf.FailureID = f.ID
		if err := s.dispatcher.Dispatch(ctx, conf); err != nil {
			// The dispatcher has already registered the attempt
			log.Warn("Dispatch retry failed", "error", err)
			continue
		}
		retried++
	}

	if len(pending) > 0 {
		logger.WithContext(ctx).Info("Dispatch retry pass finished", "pending", len(pending), "retried", retried)
	}
	return retried, nil
}
