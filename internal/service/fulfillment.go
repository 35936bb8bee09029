package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"boxoffice/internal/config"
	"boxoffice/internal/dispatch"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/external"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"

	"github.com/google/uuid"
)

// Webhook outcomes reported back to the provider
const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
)

// Result describes what a notification did. Duplicate and first-time deliveries are both successes.
type Result struct {
	Duplicate bool
	Ignored   bool
	Issued    []models.TicketDetails
}

func (r Result) Status() string {
	switch {
	case r.Duplicate:
		return StatusDuplicate
	case r.Ignored:
		return StatusIgnored
	default:
		return StatusProcessed
	}
}

type FulfillmentService struct {
	tx          Transactor
	holds       ReservationStore
	tickets     TicketStore
	ledger      NotificationLedger
	verifier    WebhookVerifier
	publisher   EventPublisher
	dispatcher  Dispatcher
	cfg         config.ReservationConfig
	siteBaseURL string
	now         func() time.Time

	wg sync.WaitGroup
}

func NewFulfillmentService(tx Transactor, holds ReservationStore, tickets TicketStore, ledger NotificationLedger, verifier WebhookVerifier, publisher EventPublisher, dispatcher Dispatcher, cfg config.ReservationConfig, siteBaseURL string) *FulfillmentService {
	return &FulfillmentService{
		tx:          tx,
		holds:       holds,
		tickets:     tickets,
		ledger:      ledger,
		verifier:    verifier,
		publisher:   publisher,
		dispatcher:  dispatcher,
		cfg:         cfg,
		siteBaseURL: siteBaseURL,
		now:         time.Now,
	}
}

// HandleWebhook verifies a raw provider notification and fulfills it when it reports a completed checkout.
func (s *FulfillmentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (Result, error) {
	event, err := s.verifier.Verify(rawBody, signature)
	if err != nil {
		metrics.WebhookOutcome("rejected")
		logger.WithContext(ctx).Warn("Rejected checkout notification", "error", err)
		return Result{}, err
	}

	if event.Type != external.EventCheckoutCompleted {
		metrics.WebhookOutcome(StatusIgnored)
		logger.WithContext(ctx).Info("Ignoring checkout notification",
			"notification_id", event.ID,
			"type", event.Type)
		return Result{Ignored: true}, nil
	}

	result, err := s.Fulfill(ctx, event)
	if err != nil {
		metrics.WebhookOutcome("failed")
		return Result{}, err
	}
	metrics.WebhookOutcome(result.Status())
	return result, nil
}

// Fulfill converts the holds named by a verified notification into tickets exactly once.
// The ledger insert, the hold locks, ticket issuance and the fulfilled flag share one transaction.
func (s *FulfillmentService) Fulfill(ctx context.Context, event *external.VerifiedEvent) (Result, error) {
	session := event.Session()
	holdIDs := event.HoldIDs()
	log := logger.WithContext(ctx).With(
		"notification_id", event.ID,
		"session_id", session.ID,
		"hold_ids", holdIDs)

	var (
		issued    []*models.Ticket
		locked    []models.Reservation
		liveAfter time.Time
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		first, err := s.ledger.MarkProcessed(ctx, event.ID, event.Type)
		if err != nil {
			return err
		}
		if !first {
			return apperrors.ErrDuplicateNotification
		}

		liveAfter = s.now().Add(-s.cfg.GraceWindow)
		if len(holdIDs) == 0 || session.ID == "" {
			return nil
		}

		started := time.Now()
		locked, err = s.holds.LockForFulfillment(ctx, holdIDs, session.ID, liveAfter)
		if err != nil {
			return err
		}
		metrics.ObserveLockWait("fulfill", started)
		if len(locked) == 0 {
			return nil
		}

		email := event.CustomerEmail()
		name := event.CustomerName()
		var soldBy *string
		if v := session.Metadata[external.MetaSoldBy]; v != "" {
			soldBy = &v
		}

		fulfilled := make([]int64, 0, len(locked))
		for _, h := range locked {
			holdID := h.ID
			for i := 0; i < h.Quantity; i++ {
				issued = append(issued, &models.Ticket{
					TicketTypeID:   h.TicketTypeID,
					ReservationID:  &holdID,
					Token:          uuid.New(),
					PurchaserName:  firstNonEmpty(name, h.PurchaserName),
					PurchaserEmail: firstNonEmpty(email, h.PurchaserEmail),
					PaymentMethod:  models.PaymentMethodCard,
					SoldBy:         soldBy,
				})
			}
			fulfilled = append(fulfilled, holdID)
		}

		if err := s.tickets.CreateBatch(ctx, issued); err != nil {
			return err
		}
		return s.holds.MarkFulfilled(ctx, fulfilled)
	})

	if errors.Is(err, apperrors.ErrDuplicateNotification) {
		log.Info("Duplicate checkout notification")
		return Result{Duplicate: true}, nil
	}
	if err != nil {
		log.Error("Failed to fulfill checkout", "error", err)
		return Result{}, err
	}

	s.reportUnclaimed(ctx, event, holdIDs, locked, liveAfter)

	if len(issued) == 0 {
		log.Info("Checkout notification matched no open holds")
		return Result{}, nil
	}

	metrics.TicketsIssued(models.PaymentMethodCard, len(issued))
	log.Info("Tickets issued", "count", len(issued))

	details := s.loadDetails(ctx, issued)
	publish(ctx, s.publisher, models.EventTicketsIssued, models.TicketsIssuedEvent{
		SessionID:     session.ID,
		HoldIDs:       holdIDs,
		PaymentMethod: models.PaymentMethodCard,
		Tickets:       details,
		Timestamp:     s.now(),
	})

	// Holds of one checkout session share a purchaser, so the first carries it for all
	email := firstNonEmpty(event.CustomerEmail(), locked[0].PurchaserEmail)
	name := firstNonEmpty(event.CustomerName(), locked[0].PurchaserName)
	s.dispatchAsync(ctx, dispatch.NewConfirmation(s.siteBaseURL, email, name, details))

	return Result{Issued: details}, nil
}

// loadDetails re-reads issued tickets with type and event names; on failure it falls back to bare tickets.
func (s *FulfillmentService) loadDetails(ctx context.Context, issued []*models.Ticket) []models.TicketDetails {
	ids := make([]int64, len(issued))
	for i, t := range issued {
		ids[i] = t.ID
	}

	details, err := s.tickets.ListByIDs(ctx, ids)
	if err == nil && len(details) == len(issued) {
		return details
	}
	if err != nil {
		logger.WithContext(ctx).Warn("Failed to load issued ticket details", "error", err)
	}

	details = make([]models.TicketDetails, len(issued))
	for i, t := range issued {
		details[i] = models.TicketDetails{Ticket: *t}
	}
	return details
}

// reportUnclaimed logs hold ids the notification named but fulfillment did not lock, and raises a
// late payment event when any of them had already left the grace window.
func (s *FulfillmentService) reportUnclaimed(ctx context.Context, event *external.VerifiedEvent, holdIDs []int64, locked []models.Reservation, liveAfter time.Time) {
	if len(holdIDs) == 0 {
		return
	}

	got := make(map[int64]bool, len(locked))
	for _, h := range locked {
		got[h.ID] = true
	}
	var missing []int64
	for _, id := range holdIDs {
		if !got[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return
	}

	log := logger.WithContext(ctx).With("notification_id", event.ID, "session_id", event.Session().ID)
	log.Warn("Holds named by notification were not fulfilled", "hold_ids", missing)

	current, err := s.holds.GetByIDs(ctx, missing)
	if err != nil {
		log.Error("Failed to inspect unfulfilled holds", "error", err)
		return
	}

	found := make(map[int64]models.Reservation, len(current))
	for _, h := range current {
		found[h.ID] = h
	}
	var late []int64
	for _, id := range missing {
		h, ok := found[id]
		// Gone means reaped; an open hold past the grace window can no longer be honoured
		if !ok || (!h.Fulfilled && !h.ExpiresAt.After(liveAfter)) {
			late = append(late, id)
		}
	}
	if len(late) == 0 {
		return
	}

	log.Error("Payment completed after holds expired", "hold_ids", late)
	publish(ctx, s.publisher, models.EventLatePayment, models.LatePaymentEvent{
		NotificationID: event.ID,
		SessionID:      event.Session().ID,
		HoldIDs:        late,
		Email:          event.CustomerEmail(),
		Reason:         "holds expired or reclaimed before payment completed",
		Timestamp:      s.now(),
	})
}

// dispatchAsync hands the confirmation off without holding up the webhook response.
func (s *FulfillmentService) dispatchAsync(ctx context.Context, conf models.Confirmation) {
	if s.dispatcher == nil {
		logger.WithContext(ctx).Error("Confirmation not dispatched: no dispatcher configured",
			"email", conf.Email,
			"tickets", conf.Tokens())
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		if err := s.dispatcher.Dispatch(dctx, conf); err != nil {
			logger.WithContext(ctx).Error("Failed to dispatch confirmation",
				"error", err,
				"email", conf.Email,
				"tickets", conf.Tokens())
		}
	}()
}

// Wait blocks until in-flight confirmation dispatches finish or ctx is done.
func (s *FulfillmentService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
