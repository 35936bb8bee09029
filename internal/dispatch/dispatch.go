package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
)

// Publisher hands a message to the confirmation queue
type Publisher interface {
	PublishJSON(ctx context.Context, v any) error
}

// FailureStore keeps confirmations that did not reach their recipient
type FailureStore interface {
	Record(ctx context.Context, f *models.DispatchFailure) error
	RegisterAttempt(ctx context.Context, id int64, reason string) error
	MarkResolved(ctx context.Context, id int64) error
}

// QueueDispatcher enqueues confirmations for the mail worker.
type QueueDispatcher struct {
	publisher Publisher
	failures  FailureStore
}

func NewQueueDispatcher(publisher Publisher, failures FailureStore) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher, failures: failures}
}

// Dispatch enqueues conf. When the queue is unreachable the failure is recorded
// for the retry job and returned as a DispatchFailure.
func (d *QueueDispatcher) Dispatch(ctx context.Context, conf models.Confirmation) error {
	if conf.Email == "" {
		return apperrors.ErrNoRecipient
	}

	err := d.publisher.PublishJSON(ctx, conf)
	if err == nil {
		return nil
	}

	metrics.DispatchFailed()
	recordFailure(ctx, d.failures, conf, err)
	return &apperrors.DispatchFailure{Email: conf.Email, Tokens: conf.Tokens(), Err: err}
}

// Worker delivers queued confirmations through a Mailer.
type Worker struct {
	mailer   Mailer
	failures FailureStore
}

func NewWorker(mailer Mailer, failures FailureStore) *Worker {
	return &Worker{mailer: mailer, failures: failures}
}

// Handle processes one queue delivery. Delivery failures are recorded and acknowledged;
// only undecodable messages are returned as errors.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var conf models.Confirmation
	if err := json.Unmarshal(body, &conf); err != nil {
		return fmt.Errorf("failed to decode confirmation: %w", err)
	}

	log := logger.WithContext(ctx).With("email", conf.Email, "tickets", strings.Join(conf.Tokens(), ","))

	msg, err := Render(conf)
	if err == nil {
		err = w.mailer.Send(ctx, msg)
	}
	if err != nil {
		metrics.DispatchFailed()
		log.Error("Failed to send confirmation", "error", err, "failure_id", conf.FailureID)
		recordFailure(ctx, w.failures, conf, err)
		return nil
	}

	metrics.DispatchSent()
	log.Info("Confirmation sent", "resend", conf.Resend)

	if conf.FailureID != 0 {
		if err := w.failures.MarkResolved(ctx, conf.FailureID); err != nil {
			log.Error("Failed to resolve dispatch failure", "error", err, "failure_id", conf.FailureID)
		}
	}
	return nil
}

func recordFailure(ctx context.Context, store FailureStore, conf models.Confirmation, cause error) {
	if store == nil {
		return
	}

	var err error
	if conf.FailureID != 0 {
		err = store.RegisterAttempt(ctx, conf.FailureID, cause.Error())
	} else {
		err = store.Record(ctx, &models.DispatchFailure{
			Email:        conf.Email,
			Name:         conf.Name,
			TicketTokens: conf.Tokens(),
			Reason:       cause.Error(),
		})
	}
	if err != nil {
		logger.WithContext(ctx).Error("Failed to record dispatch failure",
			"error", err, "email", conf.Email, "cause", cause)
	}
}
