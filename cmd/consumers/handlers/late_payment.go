package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"boxoffice/internal/dispatch"
	"boxoffice/internal/models"

	"github.com/nats-io/stan.go"
)

// LatePaymentHandler alerts operators about payments whose holds were already gone,
// so the purchaser can be refunded or issued tickets by hand.
type LatePaymentHandler struct {
	mailer   dispatch.Mailer
	opsEmail string
}

// NewLatePaymentHandler creates the handler. With no ops address the alert is only logged.
func NewLatePaymentHandler(mailer dispatch.Mailer, opsEmail string) *LatePaymentHandler {
	return &LatePaymentHandler{
		mailer:   mailer,
		opsEmail: opsEmail,
	}
}

func (h *LatePaymentHandler) HandleLatePayment(msg *stan.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var event models.LatePaymentEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		slog.Error("Failed to unmarshal late payment event", "error", err)
		_ = msg.Ack()
		return
	}

	slog.Warn("Payment completed for reservations that no longer exist",
		"notification_id", event.NotificationID,
		"session_id", event.SessionID,
		"hold_ids", event.HoldIDs,
		"email", event.Email,
		"reason", event.Reason)

	if err := h.notify(ctx, event); err != nil {
		// Leave unacked so the alert is redelivered
		slog.Error("Failed to alert operators about late payment", "error", err, "session_id", event.SessionID)
		return
	}

	_ = msg.Ack()
}

func (h *LatePaymentHandler) notify(ctx context.Context, event models.LatePaymentEvent) error {
	if h.opsEmail == "" || h.mailer == nil {
		return nil
	}
	return h.mailer.Send(ctx, renderLatePayment(h.opsEmail, event))
}

func renderLatePayment(to string, event models.LatePaymentEvent) dispatch.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "A checkout session was paid but its reservations could not be honoured.\n\n")
	fmt.Fprintf(&b, "Session:      %s\n", event.SessionID)
	fmt.Fprintf(&b, "Notification: %s\n", event.NotificationID)
	fmt.Fprintf(&b, "Purchaser:    %s\n", event.Email)
	fmt.Fprintf(&b, "Holds:        %v\n", event.HoldIDs)
	fmt.Fprintf(&b, "Reason:       %s\n", event.Reason)
	fmt.Fprintf(&b, "Received:     %s\n", event.Timestamp.Format(time.RFC3339))

	return dispatch.Message{
		To:      to,
		Subject: "Late payment for session " + event.SessionID,
		Text:    b.String(),
	}
}
