package models

import "time"

// NATS Event Types
const (
	EventReservationsCreated = "reservations.created"
	EventTicketsIssued       = "tickets.issued"
	EventReservationsReaped  = "reservations.reaped"
	EventLatePayment         = "checkout.late_payment"
	EventTicketCheckedIn     = "tickets.checked_in"
)

// ReservationsCreatedEvent is published after a hold batch commits
type ReservationsCreatedEvent struct {
	EventID       int64     `json:"event_id"`
	HoldIDs       []int64   `json:"hold_ids"`
	TicketTypeIDs []int64   `json:"ticket_type_ids"`
	ExpiresAt     time.Time `json:"expires_at"`
	Timestamp     time.Time `json:"timestamp"`
}

// TicketsIssuedEvent is published after fulfillment or administrative issuance commits
type TicketsIssuedEvent struct {
	SessionID     string          `json:"session_id,omitempty"`
	HoldIDs       []int64         `json:"hold_ids,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	Tickets       []TicketDetails `json:"tickets"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ReservationsReapedEvent carries the quantity returned to the pool per ticket type
type ReservationsReapedEvent struct {
	Deleted   int           `json:"deleted"`
	Skipped   int           `json:"skipped"`
	Freed     map[int64]int `json:"freed"`
	Timestamp time.Time     `json:"timestamp"`
}

// LatePaymentEvent flags a completed payment whose holds could no longer be honoured
type LatePaymentEvent struct {
	NotificationID string    `json:"notification_id"`
	SessionID      string    `json:"session_id"`
	HoldIDs        []int64   `json:"hold_ids"`
	Email          string    `json:"email"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}

// TicketCheckedInEvent is published when a ticket is scanned at the door
type TicketCheckedInEvent struct {
	Token       string    `json:"token"`
	CheckedInAt time.Time `json:"checked_in_at"`
	Timestamp   time.Time `json:"timestamp"`
}

// Confirmation is the message handed to the email collaborator
type Confirmation struct {
	Email   string               `json:"email"`
	Name    string               `json:"name"`
	Tickets []ConfirmationTicket `json:"tickets"`
	Resend  bool                 `json:"resend,omitempty"`
	// FailureID is set when the confirmation retries a recorded dispatch failure.
	FailureID int64 `json:"failure_id,omitempty"`
}

// ConfirmationTicket holds one scannable identifier
type ConfirmationTicket struct {
	Token      string `json:"token"`
	TicketType string `json:"ticket_type"`
	EventName  string `json:"event"`
	ScanURL    string `json:"scan_url,omitempty"`
}

// Tokens lists the ticket tokens carried by the confirmation.
func (c Confirmation) Tokens() []string {
	tokens := make([]string, len(c.Tickets))
	for i, t := range c.Tickets {
		tokens[i] = t.Token
	}
	return tokens
}
