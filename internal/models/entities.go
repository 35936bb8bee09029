package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment methods recorded on issued tickets
const (
	PaymentMethodCard = "card"
	PaymentMethodCash = "cash"
	PaymentMethodComp = "comp"
)

// Event represents a timed event tickets are sold for
type Event struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	StartsAt  time.Time `json:"starts_at" db:"starts_at"`
	Published bool      `json:"published" db:"published"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TicketType is a per-event tier with a fixed capacity
type TicketType struct {
	ID          int64      `json:"id" db:"id"`
	EventID     int64      `json:"event_id" db:"event_id"`
	Name        string     `json:"name" db:"name"`
	PriceCents  int64      `json:"price_cents" db:"price_cents"`
	Quantity    int        `json:"quantity" db:"quantity"`
	SalesStart  *time.Time `json:"sales_start,omitempty" db:"sales_start"`
	SalesEnd    *time.Time `json:"sales_end,omitempty" db:"sales_end"`
	Active      bool       `json:"active" db:"active"`
	MaxPerOrder *int       `json:"max_per_order,omitempty" db:"max_per_order"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// IsOnSale reports whether the type is active and now falls inside the sales window.
// A missing bound is treated as unbounded.
func (t *TicketType) IsOnSale(now time.Time) bool {
	if !t.Active {
		return false
	}
	if t.SalesStart != nil && now.Before(*t.SalesStart) {
		return false
	}
	if t.SalesEnd != nil && now.After(*t.SalesEnd) {
		return false
	}
	return true
}

// Remaining returns capacity left after issued tickets and claimable holds, never below zero.
func (t *TicketType) Remaining(u Usage) int {
	left := t.Quantity - u.Issued - u.Held
	if left < 0 {
		return 0
	}
	return left
}

// Usage is the committed consumption of a ticket type at one instant
type Usage struct {
	Issued int `json:"issued"`
	Held   int `json:"held"`
}

// Reservation is a time-boxed hold on ticket inventory
type Reservation struct {
	ID             int64     `json:"id" db:"id"`
	TicketTypeID   int64     `json:"ticket_type_id" db:"ticket_type_id"`
	Quantity       int       `json:"quantity" db:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents" db:"unit_price_cents"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	Fulfilled      bool      `json:"fulfilled" db:"fulfilled"`
	SessionID      *string   `json:"session_id,omitempty" db:"session_id"`
	PurchaserEmail string    `json:"purchaser_email" db:"purchaser_email"`
	PurchaserName  string    `json:"purchaser_name" db:"purchaser_name"`
}

// Ticket is the issued, user-facing artifact
type Ticket struct {
	ID             int64      `json:"id" db:"id"`
	TicketTypeID   int64      `json:"ticket_type_id" db:"ticket_type_id"`
	ReservationID  *int64     `json:"reservation_id,omitempty" db:"reservation_id"`
	Token          uuid.UUID  `json:"token" db:"token"`
	PurchaserName  string     `json:"purchaser_name" db:"purchaser_name"`
	PurchaserEmail string     `json:"purchaser_email" db:"purchaser_email"`
	IssuedAt       time.Time  `json:"issued_at" db:"issued_at"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`
	PaymentMethod  string     `json:"payment_method" db:"payment_method"`
	SoldBy         *string    `json:"sold_by,omitempty" db:"sold_by"`
	Note           string     `json:"note,omitempty" db:"note"`
}

// TicketDetails joins a ticket with its type and event names
type TicketDetails struct {
	Ticket
	TicketTypeName string `json:"ticket_type"`
	EventID        int64  `json:"event_id"`
	EventName      string `json:"event"`
}

// ProcessedNotification is one row of the idempotency ledger
type ProcessedNotification struct {
	ID             int64     `json:"id" db:"id"`
	NotificationID string    `json:"notification_id" db:"notification_id"`
	Type           string    `json:"type" db:"type"`
	ProcessedAt    time.Time `json:"processed_at" db:"processed_at"`
}

// DispatchFailure records a confirmation that still has to reach its recipient
type DispatchFailure struct {
	ID            int64      `json:"id" db:"id"`
	Email         string     `json:"email" db:"email"`
	Name          string     `json:"name" db:"name"`
	TicketTokens  []string   `json:"ticket_tokens" db:"ticket_tokens"`
	Reason        string     `json:"reason" db:"reason"`
	Attempts      int        `json:"attempts" db:"attempts"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastAttemptAt time.Time  `json:"last_attempt_at" db:"last_attempt_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Selection is one requested line of a checkout
type Selection struct {
	TicketTypeID int64 `json:"ticket_type_id" binding:"required"`
	Quantity     int   `json:"quantity" binding:"required,min=1"`
}

// Purchaser is the identity captured at hold time
type Purchaser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
