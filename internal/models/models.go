package models

import (
	"fmt"
	"strings"
	"time"
)

// FlexibleBool - гибкий boolean тип, поддерживающий строки и числа
type FlexibleBool bool

// UnmarshalJSON поддерживает парсинг boolean из строки, числа и boolean
func (fb *FlexibleBool) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)

	switch strings.ToLower(str) {
	case "true", "1", "yes", "on":
		*fb = true
	case "false", "0", "no", "off", "null", "":
		*fb = false
	default:
		return fmt.Errorf("invalid boolean value: %s", str)
	}
	return nil
}

// Bool возвращает bool значение
func (fb FlexibleBool) Bool() bool {
	return bool(fb)
}

// CheckoutRequest - запрос на оформление покупки билетов
type CheckoutRequest struct {
	Items  []Selection `json:"items" binding:"required,min=1,dive"`
	Email  string      `json:"email"`
	Name   string      `json:"name"`
	SoldBy string      `json:"sold_by,omitempty"`
}

// CheckoutResponse - ответ с данными платежной сессии
type CheckoutResponse struct {
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	HoldIDs     []int64   `json:"hold_ids"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TicketTypeAvailability - остаток билетов по типу
type TicketTypeAvailability struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PriceCents  int64  `json:"price_cents"`
	Price       string `json:"price"`
	Remaining   int    `json:"remaining"`
	OnSale      bool   `json:"on_sale"`
	MaxPerOrder *int   `json:"max_per_order,omitempty"`
}

// AvailabilityResponse - список типов билетов события с остатками
type AvailabilityResponse struct {
	EventID     int64                    `json:"event_id"`
	EventName   string                   `json:"event"`
	TicketTypes []TicketTypeAvailability `json:"ticket_types"`
}

// WebhookResponse - ответ на уведомление платежного провайдера
type WebhookResponse struct {
	Status string `json:"status"`
}

// IssueTicketsRequest - ручной выпуск билетов (наличные / пригласительные)
type IssueTicketsRequest struct {
	TicketTypeID  int64  `json:"ticket_type_id" binding:"required"`
	Quantity      int    `json:"quantity" binding:"required,min=1"`
	PaymentMethod string `json:"payment_method" binding:"required,oneof=cash comp"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Note          string `json:"note"`
}

// IssueTicketsResponse - выпущенные билеты
type IssueTicketsResponse struct {
	Tickets []TicketDetails `json:"tickets"`
}

// CheckInResponse - результат отметки о проходе
type CheckInResponse struct {
	Status string        `json:"status"`
	Ticket TicketDetails `json:"ticket"`
}

// SweepRequest - ручной запуск очистки просроченных броней
type SweepRequest struct {
	OlderThanMin int          `json:"older_than_min"`
	Limit        int          `json:"limit"`
	DryRun       FlexibleBool `json:"dry_run"`
}

// TicketSearchResponse - результат поиска билетов
type TicketSearchResponse struct {
	Total   int64           `json:"total"`
	Tickets []TicketDetails `json:"tickets"`
}
