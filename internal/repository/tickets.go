package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"boxoffice/internal/database"
	"boxoffice/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const ticketDetailsQuery = `
	SELECT t.id, t.ticket_type_id, t.reservation_id, t.token, t.purchaser_name, t.purchaser_email,
	       t.issued_at, t.checked_in_at, t.payment_method, t.sold_by, t.note,
	       tt.name, e.id, e.name
	FROM tickets t
	JOIN ticket_types tt ON tt.id = t.ticket_type_id
	JOIN events e ON e.id = tt.event_id`

type TicketRepository struct {
	db *database.DB
}

func NewTicketRepository(db *database.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func scanTicketDetails(row rowScanner) (*models.TicketDetails, error) {
	d := &models.TicketDetails{}
	err := row.Scan(
		&d.ID,
		&d.TicketTypeID,
		&d.ReservationID,
		&d.Token,
		&d.PurchaserName,
		&d.PurchaserEmail,
		&d.IssuedAt,
		&d.CheckedInAt,
		&d.PaymentMethod,
		&d.SoldBy,
		&d.Note,
		&d.TicketTypeName,
		&d.EventID,
		&d.EventName,
	)
	return d, err
}

// CreateBatch inserts tickets in one statement. Tokens are generated here when unset.
func (r *TicketRepository) CreateBatch(ctx context.Context, tickets []*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	const cols = 8
	var sb strings.Builder
	sb.WriteString(`INSERT INTO tickets (ticket_type_id, reservation_id, token, purchaser_name, purchaser_email, payment_method, sold_by, note) VALUES `)
	args := make([]any, 0, len(tickets)*cols)
	for i, t := range tickets {
		if t.Token == uuid.Nil {
			t.Token = uuid.New()
		}
		if i > 0 {
			sb.WriteString(",")
		}
		n := i * cols
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
		args = append(args, t.TicketTypeID, t.ReservationID, t.Token, t.PurchaserName, t.PurchaserEmail, t.PaymentMethod, t.SoldBy, t.Note)
	}
	sb.WriteString(` RETURNING id, issued_at`)

	rows, err := r.db.Conn(ctx).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to insert tickets: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(tickets) {
			return fmt.Errorf("insert returned more rows than tickets")
		}
		if err := rows.Scan(&tickets[i].ID, &tickets[i].IssuedAt); err != nil {
			return err
		}
		i++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if i != len(tickets) {
		return fmt.Errorf("insert returned %d rows for %d tickets", i, len(tickets))
	}
	return nil
}

func (r *TicketRepository) GetByToken(ctx context.Context, token uuid.UUID) (*models.TicketDetails, error) {
	d, err := scanTicketDetails(r.db.Conn(ctx).QueryRowContext(ctx, ticketDetailsQuery+` WHERE t.token = $1`, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return d, nil
}

// ListByTokens returns details for the given tokens, ordered by ticket id.
func (r *TicketRepository) ListByTokens(ctx context.Context, tokens []string) ([]models.TicketDetails, error) {
	return r.list(ctx, ticketDetailsQuery+` WHERE t.token::text = ANY($1) ORDER BY t.id`, pq.Array(tokens))
}

func (r *TicketRepository) ListByIDs(ctx context.Context, ids []int64) ([]models.TicketDetails, error) {
	return r.list(ctx, ticketDetailsQuery+` WHERE t.id = ANY($1) ORDER BY t.id`, pq.Array(ids))
}

func (r *TicketRepository) list(ctx context.Context, query string, args ...any) ([]models.TicketDetails, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.TicketDetails
	for rows.Next() {
		d, err := scanTicketDetails(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *d)
	}
	return tickets, rows.Err()
}

// CheckIn stamps the first scan of a ticket. It reports false when the ticket was already checked in.
func (r *TicketRepository) CheckIn(ctx context.Context, token uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE tickets SET checked_in_at = $2 WHERE token = $1 AND checked_in_at IS NULL`, token, at)
	if err != nil {
		return false, fmt.Errorf("failed to check in ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
