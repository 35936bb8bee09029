package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

const ticketTypeColumns = `id, event_id, name, price_cents, quantity, sales_start, sales_end, active, max_per_order, created_at`

type TicketTypeRepository struct {
	db *database.DB
}

func NewTicketTypeRepository(db *database.DB) *TicketTypeRepository {
	return &TicketTypeRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicketType(row rowScanner) (*models.TicketType, error) {
	tt := &models.TicketType{}
	err := row.Scan(
		&tt.ID,
		&tt.EventID,
		&tt.Name,
		&tt.PriceCents,
		&tt.Quantity,
		&tt.SalesStart,
		&tt.SalesEnd,
		&tt.Active,
		&tt.MaxPerOrder,
		&tt.CreatedAt,
	)
	return tt, err
}

func (r *TicketTypeRepository) Create(ctx context.Context, tt *models.TicketType) error {
	query := `
		INSERT INTO ticket_types (event_id, name, price_cents, quantity, sales_start, sales_end, active, max_per_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	return r.db.Conn(ctx).QueryRowContext(ctx, query,
		tt.EventID,
		tt.Name,
		tt.PriceCents,
		tt.Quantity,
		tt.SalesStart,
		tt.SalesEnd,
		tt.Active,
		tt.MaxPerOrder,
	).Scan(&tt.ID, &tt.CreatedAt)
}

func (r *TicketTypeRepository) GetByID(ctx context.Context, id int64) (*models.TicketType, error) {
	query := `SELECT ` + ticketTypeColumns + ` FROM ticket_types WHERE id = $1`

	tt, err := scanTicketType(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tt, err
}

// LockForUpdate reads a ticket type and takes its row lock until the surrounding transaction ends.
// Callers locking several types must do so in ascending id order.
func (r *TicketTypeRepository) LockForUpdate(ctx context.Context, id int64) (*models.TicketType, error) {
	if !database.InTx(ctx) {
		return nil, fmt.Errorf("lock on ticket type %d requested outside a transaction", id)
	}

	query := `SELECT ` + ticketTypeColumns + ` FROM ticket_types WHERE id = $1 FOR UPDATE`

	tt, err := scanTicketType(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock ticket type %d: %w", id, err)
	}
	return tt, nil
}

// Usage counts issued tickets and unfulfilled holds still claimable after liveAfter.
func (r *TicketTypeRepository) Usage(ctx context.Context, id int64, liveAfter time.Time) (models.Usage, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM tickets WHERE ticket_type_id = $1),
			(SELECT COALESCE(SUM(quantity), 0) FROM reservations
			 WHERE ticket_type_id = $1 AND fulfilled = FALSE AND expires_at > $2)`

	var u models.Usage
	if err := r.db.Conn(ctx).QueryRowContext(ctx, query, id, liveAfter).Scan(&u.Issued, &u.Held); err != nil {
		return models.Usage{}, fmt.Errorf("failed to count usage of ticket type %d: %w", id, err)
	}
	return u, nil
}

// ListByEvent returns the event's ticket types with their usage, for display only.
func (r *TicketTypeRepository) ListByEvent(ctx context.Context, eventID int64, liveAfter time.Time) ([]models.TicketType, map[int64]models.Usage, error) {
	query := `
		SELECT ` + prefixed("tt", ticketTypeColumns) + `,
			(SELECT COUNT(*) FROM tickets t WHERE t.ticket_type_id = tt.id),
			(SELECT COALESCE(SUM(r.quantity), 0) FROM reservations r
			 WHERE r.ticket_type_id = tt.id AND r.fulfilled = FALSE AND r.expires_at > $2)
		FROM ticket_types tt
		WHERE tt.event_id = $1
		ORDER BY tt.price_cents, tt.id`

	rows, err := r.db.QueryWithRetry(ctx, query, eventID, liveAfter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list ticket types: %w", err)
	}
	defer rows.Close()

	var types []models.TicketType
	usage := make(map[int64]models.Usage)
	for rows.Next() {
		var (
			tt models.TicketType
			u  models.Usage
		)
		if err := rows.Scan(
			&tt.ID,
			&tt.EventID,
			&tt.Name,
			&tt.PriceCents,
			&tt.Quantity,
			&tt.SalesStart,
			&tt.SalesEnd,
			&tt.Active,
			&tt.MaxPerOrder,
			&tt.CreatedAt,
			&u.Issued,
			&u.Held,
		); err != nil {
			return nil, nil, err
		}
		types = append(types, tt)
		usage[tt.ID] = u
	}

	return types, usage, rows.Err()
}
