package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"boxoffice/internal/database"
	"boxoffice/internal/models"

	"github.com/lib/pq"
)

const reservationColumns = `id, ticket_type_id, quantity, unit_price_cents, created_at, expires_at, fulfilled, session_id, purchaser_email, purchaser_name`

type ReservationRepository struct {
	db *database.DB
}

func NewReservationRepository(db *database.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) queryReservations(ctx context.Context, query string, args ...any) ([]models.Reservation, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		var res models.Reservation
		if err := rows.Scan(
			&res.ID,
			&res.TicketTypeID,
			&res.Quantity,
			&res.UnitPriceCents,
			&res.CreatedAt,
			&res.ExpiresAt,
			&res.Fulfilled,
			&res.SessionID,
			&res.PurchaserEmail,
			&res.PurchaserName,
		); err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}

	return reservations, rows.Err()
}

// CreateBatch inserts all holds in one statement and fills in their ids.
func (r *ReservationRepository) CreateBatch(ctx context.Context, holds []*models.Reservation) error {
	if len(holds) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO reservations (ticket_type_id, quantity, unit_price_cents, expires_at, purchaser_email, purchaser_name) VALUES `)
	args := make([]any, 0, len(holds)*6)
	for i, h := range holds {
		if i > 0 {
			sb.WriteString(",")
		}
		n := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, h.TicketTypeID, h.Quantity, h.UnitPriceCents, h.ExpiresAt, h.PurchaserEmail, h.PurchaserName)
	}
	sb.WriteString(` RETURNING id, created_at`)

	rows, err := r.db.Conn(ctx).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to insert holds: %w", err)
	}
	defer rows.Close()

	// RETURNING yields rows in VALUES order for a single INSERT
	i := 0
	for rows.Next() {
		if i >= len(holds) {
			return fmt.Errorf("insert returned more rows than holds")
		}
		if err := rows.Scan(&holds[i].ID, &holds[i].CreatedAt); err != nil {
			return err
		}
		i++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if i != len(holds) {
		return fmt.Errorf("insert returned %d rows for %d holds", i, len(holds))
	}
	return nil
}

// AttachSession binds unfulfilled holds to a checkout session and extends
// their expiry to at least extendTo. Expiry never moves backwards.
func (r *ReservationRepository) AttachSession(ctx context.Context, ids []int64, sessionID string, extendTo time.Time) (int64, error) {
	query := `
		UPDATE reservations
		SET session_id = $1, expires_at = GREATEST(expires_at, $2)
		WHERE id = ANY($3) AND fulfilled = FALSE`

	res, err := r.db.Conn(ctx).ExecContext(ctx, query, sessionID, extendTo, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to attach session: %w", err)
	}
	return res.RowsAffected()
}

// LockForFulfillment locks the session's holds that can still be fulfilled, in id order.
func (r *ReservationRepository) LockForFulfillment(ctx context.Context, ids []int64, sessionID string, liveAfter time.Time) ([]models.Reservation, error) {
	if !database.InTx(ctx) {
		return nil, fmt.Errorf("fulfillment lock requested outside a transaction")
	}

	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE id = ANY($1) AND session_id = $2 AND fulfilled = FALSE AND expires_at > $3
		ORDER BY id
		FOR UPDATE`

	holds, err := r.queryReservations(ctx, query, pq.Array(ids), sessionID, liveAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to lock holds: %w", err)
	}
	return holds, nil
}

func (r *ReservationRepository) GetByIDs(ctx context.Context, ids []int64) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ANY($1) ORDER BY id`

	holds, err := r.queryReservations(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get holds: %w", err)
	}
	return holds, nil
}

func (r *ReservationRepository) MarkFulfilled(ctx context.Context, ids []int64) error {
	query := `UPDATE reservations SET fulfilled = TRUE WHERE id = ANY($1) AND fulfilled = FALSE`

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark holds fulfilled: %w", err)
	}
	return nil
}

// ListExpired returns unfulfilled holds that expired before cutoff, oldest first.
func (r *ReservationRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE fulfilled = FALSE AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`

	holds, err := r.queryReservations(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	return holds, nil
}

// LockReclaimable re-checks candidates under lock. Rows locked by a concurrent
// fulfillment are skipped rather than waited on.
func (r *ReservationRepository) LockReclaimable(ctx context.Context, ids []int64, cutoff time.Time) ([]models.Reservation, error) {
	if !database.InTx(ctx) {
		return nil, fmt.Errorf("reaper lock requested outside a transaction")
	}

	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE id = ANY($1) AND fulfilled = FALSE AND expires_at < $2
		ORDER BY id
		FOR UPDATE SKIP LOCKED`

	holds, err := r.queryReservations(ctx, query, pq.Array(ids), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to lock reclaimable holds: %w", err)
	}
	return holds, nil
}

func (r *ReservationRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM reservations WHERE id = ANY($1) AND fulfilled = FALSE`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete holds: %w", err)
	}
	return res.RowsAffected()
}
