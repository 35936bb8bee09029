package repository

import (
	"context"
	"fmt"
	"time"

	"boxoffice/internal/database"
	"boxoffice/internal/models"

	"github.com/lib/pq"
)

type DispatchFailureRepository struct {
	db *database.DB
}

func NewDispatchFailureRepository(db *database.DB) *DispatchFailureRepository {
	return &DispatchFailureRepository{db: db}
}

func (r *DispatchFailureRepository) Record(ctx context.Context, f *models.DispatchFailure) error {
	query := `
		INSERT INTO dispatch_failures (email, name, ticket_tokens, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, attempts, created_at, last_attempt_at`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query,
		f.Email,
		f.Name,
		pq.Array(f.TicketTokens),
		f.Reason,
	).Scan(&f.ID, &f.Attempts, &f.CreatedAt, &f.LastAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to record dispatch failure: %w", err)
	}
	return nil
}

// ListPending returns unresolved failures last attempted before retryBefore.
func (r *DispatchFailureRepository) ListPending(ctx context.Context, retryBefore time.Time, maxAttempts, limit int) ([]models.DispatchFailure, error) {
	query := `
		SELECT id, email, name, ticket_tokens, reason, attempts, created_at, last_attempt_at, resolved_at
		FROM dispatch_failures
		WHERE resolved_at IS NULL AND attempts < $1 AND last_attempt_at < $2
		ORDER BY last_attempt_at
		LIMIT $3`

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, maxAttempts, retryBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatch failures: %w", err)
	}
	defer rows.Close()

	var failures []models.DispatchFailure
	for rows.Next() {
		var f models.DispatchFailure
		if err := rows.Scan(
			&f.ID,
			&f.Email,
			&f.Name,
			pq.Array(&f.TicketTokens),
			&f.Reason,
			&f.Attempts,
			&f.CreatedAt,
			&f.LastAttemptAt,
			&f.ResolvedAt,
		); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func (r *DispatchFailureRepository) RegisterAttempt(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE dispatch_failures
		SET attempts = attempts + 1, last_attempt_at = NOW(), reason = $2
		WHERE id = $1`

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, id, reason); err != nil {
		return fmt.Errorf("failed to update dispatch failure %d: %w", id, err)
	}
	return nil
}

func (r *DispatchFailureRepository) MarkResolved(ctx context.Context, id int64) error {
	if _, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE dispatch_failures SET resolved_at = NOW() WHERE id = $1 AND resolved_at IS NULL`, id); err != nil {
		return fmt.Errorf("failed to resolve dispatch failure %d: %w", id, err)
	}
	return nil
}
