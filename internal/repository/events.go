package repository

import (
	"context"
	"database/sql"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

type EventRepository struct {
	db *database.DB
}

func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (name, starts_at, published)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	return r.db.Conn(ctx).QueryRowContext(ctx, query,
		event.Name,
		event.StartsAt,
		event.Published,
	).Scan(&event.ID, &event.CreatedAt)
}

func (r *EventRepository) GetByID(ctx context.Context, id int64) (*models.Event, error) {
	event := &models.Event{}
	query := `
		SELECT id, name, starts_at, published, created_at
		FROM events
		WHERE id = $1`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.Name,
		&event.StartsAt,
		&event.Published,
		&event.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return event, err
}
