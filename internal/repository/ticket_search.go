package repository

import (
	"context"
	"time"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/search"
)

// TicketSearchRepository is the Elasticsearch-backed lookup index. The database stays the source of truth.
type TicketSearchRepository struct {
	es *search.ElasticsearchClient
}

func NewTicketSearchRepository(es *search.ElasticsearchClient) *TicketSearchRepository {
	return &TicketSearchRepository{es: es}
}

func (r *TicketSearchRepository) Enabled() bool {
	return r != nil && r.es != nil
}

func (r *TicketSearchRepository) IndexTickets(ctx context.Context, tickets []models.TicketDetails) error {
	if !r.Enabled() {
		return apperrors.ErrSearchUnavailable
	}
	return r.es.IndexTickets(ctx, tickets)
}

func (r *TicketSearchRepository) MarkCheckedIn(ctx context.Context, token string, at time.Time) error {
	if !r.Enabled() {
		return apperrors.ErrSearchUnavailable
	}
	return r.es.MarkCheckedIn(ctx, token, at)
}

func (r *TicketSearchRepository) Search(ctx context.Context, query string, size int) ([]models.TicketDetails, int64, error) {
	if !r.Enabled() {
		return nil, 0, apperrors.ErrSearchUnavailable
	}
	return r.es.Search(ctx, query, size)
}
