package repository

import (
	"strings"

	"boxoffice/internal/database"
	"boxoffice/internal/search"
)

type Repositories struct {
	Events           *EventRepository
	TicketTypes      *TicketTypeRepository
	Reservations     *ReservationRepository
	Tickets          *TicketRepository
	Notifications    *NotificationRepository
	DispatchFailures *DispatchFailureRepository
	Search           *TicketSearchRepository
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Events:           NewEventRepository(db),
		TicketTypes:      NewTicketTypeRepository(db),
		Reservations:     NewReservationRepository(db),
		Tickets:          NewTicketRepository(db),
		Notifications:    NewNotificationRepository(db),
		DispatchFailures: NewDispatchFailureRepository(db),
		Search:           NewTicketSearchRepository(nil), // Will be set when Elasticsearch client is available
	}
}

func NewRepositoriesWithElasticsearch(db *database.DB, es *search.ElasticsearchClient) *Repositories {
	repos := NewRepositories(db)
	repos.Search = NewTicketSearchRepository(es)
	return repos
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
