package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"boxoffice/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockIndexer struct{ mock.Mock }

func (m *MockIndexer) Enabled() bool { return m.Called().Bool(0) }

func (m *MockIndexer) IndexTickets(ctx context.Context, tickets []models.TicketDetails) error {
	return m.Called(ctx, tickets).Error(0)
}

func (m *MockIndexer) MarkCheckedIn(ctx context.Context, token string, at time.Time) error {
	return m.Called(ctx, token, at).Error(0)
}

type MockInvalidator struct{ mock.Mock }

func (m *MockInvalidator) InvalidateAvailability(ctx context.Context, eventIDs ...int64) error {
	return m.Called(ctx, eventIDs).Error(0)
}

type MockTypes struct{ mock.Mock }

func (m *MockTypes) GetByID(ctx context.Context, id int64) (*models.TicketType, error) {
	args := m.Called(ctx, id)
	if t := args.Get(0); t != nil {
		return t.(*models.TicketType), args.Error(1)
	}
	return nil, args.Error(1)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestTicketsIssuedIndexesAndInvalidates(t *testing.T) {
	index := &MockIndexer{}
	cache := &MockInvalidator{}
	h := NewHandlers(index, cache, &MockTypes{})

	tickets := []models.TicketDetails{{EventID: 4}, {EventID: 4}, {EventID: 9}}
	index.On("Enabled").Return(true)
	index.On("IndexTickets", mock.Anything, mock.MatchedBy(func(got []models.TicketDetails) bool { return len(got) == 3 })).Return(nil)
	cache.On("InvalidateAvailability", mock.Anything, []int64{4, 9}).Return(nil)

	err := h.ticketsIssued(context.Background(), mustJSON(t, models.TicketsIssuedEvent{Tickets: tickets}))
	require.NoError(t, err)
	index.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestTicketsIssuedIndexFailureIsRetried(t *testing.T) {
	index := &MockIndexer{}
	h := NewHandlers(index, nil, &MockTypes{})

	index.On("Enabled").Return(true)
	index.On("IndexTickets", mock.Anything, mock.Anything).Return(errors.New("es down"))

	err := h.ticketsIssued(context.Background(), mustJSON(t, models.TicketsIssuedEvent{Tickets: []models.TicketDetails{{EventID: 1}}}))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errUndecodable)
}

func TestTicketsIssuedSearchDisabled(t *testing.T) {
	index := &MockIndexer{}
	h := NewHandlers(index, nil, &MockTypes{})
	index.On("Enabled").Return(false)

	err := h.ticketsIssued(context.Background(), mustJSON(t, models.TicketsIssuedEvent{Tickets: []models.TicketDetails{{EventID: 1}}}))
	require.NoError(t, err)
	index.AssertNotCalled(t, "IndexTickets", mock.Anything, mock.Anything)
}

func TestReservationsReapedResolvesEvents(t *testing.T) {
	cache := &MockInvalidator{}
	types := &MockTypes{}
	h := NewHandlers(nil, cache, types)

	types.On("GetByID", mock.Anything, int64(3)).Return(&models.TicketType{ID: 3, EventID: 12}, nil)
	cache.On("InvalidateAvailability", mock.Anything, []int64{12}).Return(nil)

	err := h.reservationsReaped(context.Background(), mustJSON(t, models.ReservationsReapedEvent{
		Deleted: 1,
		Freed:   map[int64]int{3: 2},
	}))
	require.NoError(t, err)
	cache.AssertExpectations(t)
}

func TestTicketCheckedInUpdatesIndex(t *testing.T) {
	index := &MockIndexer{}
	h := NewHandlers(index, nil, &MockTypes{})
	at := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)

	index.On("Enabled").Return(true)
	index.On("MarkCheckedIn", mock.Anything, "tok", at).Return(nil)

	err := h.ticketCheckedIn(context.Background(), mustJSON(t, models.TicketCheckedInEvent{Token: "tok", CheckedInAt: at}))
	require.NoError(t, err)
	index.AssertExpectations(t)
}

func TestUndecodableMessage(t *testing.T) {
	h := NewHandlers(nil, nil, &MockTypes{})

	err := h.reservationsCreated(context.Background(), []byte(`{not json`))
	assert.ErrorIs(t, err, errUndecodable)
}
