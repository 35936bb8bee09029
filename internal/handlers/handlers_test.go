package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/external"
	"boxoffice/internal/models"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCheckout struct{ mock.Mock }

func (m *MockCheckout) StartCheckout(ctx context.Context, eventID int64, req *models.CheckoutRequest) (*models.CheckoutResponse, error) {
	args := m.Called(ctx, eventID, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*models.CheckoutResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockAvailability struct{ mock.Mock }

func (m *MockAvailability) Availability(ctx context.Context, eventID int64) (*models.AvailabilityResponse, error) {
	args := m.Called(ctx, eventID)
	if resp := args.Get(0); resp != nil {
		return resp.(*models.AvailabilityResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockFulfillment struct{ mock.Mock }

func (m *MockFulfillment) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (service.Result, error) {
	args := m.Called(ctx, rawBody, signature)
	return args.Get(0).(service.Result), args.Error(1)
}

type MockTickets struct{ mock.Mock }

func (m *MockTickets) Lookup(ctx context.Context, token string) (*models.TicketDetails, error) {
	args := m.Called(ctx, token)
	if t := args.Get(0); t != nil {
		return t.(*models.TicketDetails), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTickets) Resend(ctx context.Context, token string) (*models.TicketDetails, error) {
	args := m.Called(ctx, token)
	if t := args.Get(0); t != nil {
		return t.(*models.TicketDetails), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTickets) CheckIn(ctx context.Context, token string) (*models.TicketDetails, bool, error) {
	args := m.Called(ctx, token)
	if t := args.Get(0); t != nil {
		return t.(*models.TicketDetails), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *MockTickets) Issue(ctx context.Context, req *models.IssueTicketsRequest, soldBy string) ([]models.TicketDetails, error) {
	args := m.Called(ctx, req, soldBy)
	if t := args.Get(0); t != nil {
		return t.([]models.TicketDetails), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTickets) Search(ctx context.Context, query string, size int) ([]models.TicketDetails, int64, error) {
	args := m.Called(ctx, query, size)
	if t := args.Get(0); t != nil {
		return t.([]models.TicketDetails), args.Get(1).(int64), args.Error(2)
	}
	return nil, 0, args.Error(2)
}

type MockReaper struct{ mock.Mock }

func (m *MockReaper) Sweep(ctx context.Context, opts service.SweepOptions) (*service.SweepResult, error) {
	args := m.Called(ctx, opts)
	if r := args.Get(0); r != nil {
		return r.(*service.SweepResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mocks struct {
	checkout     *MockCheckout
	availability *MockAvailability
	fulfillment  *MockFulfillment
	tickets      *MockTickets
	reaper       *MockReaper
}

func setupRouter() (*gin.Engine, *mocks) {
	gin.SetMode(gin.TestMode)
	m := &mocks{
		checkout:     &MockCheckout{},
		availability: &MockAvailability{},
		fulfillment:  &MockFulfillment{},
		tickets:      &MockTickets{},
		reaper:       &MockReaper{},
	}
	h := &Handlers{
		checkout:     m.checkout,
		availability: m.availability,
		fulfillment:  m.fulfillment,
		tickets:      m.tickets,
		reaper:       m.reaper,
	}

	r := gin.New()
	api := r.Group("/api")
	{
		api.POST("/events/:id/checkout", h.StartCheckout)
		api.GET("/events/:id/ticket-types", h.ListTicketTypes)
		api.POST("/checkout/webhook", h.CheckoutWebhook)
		api.GET("/tickets/:token", h.GetTicket)

		admin := api.Group("/admin")
		admin.POST("/tickets/issue", h.IssueTickets)
		admin.GET("/tickets/search", h.SearchTickets)
		admin.POST("/tickets/:token/resend", h.ResendTicket)
		admin.POST("/tickets/:token/checkin", h.CheckInTicket)
		admin.POST("/reaper/sweep", h.SweepReservations)
	}
	return r, m
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func checkoutBody() models.CheckoutRequest {
	return models.CheckoutRequest{
		Items: []models.Selection{{TicketTypeID: 3, Quantity: 2}},
		Email: "fan@example.com",
		Name:  "Fan",
	}
}

func TestStartCheckout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "created", want: http.StatusCreated},
		{name: "capacity", err: &apperrors.CapacityError{TicketTypeID: 3, TicketTypeName: "VIP", Reason: apperrors.ReasonInsufficientInventory, Remaining: 1}, want: http.StatusConflict},
		{name: "unknown event", err: apperrors.ErrEventNotFound, want: http.StatusNotFound},
		{name: "unknown type", err: fmt.Errorf("%w: 3", apperrors.ErrTicketTypeNotFound), want: http.StatusNotFound},
		{name: "provider down", err: fmt.Errorf("%w: timeout", apperrors.ErrProviderFailure), want: http.StatusBadGateway},
		{name: "database", err: errors.New("connection reset"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, m := setupRouter()
			var resp *models.CheckoutResponse
			if tt.err == nil {
				resp = &models.CheckoutResponse{SessionID: "cs_1", CheckoutURL: "https://pay/cs_1", HoldIDs: []int64{9}, ExpiresAt: time.Now()}
			}
			m.checkout.On("StartCheckout", mock.Anything, int64(5), mock.AnythingOfType("*models.CheckoutRequest")).
				Return(resp, tt.err)

			w := doJSON(r, http.MethodPost, "/api/events/5/checkout", checkoutBody())
			assert.Equal(t, tt.want, w.Code)
			m.checkout.AssertExpectations(t)
		})
	}
}

func TestStartCheckoutCapacityDetail(t *testing.T) {
	r, m := setupRouter()
	m.checkout.On("StartCheckout", mock.Anything, int64(5), mock.Anything).
		Return(nil, &apperrors.CapacityError{TicketTypeID: 3, TicketTypeName: "VIP", Reason: apperrors.ReasonInsufficientInventory, Remaining: 1})

	w := doJSON(r, http.MethodPost, "/api/events/5/checkout", checkoutBody())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "insufficient-inventory-remaining:1", body["error"])
	assert.Equal(t, "VIP", body["ticket_type"])
}

func TestStartCheckoutValidation(t *testing.T) {
	r, m := setupRouter()

	w := doJSON(r, http.MethodPost, "/api/events/5/checkout", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/events/abc/checkout", checkoutBody())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/events/5/checkout", map[string]any{
		"items": []map[string]any{{"ticket_type_id": 3, "quantity": 0}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	m.checkout.AssertNotCalled(t, "StartCheckout", mock.Anything, mock.Anything, mock.Anything)
}

func TestListTicketTypes(t *testing.T) {
	r, m := setupRouter()
	m.availability.On("Availability", mock.Anything, int64(5)).Return(&models.AvailabilityResponse{
		EventID: 5,
		TicketTypes: []models.TicketTypeAvailability{
			{ID: 3, Name: "General", PriceCents: 2500, Price: "25.00", Remaining: 10, OnSale: true},
		},
	}, nil)
	m.availability.On("Availability", mock.Anything, int64(6)).Return(nil, apperrors.ErrEventNotFound)

	w := doJSON(r, http.MethodGet, "/api/events/5/ticket-types", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price":"25.00"`)

	w = doJSON(r, http.MethodGet, "/api/events/6/ticket-types", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutWebhook(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	tests := []struct {
		name       string
		result     service.Result
		err        error
		wantCode   int
		wantStatus string
	}{
		{name: "processed", result: service.Result{Issued: []models.TicketDetails{{}}}, wantCode: http.StatusOK, wantStatus: "processed"},
		{name: "duplicate", result: service.Result{Duplicate: true}, wantCode: http.StatusOK, wantStatus: "duplicate"},
		{name: "ignored", result: service.Result{Ignored: true}, wantCode: http.StatusOK, wantStatus: "ignored"},
		{name: "bad signature", err: &apperrors.AuthenticityError{Reason: "signature mismatch"}, wantCode: http.StatusBadRequest},
		{name: "transient", err: errors.New("deadlock detected"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, m := setupRouter()
			m.fulfillment.On("HandleWebhook", mock.Anything, payload, "t=1,v1=ab").Return(tt.result, tt.err)

			req, _ := http.NewRequest(http.MethodPost, "/api/checkout/webhook", bytes.NewReader(payload))
			req.Header.Set(external.SignatureHeader, "t=1,v1=ab")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantStatus != "" {
				var resp models.WebhookResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantStatus, resp.Status)
			}
			m.fulfillment.AssertExpectations(t)
		})
	}
}

func TestGetTicket(t *testing.T) {
	r, m := setupRouter()
	token := uuid.New()
	m.tickets.On("Lookup", mock.Anything, token.String()).
		Return(&models.TicketDetails{Ticket: models.Ticket{Token: token}, EventName: "Concert"}, nil)
	m.tickets.On("Lookup", mock.Anything, "missing").Return(nil, apperrors.ErrTicketNotFound)

	w := doJSON(r, http.MethodGet, "/api/tickets/"+token.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), token.String())

	w = doJSON(r, http.MethodGet, "/api/tickets/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResendTicket(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "sent", want: http.StatusOK},
		{name: "unknown", err: apperrors.ErrTicketNotFound, want: http.StatusNotFound},
		{name: "no email", err: apperrors.ErrNoRecipient, want: http.StatusUnprocessableEntity},
		{name: "dispatch failed", err: &apperrors.DispatchFailure{Email: "a@b.c", Err: errors.New("queue down")}, want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, m := setupRouter()
			var ticket *models.TicketDetails
			if tt.err == nil {
				ticket = &models.TicketDetails{Ticket: models.Ticket{PurchaserEmail: "a@b.c"}}
			}
			m.tickets.On("Resend", mock.Anything, "tok").Return(ticket, tt.err)

			w := doJSON(r, http.MethodPost, "/api/admin/tickets/tok/resend", nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestCheckInTicket(t *testing.T) {
	r, m := setupRouter()
	m.tickets.On("CheckIn", mock.Anything, "first").Return(&models.TicketDetails{}, false, nil)
	m.tickets.On("CheckIn", mock.Anything, "again").Return(&models.TicketDetails{}, true, nil)

	w := doJSON(r, http.MethodPost, "/api/admin/tickets/first/checkin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = doJSON(r, http.MethodPost, "/api/admin/tickets/again/checkin", nil)
	assert.Contains(t, w.Body.String(), `"status":"already"`)
}

func TestIssueTickets(t *testing.T) {
	r, m := setupRouter()
	m.tickets.On("Issue", mock.Anything, mock.MatchedBy(func(req *models.IssueTicketsRequest) bool {
		return req.TicketTypeID == 3 && req.Quantity == 2 && req.PaymentMethod == "comp"
	}), "").Return([]models.TicketDetails{{}, {}}, nil)

	w := doJSON(r, http.MethodPost, "/api/admin/tickets/issue", map[string]any{
		"ticket_type_id": 3, "quantity": 2, "payment_method": "comp",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodPost, "/api/admin/tickets/issue", map[string]any{
		"ticket_type_id": 3, "quantity": 2, "payment_method": "card",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchTickets(t *testing.T) {
	r, m := setupRouter()
	m.tickets.On("Search", mock.Anything, "fan@example.com", 20).Return([]models.TicketDetails{{}}, int64(1), nil)
	m.tickets.On("Search", mock.Anything, "x", 20).Return(nil, int64(0), apperrors.ErrSearchUnavailable)

	w := doJSON(r, http.MethodGet, "/api/admin/tickets/search?q=fan@example.com", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = doJSON(r, http.MethodGet, "/api/admin/tickets/search?q=x", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSweepReservations(t *testing.T) {
	r, m := setupRouter()
	m.reaper.On("Sweep", mock.Anything, service.SweepOptions{OlderThan: 30 * time.Minute, Limit: 50, DryRun: true}).
		Return(&service.SweepResult{Candidates: 4, DryRun: true}, nil)

	w := doJSON(r, http.MethodPost, "/api/admin/reaper/sweep", map[string]any{
		"older_than_min": 30, "limit": 50, "dry_run": "true",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"candidates":4`)

	w = doJSON(r, http.MethodPost, "/api/admin/reaper/sweep", map[string]any{"limit": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
