package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"boxoffice/internal/models"
)

// SmokeValidator - проверка развернутого API без изменения данных
type SmokeValidator struct {
	baseURL string
	eventID int64
	client  *http.Client
}

// NewSmokeValidator создает валидатор. eventID указывает на опубликованное событие.
func NewSmokeValidator(baseURL string, eventID int64) *SmokeValidator {
	return &SmokeValidator{
		baseURL: baseURL,
		eventID: eventID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type check struct {
	name string
	run  func() error
}

// ValidateAll runs every check and reports the first failure
func (v *SmokeValidator) ValidateAll() error {
	checks := []check{
		{name: "health", run: v.validateHealth},
		{name: "ticket types", run: v.validateTicketTypes},
		{name: "unknown ticket", run: v.validateUnknownTicket},
		{name: "webhook signature", run: v.validateWebhookRejectsUnsigned},
		{name: "admin auth", run: v.validateAdminRequiresAuth},
	}

	for _, c := range checks {
		if err := c.run(); err != nil {
			return fmt.Errorf("%s check failed: %w", c.name, err)
		}
		slog.Info("Check passed", "check", c.name)
	}
	return nil
}

func (v *SmokeValidator) validateHealth() error {
	status, _, err := v.makeRequest(http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET /health: expected 200, got %d", status)
	}
	return nil
}

func (v *SmokeValidator) validateTicketTypes() error {
	path := "/api/events/" + strconv.FormatInt(v.eventID, 10) + "/ticket-types"
	status, body, err := v.makeRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: expected 200, got %d", path, status)
	}

	var resp models.AvailabilityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}
	if resp.EventID != v.eventID {
		return fmt.Errorf("GET %s: expected event %d, got %d", path, v.eventID, resp.EventID)
	}
	for _, tt := range resp.TicketTypes {
		if tt.Remaining < 0 {
			return fmt.Errorf("GET %s: ticket type %d has negative remaining %d", path, tt.ID, tt.Remaining)
		}
	}
	return nil
}

func (v *SmokeValidator) validateUnknownTicket() error {
	status, _, err := v.makeRequest(http.MethodGet, "/api/tickets/00000000-0000-0000-0000-000000000000", nil)
	if err != nil {
		return err
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("GET /api/tickets/{unknown}: expected 404, got %d", status)
	}
	return nil
}

func (v *SmokeValidator) validateWebhookRejectsUnsigned() error {
	payload := map[string]any{"id": "evt_smoke", "type": "checkout.session.completed"}
	status, _, err := v.makeRequest(http.MethodPost, "/api/checkout/webhook", payload)
	if err != nil {
		return err
	}
	if status != http.StatusBadRequest {
		return fmt.Errorf("POST /api/checkout/webhook without signature: expected 400, got %d", status)
	}
	return nil
}

func (v *SmokeValidator) validateAdminRequiresAuth() error {
	status, _, err := v.makeRequest(http.MethodGet, "/api/admin/tickets/search?q=smoke", nil)
	if err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return fmt.Errorf("GET /api/admin/tickets/search without credentials: expected 401, got %d", status)
	}
	return nil
}

func (v *SmokeValidator) makeRequest(method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, v.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
