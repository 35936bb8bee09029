package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Metadata keys carried through the hosted session and echoed back in the webhook
const (
	MetaHoldIDs        = "hold_ids"
	MetaEventID        = "event_id"
	MetaPurchaserEmail = "purchaser_email"
	MetaPurchaserName  = "purchaser_name"
	MetaSoldBy         = "sold_by"
)

type CheckoutClient struct {
	baseURL       string
	merchantID    string
	apiSecret     string
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
	tolerance     time.Duration
	httpClient    *http.Client
	now           func() time.Time
}

type CheckoutConfig struct {
	BaseURL            string
	MerchantID         string
	APISecret          string
	WebhookSecret      string
	Currency           string
	SuccessURL         string
	CancelURL          string
	Timeout            time.Duration
	SignatureTolerance time.Duration
}

// LineItem is priced in minor currency units
type LineItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int    `json:"quantity"`
}

type SessionRequest struct {
	LineItems     []LineItem
	Metadata      map[string]string
	CustomerEmail string
}

type Session struct {
	ID  string
	URL string
}

type createSessionPayload struct {
	MerchantID    string            `json:"merchantId"`
	Token         string            `json:"token"`
	Mode          string            `json:"mode"`
	Currency      string            `json:"currency"`
	LineItems     []LineItem        `json:"line_items"`
	SuccessURL    string            `json:"success_url,omitempty"`
	CancelURL     string            `json:"cancel_url,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

type createSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Message   string `json:"message,omitempty"`
}

func NewCheckoutClient(cfg CheckoutConfig) *CheckoutClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SignatureTolerance == 0 {
		cfg.SignatureTolerance = 5 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}

	return &CheckoutClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		merchantID:    cfg.MerchantID,
		apiSecret:     cfg.APISecret,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		tolerance:     cfg.SignatureTolerance,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		now: time.Now,
	}
}

// generateToken signs a request: parameter values sorted by key, concatenated, SHA-256 hex.
func (c *CheckoutClient) generateToken(params map[string]string) string {
	params["MerchantId"] = c.merchantID
	params["Secret"] = c.apiSecret

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(params[key])
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}

// CreateSession opens a hosted checkout session for the given line items.
func (c *CheckoutClient) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if len(req.LineItems) == 0 {
		return nil, fmt.Errorf("session requires at least one line item")
	}

	var amount int64
	for _, item := range req.LineItems {
		amount += item.UnitAmount * int64(item.Quantity)
	}

	token := c.generateToken(map[string]string{
		"Amount":   strconv.FormatInt(amount, 10),
		"Currency": c.currency,
		"HoldIds":  req.Metadata[MetaHoldIDs],
	})

	payload := createSessionPayload{
		MerchantID:    c.merchantID,
		Token:         token,
		Mode:          "payment",
		Currency:      c.currency,
		LineItems:     req.LineItems,
		SuccessURL:    c.successURL,
		CancelURL:     c.cancelURL,
		CustomerEmail: req.CustomerEmail,
		Metadata:      req.Metadata,
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/checkout/sessions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !result.Success || result.SessionID == "" {
		return nil, fmt.Errorf("checkout session creation rejected: %s", result.Message)
	}

	return &Session{ID: result.SessionID, URL: result.URL}, nil
}
