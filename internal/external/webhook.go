package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "boxoffice/internal/errors"
)

const (
	SignatureHeader = "Checkout-Signature"

	EventCheckoutCompleted = "checkout.session.completed"
)

// VerifiedEvent is a webhook payload whose signature has been checked
type VerifiedEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object SessionObject `json:"object"`
	} `json:"data"`
}

type SessionObject struct {
	ID              string            `json:"id"`
	PaymentStatus   string            `json:"payment_status"`
	CustomerDetails *CustomerDetails  `json:"customer_details"`
	Metadata        map[string]string `json:"metadata"`
}

type CustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Session returns the checkout session the event refers to
func (e *VerifiedEvent) Session() SessionObject {
	return e.Data.Object
}

// HoldIDs parses the comma separated hold ids from metadata, skipping anything non-numeric.
func (e *VerifiedEvent) HoldIDs() []int64 {
	raw := e.Data.Object.Metadata[MetaHoldIDs]
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// CustomerEmail prefers the provider-verified address over the one captured at checkout.
func (e *VerifiedEvent) CustomerEmail() string {
	s := e.Data.Object
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.Metadata[MetaPurchaserEmail]
}

func (e *VerifiedEvent) CustomerName() string {
	s := e.Data.Object
	if s.CustomerDetails != nil && s.CustomerDetails.Name != "" {
		return s.CustomerDetails.Name
	}
	return s.Metadata[MetaPurchaserName]
}

// Verify checks the signature header against the raw body before decoding anything.
// Header format: t=<unix seconds>,v1=<hex hmac-sha256 of "<t>.<body>">.
func (c *CheckoutClient) Verify(rawBody []byte, signatureHeader string) (*VerifiedEvent, error) {
	if c.webhookSecret == "" {
		return nil, &apperrors.AuthenticityError{Reason: "webhook secret is not configured"}
	}
	if signatureHeader == "" {
		return nil, &apperrors.AuthenticityError{Reason: "missing signature header"}
	}

	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, &apperrors.AuthenticityError{Reason: err.Error()}
	}

	expected := computeSignature(c.webhookSecret, timestamp, rawBody)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, &apperrors.AuthenticityError{Reason: "signature mismatch"}
	}

	age := c.now().Sub(time.Unix(timestamp, 0))
	if age > c.tolerance || age < -c.tolerance {
		return nil, &apperrors.AuthenticityError{Reason: "timestamp outside tolerance"}
	}

	var event VerifiedEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, &apperrors.AuthenticityError{Reason: "payload is not valid JSON"}
	}
	if event.ID == "" || event.Type == "" {
		return nil, &apperrors.AuthenticityError{Reason: "payload lacks event id or type"}
	}

	return &event, nil
}

// SignPayload produces a signature header value for body, as the provider does.
func SignPayload(secret string, ts time.Time, body []byte) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, hex.EncodeToString(computeSignature(secret, unix, body)))
}

func computeSignature(secret string, timestamp int64, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		timestamp  int64
		signatures [][]byte
	)

	for _, pair := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid timestamp in signature header")
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp == 0 {
		return 0, nil, fmt.Errorf("signature header has no timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("signature header has no v1 signature")
	}
	return timestamp, signatures, nil
}
