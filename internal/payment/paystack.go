package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PaystackBaseURL is the production Paystack API endpoint.
const PaystackBaseURL = "https://api.paystack.co"

// Paystack is a Gateway backed by the Paystack transactions API.
type Paystack struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

// NewPaystack creates a Paystack gateway client. baseURL is overridable
// for tests; pass "" for production.
func NewPaystack(secretKey, baseURL string) *Paystack {
	if baseURL == "" {
		baseURL = PaystackBaseURL
	}
	return &Paystack{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    &http.Client{Timeout: DefaultTimeout},
	}
}

// paystackEnvelope is the wrapper Paystack puts around every response.
type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackVerifyData struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PaidAt          string `json:"paid_at"`
	Channel         string `json:"channel"`
	GatewayResponse string `json:"gateway_response"`
}

func (p *Paystack) Initialize(ctx context.Context, req InitializeRequest) (*Authorization, error) {
	payload := map[string]interface{}{
		"email":     req.Email,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.PlanCode != "" {
		payload["plan"] = req.PlanCode
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	var data paystackInitData
	if err := p.call(ctx, http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return nil, err
	}
	if data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: no authorization url returned", ErrGatewayUnavailable)
	}

	return &Authorization{
		Reference:        data.Reference,
		AccessCode:       data.AccessCode,
		AuthorizationURL: data.AuthorizationURL,
	}, nil
}

func (p *Paystack) Verify(ctx context.Context, reference string) (*Transaction, error) {
	var data paystackVerifyData
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := p.call(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	tx := &Transaction{
		Reference:       reference,
		Status:          mapPaystackStatus(data.Status),
		Amount:          data.Amount,
		Currency:        data.Currency,
		Channel:         data.Channel,
		GatewayResponse: data.GatewayResponse,
	}
	if data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			tx.PaidAt = &t
		}
	}
	return tx, nil
}

// mapPaystackStatus folds Paystack's transaction states into ours.
// Anything that is not an explicit success or failure stays pending —
// ambiguous states must never be read as an outcome.
func mapPaystackStatus(s string) Status {
	switch s {
	case "success":
		return StatusSuccess
	case "failed", "reversed":
		return StatusFailed
	default: // "ongoing", "pending", "processing", "queued", "abandoned"
		return StatusPending
	}
}

func (p *Paystack) call(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTransactionMissing
	}

	var envelope paystackEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= 400 || !envelope.Status {
		msg := envelope.Message
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%w: %s", ErrGatewayUnavailable, msg)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%w: malformed data: %v", ErrGatewayUnavailable, err)
		}
	}
	return nil
}

var _ Gateway = (*Paystack)(nil)
