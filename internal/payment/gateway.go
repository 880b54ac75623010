// Package payment provides clients for external payment gateways.
//
// The upgrade engine only ever sees the Gateway interface: initialize a
// transaction for a reference we generate, and later ask the gateway for
// the authoritative outcome of that reference. Gateways are the only
// slow, unreliable dependency in the system, so every call is bounded by
// the client's timeout and callers must not hold locks while waiting.
package payment

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
	ErrTransactionMissing = errors.New("payment: transaction not found at gateway")
)

// Provider names, as recorded on payments and used for config selection.
const (
	ProviderPaystack = "paystack"
	ProviderStripe   = "stripe"
)

// Status is the gateway's view of one transaction.
type Status string

const (
	// StatusSuccess means the gateway confirmed the charge.
	StatusSuccess Status = "success"
	// StatusFailed means the gateway confirmed the charge failed.
	StatusFailed Status = "failed"
	// StatusPending covers everything else: not attempted, in flight,
	// abandoned, or ambiguous. Never treated as success.
	StatusPending Status = "pending"
)

// InitializeRequest carries everything a gateway needs to open a
// transaction.
type InitializeRequest struct {
	Reference   string            // our reference, unique per attempt
	Email       string            // payer's email
	Amount      int64             // minor units
	Currency    string            // ISO code, e.g. "NGN"
	PlanCode    string            // gateway recurring-plan code, optional
	CallbackURL string            // where the gateway redirects after checkout
	Metadata    map[string]string // echoed back on verification
}

// Authorization is the gateway's response to a successful initialize.
type Authorization struct {
	Reference        string `json:"reference"`
	AccessCode       string `json:"accessCode"`
	AuthorizationURL string `json:"authorizationUrl"`
	ProviderRef      string `json:"providerRef,omitempty"` // gateway-side id, when distinct
}

// Transaction is the gateway's authoritative record of one reference.
type Transaction struct {
	Reference       string
	Status          Status
	Amount          int64
	Currency        string
	PaidAt          *time.Time
	Channel         string
	GatewayResponse string
}

// Gateway is an external payment processor.
type Gateway interface {
	// Initialize opens a transaction and returns checkout credentials.
	// Failures are surfaced to the caller, never retried here.
	Initialize(ctx context.Context, req InitializeRequest) (*Authorization, error)

	// Verify returns the authoritative state of a reference. An error
	// means the state could not be determined — the caller must treat
	// it as retryable, never as an outcome.
	Verify(ctx context.Context, reference string) (*Transaction, error)
}

// DefaultTimeout bounds a single gateway round trip.
const DefaultTimeout = 15 * time.Second
