// Package upgrade implements the subscription tier upgrade and payment
// reconciliation engine.
//
// Flow:
//  1. Owner creates an UpgradeRequest (trial or payment) → pending
//  2. Trial requests resolve synchronously via StartTrial
//  3. Payment requests: InitializePayment → gateway checkout →
//     VerifyPayment commits the tier transition
//  4. An admin may instead approve/reject any pending request directly
//
// Every resolution is a single compare-and-set on the request's status;
// a payment's terminal status is set exactly once and is the idempotency
// boundary for the whole engine.
package upgrade

import (
	"errors"
	"time"

	"github.com/seunadex/ratedly/internal/tier"
)

// Errors
var (
	ErrRequestNotFound    = errors.New("upgrade: request not found")
	ErrInvalidTransition  = errors.New("upgrade: requested tier must outrank current tier")
	ErrDuplicatePending   = errors.New("upgrade: business already has a pending request")
	ErrNoPriceForCycle    = errors.New("upgrade: no self-serve price for this tier and cycle")
	ErrNoPlanCode         = errors.New("upgrade: no gateway plan for this tier and cycle")
	ErrForbidden          = errors.New("upgrade: actor does not own this business")
	ErrNotCancellable     = errors.New("upgrade: only pending requests can be cancelled")
	ErrAlreadyResolved    = errors.New("upgrade: request already resolved")
	ErrReasonRequired     = errors.New("upgrade: rejection reason is required")
	ErrNotPaymentRequest  = errors.New("upgrade: request is not a payment request")
	ErrTrialNotEligible   = errors.New("upgrade: tier is not trial-eligible")
	ErrTrialAlreadyUsed   = errors.New("upgrade: business already trialed this tier")
	ErrUnknownReference   = errors.New("upgrade: unknown payment reference")
	ErrPaymentTerminal    = errors.New("upgrade: payment already in a terminal state")
	ErrDuplicateReference = errors.New("upgrade: payment reference already exists")
)

// RequestType distinguishes how an upgrade is meant to be fulfilled.
type RequestType string

const (
	TypeTrial   RequestType = "trial"
	TypePayment RequestType = "payment"
	TypeManual  RequestType = "manual" // admin-initiated, audit record only
)

// Status is an upgrade request's lifecycle state. Once a request leaves
// pending it is immutable history.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// PaymentState tracks payment progress on the request itself.
type PaymentState string

const (
	PaymentStateNone    PaymentState = "none"
	PaymentStatePending PaymentState = "pending"
	PaymentStateSuccess PaymentState = "success"
	PaymentStateFailed  PaymentState = "failed"
)

// PaymentStatus is a payment record's state. initialized is the only
// non-terminal state; the terminal status is set exactly once.
type PaymentStatus string

const (
	PaymentInitialized PaymentStatus = "initialized"
	PaymentSucceeded   PaymentStatus = "success"
	PaymentFailed      PaymentStatus = "failed"
)

// Request is a business's recorded intent to move to a higher tier.
type Request struct {
	ID         string `json:"id"`
	BusinessID string `json:"businessId"`

	CurrentTier   tier.Tier   `json:"currentTier"` // snapshot at creation
	RequestedTier tier.Tier   `json:"requestedTier"`
	Type          RequestType `json:"requestType"`

	BillingCycle tier.BillingCycle `json:"billingCycle,omitempty"` // payment only
	Amount       int64             `json:"amount"`                 // minor units, fixed at creation
	Currency     tier.Currency     `json:"currency"`

	Status       Status       `json:"status"`
	PaymentState PaymentState `json:"paymentStatus"`

	RejectionReason string `json:"rejectionReason,omitempty"`
	AdminNotes      string `json:"adminNotes,omitempty"`
	BusinessNotes   string `json:"businessNotes,omitempty"`

	ReviewedBy string     `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`

	TrialDays int `json:"trialDays,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsPending reports whether the request can still be resolved.
func (r *Request) IsPending() bool {
	return r.Status == StatusPending
}

// Payment is one attempted gateway transaction for a request. Identity is
// the gateway reference; a request may accumulate several failed attempts
// but at most one successful one.
type Payment struct {
	Reference  string `json:"reference"`
	RequestID  string `json:"requestId"`
	BusinessID string `json:"businessId"`
	Provider   string `json:"provider"`

	Amount   int64         `json:"amount"`
	Currency tier.Currency `json:"currency"`

	Status PaymentStatus `json:"status"`

	AccessCode       string `json:"accessCode,omitempty"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	ProviderRef      string `json:"providerRef,omitempty"`
	Channel          string `json:"channel,omitempty"`
	GatewayResponse  string `json:"gatewayResponse,omitempty"`

	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// IsTerminal reports whether the payment has reached its final state.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentSucceeded || p.Status == PaymentFailed
}

// Resolution captures how a pending request was closed.
type Resolution struct {
	Status          Status
	ReviewedBy      string
	RejectionReason string
	AdminNotes      string
	PaymentState    PaymentState // zero value leaves the state untouched
	Now             time.Time
}

// Filter narrows admin request listings.
type Filter struct {
	Status        Status
	RequestedTier tier.Tier
	BusinessID    string
	CursorTime    time.Time // exclusive; zero means from the top
	CursorID      string
	Limit         int
}

// Stats summarises the request backlog for the admin dashboard.
type Stats struct {
	ByStatus      map[Status]int    `json:"byStatus"`
	PendingByTier map[tier.Tier]int `json:"pendingByTier"`
}
