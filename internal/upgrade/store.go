package upgrade

import (
	"context"
	"time"

	"github.com/seunadex/ratedly/internal/directory"
)

// SuccessCommit is the result of committing a successful payment: the
// payment, its request, and the business, all in their post-commit state.
type SuccessCommit struct {
	Payment  *Payment
	Request  *Request
	Business *directory.Business
}

// Store persists upgrade requests and payments.
//
// CreateRequest enforces the single-pending invariant. ResolveRequest and
// MarkPaymentFailed are compare-and-set operations: they only move the
// entity out of its non-terminal state and fail with ErrAlreadyResolved /
// ErrPaymentTerminal when a concurrent writer got there first.
// CommitPaymentSuccess applies the payment's terminal status, the request
// resolution, and the business tier transition as one atomic unit.
type Store interface {
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	ListByBusiness(ctx context.Context, businessID string, limit int) ([]*Request, error)
	ListRequests(ctx context.Context, f Filter) ([]*Request, error)
	Stats(ctx context.Context) (*Stats, error)

	ResolveRequest(ctx context.Context, id string, res Resolution) (*Request, error)
	SetPaymentState(ctx context.Context, id string, state PaymentState, now time.Time) (*Request, error)

	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, reference string) (*Payment, error)
	ListPaymentsByRequest(ctx context.Context, requestID string) ([]*Payment, error)

	MarkPaymentFailed(ctx context.Context, reference, gatewayResponse, channel string, now time.Time) (*Payment, error)
	CommitPaymentSuccess(ctx context.Context, reference string, channel, gatewayResponse string, res Resolution, tr directory.Transition) (*SuccessCommit, error)
}
