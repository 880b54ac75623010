package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seunadex/ratedly/internal/logging"
	"github.com/seunadex/ratedly/internal/metrics"
	"github.com/seunadex/ratedly/internal/payment"
	"github.com/seunadex/ratedly/internal/tier"
	"github.com/seunadex/ratedly/internal/traces"
)

// ErrPaymentsDisabled is returned when no gateway is configured.
var ErrPaymentsDisabled = errors.New("upgrade: no payment gateway configured")

// Checkout is what the owner needs to complete payment on the gateway's
// hosted page (or with the client-side SDK).
type Checkout struct {
	Reference        string        `json:"reference"`
	AccessCode       string        `json:"accessCode,omitempty"`
	AuthorizationURL string        `json:"authorizationUrl,omitempty"`
	Amount           int64         `json:"amount"`
	Currency         tier.Currency `json:"currency"`
}

// InitializePayment opens a gateway transaction for a pending payment
// request. Each call mints a fresh reference, so an owner whose earlier
// attempt failed can simply initialize again. The gateway call runs with
// no locks held; gateway failures are surfaced, never retried here.
func (s *Service) InitializePayment(ctx context.Context, requestID, businessID, email string) (*Checkout, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}

	ctx, span := traces.StartSpan(ctx, "upgrade.InitializePayment",
		traces.RequestID(requestID), traces.BusinessID(businessID))
	defer span.End()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if businessID != "" && req.BusinessID != businessID {
		return nil, ErrForbidden
	}
	if !req.IsPending() {
		return nil, ErrAlreadyResolved
	}
	if req.Type != TypePayment {
		return nil, ErrNotPaymentRequest
	}
	if req.PaymentState == PaymentStateSuccess {
		return nil, ErrAlreadyResolved
	}

	// Paystack bills recurring tiers against a plan; the plan code must
	// exist for the request's tier/cycle/currency.
	var planCode string
	if code, err := s.catalog.PlanCode(req.RequestedTier, req.BillingCycle, req.Currency); err == nil {
		planCode = code
	} else if s.provider == payment.ProviderPaystack {
		return nil, ErrNoPlanCode
	}

	reference := fmt.Sprintf("TIER_%s_%d", req.ID, time.Now().UnixMilli())

	start := time.Now()
	auth, err := s.gateway.Initialize(ctx, payment.InitializeRequest{
		Reference:   reference,
		Email:       email,
		Amount:      req.Amount,
		Currency:    string(req.Currency),
		PlanCode:    planCode,
		CallbackURL: s.callbackURL,
		Metadata: map[string]string{
			"requestId":  req.ID,
			"businessId": req.BusinessID,
			"tier":       string(req.RequestedTier),
		},
	})
	metrics.GatewayRequestDuration.WithLabelValues(s.provider, "initialize").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PaymentsInitializedTotal.WithLabelValues(s.provider, "error").Inc()
		return nil, fmt.Errorf("initialize gateway transaction: %w", err)
	}
	if auth.Reference != "" {
		reference = auth.Reference
	}

	defer s.locks.Lock(requestID)()

	// Re-check under the lock: the request may have been resolved while
	// the gateway call was in flight. The orphaned gateway transaction is
	// harmless; it will never be verified.
	current, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return nil, ErrAlreadyResolved
	}

	now := time.Now().UTC()
	p := &Payment{
		Reference:        reference,
		RequestID:        req.ID,
		BusinessID:       req.BusinessID,
		Provider:         s.provider,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Status:           PaymentInitialized,
		AccessCode:       auth.AccessCode,
		AuthorizationURL: auth.AuthorizationURL,
		ProviderRef:      auth.ProviderRef,
		CreatedAt:        now,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	if _, err := s.store.SetPaymentState(ctx, req.ID, PaymentStatePending, now); err != nil {
		return nil, err
	}

	metrics.PaymentsInitializedTotal.WithLabelValues(s.provider, "ok").Inc()
	logging.L(ctx).Info("payment initialized",
		"request_id", req.ID,
		"business_id", req.BusinessID,
		"reference", reference,
		"amount", req.Amount,
		"currency", req.Currency,
		"provider", s.provider,
	)
	return &Checkout{
		Reference:        reference,
		AccessCode:       p.AccessCode,
		AuthorizationURL: p.AuthorizationURL,
		Amount:           p.Amount,
		Currency:         p.Currency,
	}, nil
}
