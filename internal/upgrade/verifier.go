package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seunadex/ratedly/internal/directory"
	"github.com/seunadex/ratedly/internal/logging"
	"github.com/seunadex/ratedly/internal/metrics"
	"github.com/seunadex/ratedly/internal/payment"
	"github.com/seunadex/ratedly/internal/traces"
)

// paymentReviewer marks gateway-confirmed resolutions in the audit trail.
const paymentReviewer = "system:payment"

// ErrAmountMismatch means the gateway settled a different amount than the
// payment was initialized with. Nothing is committed; operators reconcile.
var ErrAmountMismatch = errors.New("upgrade: gateway amount does not match payment")

// VerifyResult is the outcome of a verification call. Status is the
// payment's state after the call; AlreadyProcessed marks idempotent
// replays of a terminal payment.
type VerifyResult struct {
	Reference        string              `json:"reference"`
	Status           PaymentStatus       `json:"status"`
	AlreadyProcessed bool                `json:"alreadyProcessed"`
	Payment          *Payment            `json:"payment"`
	Business         *directory.Business `json:"business,omitempty"`
}

// VerifyPayment confirms a gateway transaction and, on success, commits
// the tier transition. Safe to call any number of times for the same
// reference, from client polling and gateway callbacks concurrently: the
// payment's terminal status is set exactly once, and every later call
// returns the cached outcome.
//
// The gateway query runs with no locks held. An ambiguous gateway answer
// leaves the payment initialized and changes nothing.
func (s *Service) VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}

	ctx, span := traces.StartSpan(ctx, "upgrade.VerifyPayment",
		traces.Reference(reference), traces.Provider(s.provider))
	defer span.End()

	p, err := s.store.GetPayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.IsTerminal() {
		return s.replayResult(ctx, p)
	}

	start := time.Now()
	txn, err := s.gateway.Verify(ctx, reference)
	metrics.GatewayRequestDuration.WithLabelValues(s.provider, "verify").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("confirm gateway transaction: %w", err)
	}

	switch txn.Status {
	case payment.StatusSuccess:
		if txn.Amount > 0 && txn.Amount != p.Amount {
			s.logger.Error("gateway amount mismatch",
				"reference", reference, "expected", p.Amount, "got", txn.Amount)
			return nil, ErrAmountMismatch
		}
		return s.commitSuccess(ctx, p, txn)
	case payment.StatusFailed:
		return s.commitFailure(ctx, p, txn)
	default:
		// Not confirmed either way. No mutation; the caller retries.
		return &VerifyResult{
			Reference: reference,
			Status:    PaymentInitialized,
			Payment:   p,
		}, nil
	}
}

func (s *Service) commitSuccess(ctx context.Context, p *Payment, txn *payment.Transaction) (*VerifyResult, error) {
	defer s.locks.Lock(p.Reference)()

	req, err := s.store.GetRequest(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tr, err := s.transitionFor(req, now)
	if err != nil {
		return nil, err
	}

	commit, err := s.store.CommitPaymentSuccess(ctx, p.Reference, txn.Channel, txn.GatewayResponse, Resolution{
		Status:       StatusApproved,
		ReviewedBy:   paymentReviewer,
		PaymentState: PaymentStateSuccess,
		Now:          now,
	}, tr)
	if errors.Is(err, ErrPaymentTerminal) {
		// A concurrent verify won the race; serve its outcome.
		current, getErr := s.store.GetPayment(ctx, p.Reference)
		if getErr != nil {
			return nil, getErr
		}
		return s.replayResult(ctx, current)
	}
	if err != nil {
		return nil, err
	}

	metrics.PaymentsVerifiedTotal.WithLabelValues(s.provider, string(PaymentSucceeded)).Inc()
	logging.L(ctx).Info("payment verified",
		"reference", p.Reference,
		"request_id", req.ID,
		"business_id", req.BusinessID,
		"previous_tier", req.CurrentTier,
		"new_tier", req.RequestedTier,
		"amount", p.Amount,
	)
	s.notify(EventPaymentSucceeded, map[string]interface{}{
		"reference":  p.Reference,
		"requestId":  req.ID,
		"businessId": req.BusinessID,
		"tier":       req.RequestedTier,
		"amount":     p.Amount,
		"currency":   p.Currency,
	})
	s.emit(EventPaymentSucceeded, map[string]interface{}{
		"reference": p.Reference, "businessId": req.BusinessID, "tier": req.RequestedTier,
	})
	return &VerifyResult{
		Reference: p.Reference,
		Status:    PaymentSucceeded,
		Payment:   commit.Payment,
		Business:  commit.Business,
	}, nil
}

func (s *Service) commitFailure(ctx context.Context, p *Payment, txn *payment.Transaction) (*VerifyResult, error) {
	defer s.locks.Lock(p.Reference)()

	failed, err := s.store.MarkPaymentFailed(ctx, p.Reference, txn.GatewayResponse, txn.Channel, time.Now().UTC())
	if errors.Is(err, ErrPaymentTerminal) {
		current, getErr := s.store.GetPayment(ctx, p.Reference)
		if getErr != nil {
			return nil, getErr
		}
		return s.replayResult(ctx, current)
	}
	if err != nil {
		return nil, err
	}

	metrics.PaymentsVerifiedTotal.WithLabelValues(s.provider, string(PaymentFailed)).Inc()
	logging.L(ctx).Info("payment failed",
		"reference", p.Reference,
		"request_id", p.RequestID,
		"business_id", p.BusinessID,
		"gateway_response", txn.GatewayResponse,
	)
	s.notify(EventPaymentFailed, map[string]interface{}{
		"reference":  p.Reference,
		"requestId":  p.RequestID,
		"businessId": p.BusinessID,
		"reason":     txn.GatewayResponse,
	})
	return &VerifyResult{
		Reference: p.Reference,
		Status:    PaymentFailed,
		Payment:   failed,
	}, nil
}

// replayResult serves the cached outcome of a terminal payment without
// mutating anything.
func (s *Service) replayResult(ctx context.Context, p *Payment) (*VerifyResult, error) {
	res := &VerifyResult{
		Reference:        p.Reference,
		Status:           p.Status,
		AlreadyProcessed: true,
		Payment:          p,
	}
	if p.Status == PaymentSucceeded {
		biz, err := s.businesses.Get(ctx, p.BusinessID)
		if err == nil {
			res.Business = biz
		}
	}
	return res, nil
}
