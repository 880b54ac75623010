package payment

import (
	"context"
	"errors"
	"time"

	"github.com/seunadex/ratedly/internal/circuitbreaker"
)

// BreakerGateway wraps a Gateway with a circuit breaker, keyed per
// operation so a flapping verify endpoint does not block checkouts.
// While the circuit is open, calls fail fast with ErrGatewayUnavailable
// instead of tying up request handlers in gateway timeouts.
type BreakerGateway struct {
	inner   Gateway
	breaker *circuitbreaker.Breaker
}

// WithBreaker wraps gw with a circuit breaker that opens after threshold
// consecutive failures and probes again after openDuration.
func WithBreaker(gw Gateway, threshold int, openDuration time.Duration) *BreakerGateway {
	return &BreakerGateway{
		inner:   gw,
		breaker: circuitbreaker.New(threshold, openDuration),
	}
}

func (g *BreakerGateway) Initialize(ctx context.Context, req InitializeRequest) (*Authorization, error) {
	const key = "initialize"
	if !g.breaker.Allow(key) {
		return nil, ErrGatewayUnavailable
	}
	auth, err := g.inner.Initialize(ctx, req)
	if err != nil {
		g.breaker.RecordFailure(key)
		return nil, err
	}
	g.breaker.RecordSuccess(key)
	return auth, nil
}

func (g *BreakerGateway) Verify(ctx context.Context, reference string) (*Transaction, error) {
	const key = "verify"
	if !g.breaker.Allow(key) {
		return nil, ErrGatewayUnavailable
	}
	// A missing transaction is an answer from the gateway, not an outage.
	txn, err := g.inner.Verify(ctx, reference)
	if err != nil && !errors.Is(err, ErrTransactionMissing) {
		g.breaker.RecordFailure(key)
		return nil, err
	}
	g.breaker.RecordSuccess(key)
	return txn, err
}

var _ Gateway = (*BreakerGateway)(nil)
