package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// Stripe is a Gateway backed by the Stripe PaymentIntents API. Our
// reference travels in the intent's metadata; the client secret plays
// the role of the checkout access code (consumed by Stripe.js on the
// frontend, so there is no hosted authorization URL).
type Stripe struct {
	api *client.API
}

// NewStripe creates a Stripe gateway client.
func NewStripe(secretKey string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Stripe{api: api}
}

func (s *Stripe) Initialize(ctx context.Context, req InitializeRequest) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Params:       stripe.Params{Context: ctx},
		Amount:       stripe.Int64(req.Amount),
		Currency:     stripe.String(strings.ToLower(req.Currency)),
		ReceiptEmail: stripe.String(req.Email),
	}
	params.AddMetadata("reference", req.Reference)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return &Authorization{
		Reference:   req.Reference,
		AccessCode:  intent.ClientSecret,
		ProviderRef: intent.ID,
	}, nil
}

func (s *Stripe) Verify(ctx context.Context, reference string) (*Transaction, error) {
	intent, err := s.findIntent(ctx, reference)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Reference: reference,
		Status:    mapStripeStatus(intent.Status),
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
	}
	if intent.Status == stripe.PaymentIntentStatusSucceeded && intent.Created > 0 {
		t := time.Unix(intent.Created, 0).UTC()
		tx.PaidAt = &t
	}
	if intent.LastPaymentError != nil {
		tx.GatewayResponse = intent.LastPaymentError.Msg
	}
	return tx, nil
}

// findIntent resolves our reference to a PaymentIntent: directly when the
// caller holds the intent id, otherwise via metadata search.
func (s *Stripe) findIntent(ctx context.Context, reference string) (*stripe.PaymentIntent, error) {
	if strings.HasPrefix(reference, "pi_") {
		intent, err := s.api.PaymentIntents.Get(reference, &stripe.PaymentIntentParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return intent, nil
	}

	search := s.api.PaymentIntents.Search(&stripe.PaymentIntentSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query:   fmt.Sprintf("metadata['reference']:%q", reference),
		},
	})
	for search.Next() {
		return search.PaymentIntent(), nil
	}
	if err := search.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return nil, ErrTransactionMissing
}

// mapStripeStatus folds PaymentIntent states into ours. Only a terminal
// cancellation is a confirmed failure; requires_payment_method and
// friends remain pending because the payer can still complete checkout.
func mapStripeStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSuccess
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

var _ Gateway = (*Stripe)(nil)
