package directory

import (
	"context"
	"time"
)

// Store persists business records.
type Store interface {
	Create(ctx context.Context, b *Business) error
	Get(ctx context.Context, id string) (*Business, error)
	GetBySlug(ctx context.Context, slug string) (*Business, error)
	Update(ctx context.Context, b *Business) error

	// ApplyTransition applies a subscription transition to one business
	// as a single update. Used by the trial activator and the trial
	// expiry sweep; the payment reconciler commits transitions inside
	// its own transaction instead.
	ApplyTransition(ctx context.Context, id string, tr Transition) (*Business, error)

	// ListExpiredTrials returns businesses still trialing whose trial
	// ended before the given instant.
	ListExpiredTrials(ctx context.Context, before time.Time, limit int) ([]*Business, error)
}
