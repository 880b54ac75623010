// Package directory owns the business records of the review directory:
// the listing itself plus the subscription state the upgrade engine
// mutates. Tier, status, and feature fields are only ever changed through
// a Transition applied by the upgrade engine's commit path.
package directory

import (
	"errors"
	"time"

	"github.com/seunadex/ratedly/internal/tier"
)

// Errors
var (
	ErrBusinessNotFound = errors.New("directory: business not found")
	ErrSlugTaken        = errors.New("directory: slug already taken")
)

// SubscriptionStatus is a business's billing lifecycle state.
type SubscriptionStatus string

const (
	StatusInactive SubscriptionStatus = "inactive"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
)

// Business is a directory listing with its subscription state.
type Business struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Email string `json:"email"`

	Currency           tier.Currency      `json:"currency"`
	CurrentTier        tier.Tier          `json:"currentTier"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`

	IsTrialing   bool        `json:"isTrialing"`
	TrialEndsAt  *time.Time  `json:"trialEndsAt,omitempty"`
	TrialedTiers []tier.Tier `json:"trialedTiers,omitempty"`

	RenewalDate           *time.Time `json:"renewalDate,omitempty"`
	SubscriptionStartedAt *time.Time `json:"subscriptionStartedAt,omitempty"`

	// Features is a cache of the feature gate's output for CurrentTier,
	// refreshed on every transition. Authoritative reads go through the
	// catalogue instead.
	Features tier.FeatureSet `json:"features"`

	IsVerified bool       `json:"isVerified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasTrialed reports whether the business has already taken a trial of t.
func (b *Business) HasTrialed(t tier.Tier) bool {
	for _, trialed := range b.TrialedTiers {
		if trialed == t {
			return true
		}
	}
	return false
}

// Transition is the single shape in which subscription state may change.
// Both resolution paths (admin approve and payment verify) and the trial
// activator build one of these; stores apply it as one update.
type Transition struct {
	Tier        tier.Tier
	Status      SubscriptionStatus
	Features    tier.FeatureSet
	IsTrialing  bool
	TrialEndsAt *time.Time
	RenewalDate *time.Time
	MarkTrialed bool // record Tier in TrialedTiers
	Now         time.Time
}

// Apply mutates the business in place according to the transition.
// Shared by both store implementations so the two commit sites cannot
// diverge.
func (tr Transition) Apply(b *Business) {
	b.CurrentTier = tr.Tier
	b.SubscriptionStatus = tr.Status
	b.Features = tr.Features
	b.IsTrialing = tr.IsTrialing
	b.TrialEndsAt = tr.TrialEndsAt
	b.RenewalDate = tr.RenewalDate
	now := tr.Now
	b.SubscriptionStartedAt = &now
	if tr.MarkTrialed && !b.HasTrialed(tr.Tier) {
		b.TrialedTiers = append(b.TrialedTiers, tr.Tier)
	}
	// Anything above basic carries the verified badge; dropping back to
	// basic clears it.
	if tr.Tier == tier.Basic {
		b.IsVerified = false
		b.VerifiedAt = nil
	} else if !b.IsVerified {
		b.IsVerified = true
		b.VerifiedAt = &now
	}
	b.UpdatedAt = now
}
