package upgrade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seunadex/ratedly/internal/directory"
	"github.com/seunadex/ratedly/internal/tier"
)

func TestStartTrial(t *testing.T) {
	svc, businesses := newTestService(t)
	seedBusiness(t, businesses, "biz_1", tier.Basic)

	req, biz, err := svc.StartTrial(context.Background(), "biz_1", tier.Verified, 0)
	require.NoError(t, err)

	assert.Equal(t, TypeTrial, req.Type)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, "system:trial", req.ReviewedBy)
	assert.Equal(t, DefaultTrialDays, req.TrialDays)
	assert.Zero(t, req.Amount)

	assert.Equal(t, tier.Verified, biz.CurrentTier)
	assert.Equal(t, directory.StatusTrialing, biz.SubscriptionStatus)
	assert.True(t, biz.IsTrialing)
	require.NotNil(t, biz.TrialEndsAt)
	wantEnd := time.Now().UTC().AddDate(0, 0, DefaultTrialDays)
	assert.WithinDuration(t, wantEnd, *biz.TrialEndsAt, time.Minute)
	assert.True(t, biz.HasTrialed(tier.Verified))
	assert.True(t, biz.Features.VerifiedBadge)
}

func TestStartTrial_CustomLength(t *testing.T) {
	svc, businesses := newTestService(t)
	seedBusiness(t, businesses, "biz_1", tier.Basic)

	req, biz, err := svc.StartTrial(context.Background(), "biz_1", tier.Verified, 14)
	require.NoError(t, err)
	assert.Equal(t, 14, req.TrialDays)
	wantEnd := time.Now().UTC().AddDate(0, 0, 14)
	assert.WithinDuration(t, wantEnd, *biz.TrialEndsAt, time.Minute)
}

func TestStartTrial_OncePerTier(t *testing.T) {
	svc, businesses := newTestService(t)
	seedBusiness(t, businesses, "biz_1", tier.Basic)

	_, _, err := svc.StartTrial(context.Background(), "biz_1", tier.Verified, 7)
	require.NoError(t, err)

	// Trial expires and the business drops back to basic.
	n, err := svc.ExpireTrials(context.Background(), time.Now().UTC().AddDate(0, 0, 8), 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A second trial of the same tier is refused forever.
	_, _, err = svc.StartTrial(context.Background(), "biz_1", tier.Verified, 7)
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
}

func TestStartTrial_IneligibleTier(t *testing.T) {
	svc, businesses := newTestService(t)
	seedBusiness(t, businesses, "biz_1", tier.Basic)

	_, _, err := svc.StartTrial(context.Background(), "biz_1", tier.Premium, 0)
	assert.ErrorIs(t, err, ErrTrialNotEligible)

	_, _, err = svc.StartTrial(context.Background(), "biz_1", tier.Enterprise, 0)
	assert.ErrorIs(t, err, ErrTrialNotEligible)
}

func TestStartTrial_BlockedByPendingRequest(t *testing.T) {
	svc, businesses := newTestService(t)
	seedBusiness(t, businesses, "biz_1", tier.Basic)

	_, err := svc.Create(context.Background(), CreateInput{
		BusinessID:    "biz_1",
		RequestedTier: tier.Premium,
		Type:          TypePayment,
		BillingCycle:  tier.Monthly,
	})
	require.NoError(t, err)

	_, _, err = svc.StartTrial(context.Background(), "biz_1", tier.Verified, 0)
	assert.ErrorIs(t, err, ErrDuplicatePending)
}

func TestExpireTrials(t *testing.T) {
	svc, businesses := newTestService(t)
	seedBusiness(t, businesses, "biz_1", tier.Basic)
	seedBusiness(t, businesses, "biz_2", tier.Basic)

	_, _, err := svc.StartTrial(context.Background(), "biz_1", tier.Verified, 7)
	require.NoError(t, err)
	_, _, err = svc.StartTrial(context.Background(), "biz_2", tier.Verified, 30)
	require.NoError(t, err)

	// Eight days on: only biz_1's window has closed.
	n, err := svc.ExpireTrials(context.Background(), time.Now().UTC().AddDate(0, 0, 8), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := businesses.Get(context.Background(), "biz_1")
	require.NoError(t, err)
	assert.Equal(t, tier.Basic, expired.CurrentTier)
	assert.Equal(t, directory.StatusInactive, expired.SubscriptionStatus)
	assert.False(t, expired.IsTrialing)
	assert.False(t, expired.IsVerified)
	assert.True(t, expired.HasTrialed(tier.Verified), "the used trial stays on record")

	active, err := businesses.Get(context.Background(), "biz_2")
	require.NoError(t, err)
	assert.Equal(t, tier.Verified, active.CurrentTier)
	assert.True(t, active.IsTrialing)

	// Nothing left to expire.
	n, err = svc.ExpireTrials(context.Background(), time.Now().UTC().AddDate(0, 0, 8), 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrialTimer(t *testing.T) {
	svc, businesses := newTestService(t)
	seedBusiness(t, businesses, "biz_1", tier.Basic)

	_, _, err := svc.StartTrial(context.Background(), "biz_1", tier.Verified, 7)
	require.NoError(t, err)

	// Backdate the trial window so the next sweep picks it up.
	biz, err := businesses.Get(context.Background(), "biz_1")
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Hour)
	biz.TrialEndsAt = &past
	require.NoError(t, businesses.Update(context.Background(), biz))

	timer := NewTimer(svc, testLogger()).WithInterval(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := businesses.Get(context.Background(), "biz_1")
		require.NoError(t, err)
		if got.CurrentTier == tier.Basic {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, err := businesses.Get(context.Background(), "biz_1")
	require.NoError(t, err)
	assert.Equal(t, tier.Basic, got.CurrentTier)

	assert.True(t, timer.Running())
	timer.Stop()
	deadline = time.Now().Add(time.Second)
	for timer.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, timer.Running())
}
