package upgrade

import (
	"context"
	"fmt"
	"time"

	"github.com/seunadex/ratedly/internal/directory"
	"github.com/seunadex/ratedly/internal/logging"
	"github.com/seunadex/ratedly/internal/metrics"
	"github.com/seunadex/ratedly/internal/tier"
)

// trialReviewer marks trial resolutions in the audit trail.
const trialReviewer = "system:trial"

// StartTrial activates a trial immediately: it records a trial request and
// resolves it in the same call. Each business gets at most one trial per
// tier, ever.
func (s *Service) StartTrial(ctx context.Context, businessID string, t tier.Tier, days int) (*Request, *directory.Business, error) {
	if days <= 0 {
		days = s.trialDays
	}

	req, err := s.Create(ctx, CreateInput{
		BusinessID:    businessID,
		RequestedTier: t,
		Type:          TypeTrial,
		TrialDays:     days,
	})
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	tr, err := s.transitionFor(req, now)
	if err != nil {
		return nil, nil, err
	}

	resolved, err := s.store.ResolveRequest(ctx, req.ID, Resolution{
		Status:     StatusApproved,
		ReviewedBy: trialReviewer,
		Now:        now,
	})
	if err != nil {
		return nil, nil, err
	}

	biz, err := s.businesses.ApplyTransition(ctx, businessID, tr)
	if err != nil {
		s.logger.Error("trial request approved but tier transition failed",
			"request_id", req.ID, "business_id", businessID, "error", err)
		return nil, nil, fmt.Errorf("apply trial transition: %w", err)
	}

	metrics.TrialsStartedTotal.WithLabelValues(string(t)).Inc()
	logging.L(ctx).Info("trial started",
		"request_id", req.ID,
		"business_id", businessID,
		"tier", t,
		"trial_days", days,
		"ends_at", tr.TrialEndsAt,
	)
	s.notify(EventTrialStarted, map[string]interface{}{
		"requestId":  req.ID,
		"businessId": businessID,
		"tier":       t,
		"endsAt":     tr.TrialEndsAt,
	})
	s.emit(EventTrialStarted, map[string]interface{}{
		"requestId": req.ID, "businessId": businessID, "tier": t,
	})
	return resolved, biz, nil
}

// ExpireTrials downgrades businesses whose trial window has closed. It is
// called by the sweep timer and returns the number of businesses moved.
func (s *Service) ExpireTrials(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.businesses.ListExpiredTrials(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired trials: %w", err)
	}

	features, err := s.catalog.Features(tier.Basic)
	if err != nil {
		return 0, err
	}

	var n int
	for _, biz := range expired {
		_, err := s.businesses.ApplyTransition(ctx, biz.ID, directory.Transition{
			Tier:     tier.Basic,
			Status:   directory.StatusInactive,
			Features: features,
			Now:      now,
		})
		if err != nil {
			s.logger.Warn("failed to expire trial",
				"business_id", biz.ID, "error", err)
			continue
		}
		n++
		metrics.TrialsExpiredTotal.Inc()
		s.logger.Info("trial expired",
			"business_id", biz.ID, "previous_tier", biz.CurrentTier)
		s.notify(EventTrialExpired, map[string]interface{}{
			"businessId": biz.ID,
			"tier":       biz.CurrentTier,
		})
	}
	return n, nil
}
