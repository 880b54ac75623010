package upgrade

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seunadex/ratedly/internal/directory"
	"github.com/seunadex/ratedly/internal/idgen"
	"github.com/seunadex/ratedly/internal/logging"
	"github.com/seunadex/ratedly/internal/metrics"
	"github.com/seunadex/ratedly/internal/payment"
	"github.com/seunadex/ratedly/internal/syncutil"
	"github.com/seunadex/ratedly/internal/tier"
	"github.com/seunadex/ratedly/internal/traces"
)

// Notifier delivers upgrade lifecycle events to external subscribers.
// Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]interface{})
}

// EventEmitter pushes activity onto the realtime admin feed.
type EventEmitter interface {
	Emit(event string, data map[string]interface{})
}

// Notification event types.
const (
	EventTrialStarted     = "trial.started"
	EventRequestCreated   = "request.created"
	EventRequestApproved  = "request.approved"
	EventRequestRejected  = "request.rejected"
	EventRequestCancelled = "request.cancelled"
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventTrialExpired     = "trial.expired"
)

// DefaultTrialDays is the trial length when the owner does not pick one.
const DefaultTrialDays = 30

// Service implements the upgrade request lifecycle.
type Service struct {
	store      Store
	businesses directory.Store
	catalog    *tier.Catalog
	gateway    payment.Gateway
	provider   string

	notifier Notifier
	events   EventEmitter
	logger   *slog.Logger

	callbackURL string
	trialDays   int

	// Serializes operations on a single request or payment reference.
	// Sharded so memory stays bounded no matter how many keys flow through.
	locks syncutil.ShardedMutex
}

// NewService creates an upgrade service. Gateway, notifier, and event
// emitter are optional collaborators wired via the With* methods.
func NewService(store Store, businesses directory.Store, catalog *tier.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		businesses: businesses,
		catalog:    catalog,
		logger:     logger,
		trialDays:  DefaultTrialDays,
	}
}

// WithGateway enables the payment flow against the named provider.
func (s *Service) WithGateway(gw payment.Gateway, provider, callbackURL string) *Service {
	s.gateway = gw
	s.provider = provider
	s.callbackURL = callbackURL
	return s
}

// WithNotifier adds fire-and-forget lifecycle notifications.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithEvents adds realtime admin feed events.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// WithTrialDays overrides the default trial length.
func (s *Service) WithTrialDays(days int) *Service {
	if days > 0 {
		s.trialDays = days
	}
	return s
}

// CreateInput describes an owner's upgrade request.
type CreateInput struct {
	BusinessID    string
	RequestedTier tier.Tier
	Type          RequestType
	BillingCycle  tier.BillingCycle
	TrialDays     int
	Notes         string
}

// Create validates and records a pending upgrade request. For payment
// requests the amount is resolved from the catalog now and never changes,
// even if prices do.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Request, error) {
	biz, err := s.businesses.Get(ctx, in.BusinessID)
	if err != nil {
		return nil, err
	}
	if !in.RequestedTier.Outranks(biz.CurrentTier) {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	req := &Request{
		ID:            idgen.WithPrefix("req_"),
		BusinessID:    biz.ID,
		CurrentTier:   biz.CurrentTier,
		RequestedTier: in.RequestedTier,
		Type:          in.Type,
		Currency:      biz.Currency,
		Status:        StatusPending,
		PaymentState:  PaymentStateNone,
		BusinessNotes: strings.TrimSpace(in.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch in.Type {
	case TypeTrial:
		if !s.catalog.TrialEligible(in.RequestedTier) {
			return nil, ErrTrialNotEligible
		}
		if biz.HasTrialed(in.RequestedTier) {
			return nil, ErrTrialAlreadyUsed
		}
		req.TrialDays = s.trialDays
		if in.TrialDays > 0 {
			req.TrialDays = in.TrialDays
		}
	case TypePayment:
		if !tier.ValidCycle(in.BillingCycle) {
			return nil, fmt.Errorf("%w: missing billing cycle", ErrNoPriceForCycle)
		}
		amount, err := s.catalog.Price(in.RequestedTier, in.BillingCycle, req.Currency)
		if err != nil {
			return nil, ErrNoPriceForCycle
		}
		req.BillingCycle = in.BillingCycle
		req.Amount = amount
	default:
		return nil, fmt.Errorf("upgrade: unsupported request type %q", in.Type)
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	metrics.UpgradeRequestsCreatedTotal.WithLabelValues(string(req.Type), string(req.RequestedTier)).Inc()
	logging.L(ctx).Info("upgrade request created",
		"request_id", req.ID,
		"business_id", req.BusinessID,
		"requested_tier", req.RequestedTier,
		"type", req.Type,
	)
	s.emit(EventRequestCreated, map[string]interface{}{
		"requestId":     req.ID,
		"businessId":    req.BusinessID,
		"requestedTier": req.RequestedTier,
		"type":          req.Type,
	})
	return req, nil
}

// Get returns a request, enforcing ownership when businessID is non-empty.
func (s *Service) Get(ctx context.Context, requestID, businessID string) (*Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if businessID != "" && req.BusinessID != businessID {
		return nil, ErrForbidden
	}
	return req, nil
}

// ListMine returns a business's request history, newest first.
func (s *Service) ListMine(ctx context.Context, businessID string, limit int) ([]*Request, error) {
	return s.store.ListByBusiness(ctx, businessID, limit)
}

// Cancel withdraws a pending request. Only the owning business may cancel,
// and only while the request is still pending.
func (s *Service) Cancel(ctx context.Context, requestID, businessID string) (*Request, error) {
	defer s.locks.Lock(requestID)()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.BusinessID != businessID {
		return nil, ErrForbidden
	}
	if !req.IsPending() {
		return nil, ErrNotCancellable
	}

	resolved, err := s.store.ResolveRequest(ctx, requestID, Resolution{
		Status:     StatusCancelled,
		ReviewedBy: businessID,
		Now:        time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	metrics.UpgradeRequestsResolvedTotal.WithLabelValues(string(StatusCancelled)).Inc()
	logging.L(ctx).Info("upgrade request cancelled",
		"request_id", requestID, "business_id", businessID)
	s.emit(EventRequestCancelled, map[string]interface{}{
		"requestId": requestID, "businessId": businessID,
	})
	return resolved, nil
}

// Approve resolves a pending request and commits the tier transition,
// independent of any payment. This is the manual-grant path.
func (s *Service) Approve(ctx context.Context, requestID, adminID, notes string) (*Request, *directory.Business, error) {
	ctx, span := traces.StartSpan(ctx, "upgrade.Approve", traces.RequestID(requestID))
	defer span.End()

	defer s.locks.Lock(requestID)()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if !req.IsPending() {
		return nil, nil, ErrAlreadyResolved
	}

	now := time.Now().UTC()
	tr, err := s.transitionFor(req, now)
	if err != nil {
		return nil, nil, err
	}

	resolved, err := s.store.ResolveRequest(ctx, requestID, Resolution{
		Status:     StatusApproved,
		ReviewedBy: adminID,
		AdminNotes: strings.TrimSpace(notes),
		Now:        now,
	})
	if err != nil {
		return nil, nil, err
	}

	biz, err := s.businesses.ApplyTransition(ctx, req.BusinessID, tr)
	if err != nil {
		// The request is approved but the business was not moved. This
		// needs operator attention; the audit trail has the approval.
		s.logger.Error("approved request but tier transition failed",
			"request_id", requestID, "business_id", req.BusinessID, "error", err)
		return nil, nil, fmt.Errorf("apply tier transition: %w", err)
	}

	metrics.UpgradeRequestsResolvedTotal.WithLabelValues(string(StatusApproved)).Inc()
	logging.L(ctx).Info("upgrade request approved",
		"request_id", requestID,
		"business_id", req.BusinessID,
		"admin", adminID,
		"previous_tier", req.CurrentTier,
		"new_tier", req.RequestedTier,
	)
	s.notify(EventRequestApproved, map[string]interface{}{
		"requestId":  requestID,
		"businessId": req.BusinessID,
		"tier":       req.RequestedTier,
		"reviewedBy": adminID,
	})
	s.emit(EventRequestApproved, map[string]interface{}{
		"requestId": requestID, "businessId": req.BusinessID, "tier": req.RequestedTier,
	})
	return resolved, biz, nil
}

// Reject resolves a pending request without touching the business.
// A rejected request does not block the business from requesting again.
func (s *Service) Reject(ctx context.Context, requestID, adminID, reason string) (*Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	defer s.locks.Lock(requestID)()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsPending() {
		return nil, ErrAlreadyResolved
	}

	resolved, err := s.store.ResolveRequest(ctx, requestID, Resolution{
		Status:          StatusRejected,
		ReviewedBy:      adminID,
		RejectionReason: reason,
		Now:             time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	metrics.UpgradeRequestsResolvedTotal.WithLabelValues(string(StatusRejected)).Inc()
	logging.L(ctx).Info("upgrade request rejected",
		"request_id", requestID,
		"business_id", req.BusinessID,
		"admin", adminID,
		"reason", reason,
	)
	s.notify(EventRequestRejected, map[string]interface{}{
		"requestId":  requestID,
		"businessId": req.BusinessID,
		"reason":     reason,
		"reviewedBy": adminID,
	})
	s.emit(EventRequestRejected, map[string]interface{}{
		"requestId": requestID, "businessId": req.BusinessID,
	})
	return resolved, nil
}

// AdminList returns requests matching the filter, newest first.
func (s *Service) AdminList(ctx context.Context, f Filter) ([]*Request, error) {
	return s.store.ListRequests(ctx, f)
}

// AdminStats summarises the request backlog.
func (s *Service) AdminStats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

// ChangeTier moves a business to any tier directly, recording an approved
// manual request as the audit trail. Unlike owner requests this may also
// downgrade. A positive durationDays makes the grant time-boxed: the
// business is put on a trial-style window and the expiry sweep reclaims
// the tier when it closes.
func (s *Service) ChangeTier(ctx context.Context, businessID string, target tier.Tier, durationDays int, adminID, notes string) (*directory.Business, error) {
	if !target.Valid() {
		return nil, tier.ErrUnknownTier
	}
	biz, err := s.businesses.Get(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if biz.CurrentTier == target {
		return nil, fmt.Errorf("upgrade: business already on tier %s", target)
	}

	now := time.Now().UTC()
	reviewed := now
	req := &Request{
		ID:            idgen.WithPrefix("req_"),
		BusinessID:    biz.ID,
		CurrentTier:   biz.CurrentTier,
		RequestedTier: target,
		Type:          TypeManual,
		Currency:      biz.Currency,
		Status:        StatusApproved,
		PaymentState:  PaymentStateNone,
		AdminNotes:    strings.TrimSpace(notes),
		ReviewedBy:    adminID,
		ReviewedAt:    &reviewed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// A duration on a downgrade to basic is meaningless; the sweep would
	// only re-land the business where it already is.
	if durationDays > 0 && target != tier.Basic {
		req.TrialDays = durationDays
	}
	tr, err := s.transitionFor(req, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	updated, err := s.businesses.ApplyTransition(ctx, businessID, tr)
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("tier changed manually",
		"business_id", businessID,
		"admin", adminID,
		"previous_tier", biz.CurrentTier,
		"new_tier", target,
	)
	s.emit(EventRequestApproved, map[string]interface{}{
		"requestId": req.ID, "businessId": businessID, "tier": target, "manual": true,
	})
	return updated, nil
}

// transitionFor builds the business mutation for a resolved request. Both
// the admin-approve path and the payment-verify path go through here so
// the two commit sites cannot diverge.
func (s *Service) transitionFor(req *Request, now time.Time) (directory.Transition, error) {
	features, err := s.catalog.Features(req.RequestedTier)
	if err != nil {
		return directory.Transition{}, err
	}

	tr := directory.Transition{
		Tier:     req.RequestedTier,
		Features: features,
		Now:      now,
	}
	switch {
	case req.Type == TypeTrial:
		ends := now.AddDate(0, 0, req.TrialDays)
		tr.Status = directory.StatusTrialing
		tr.IsTrialing = true
		tr.TrialEndsAt = &ends
		tr.MarkTrialed = true
	case req.Type == TypeManual && req.TrialDays > 0:
		// Time-boxed admin grant: trial semantics, but it does not
		// consume the business's one trial per tier.
		ends := now.AddDate(0, 0, req.TrialDays)
		tr.Status = directory.StatusTrialing
		tr.IsTrialing = true
		tr.TrialEndsAt = &ends
	case req.RequestedTier == tier.Basic:
		tr.Status = directory.StatusInactive
	default:
		renewal := renewalDate(now, req.BillingCycle)
		tr.Status = directory.StatusActive
		tr.RenewalDate = &renewal
	}
	return tr, nil
}

// renewalDate is one billing cycle from now; monthly when no cycle was
// recorded (manual grants).
func renewalDate(now time.Time, cycle tier.BillingCycle) time.Time {
	if cycle == tier.Annual {
		return now.AddDate(1, 0, 0)
	}
	return now.AddDate(0, 1, 0)
}

func (s *Service) notify(event string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	// Detached context: notification failure or slowness must never affect
	// the transition that triggered it.
	s.notifier.Notify(context.Background(), event, payload)
}

func (s *Service) emit(event string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.Emit(event, data)
}
