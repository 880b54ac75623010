package upgrade

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seunadex/ratedly/internal/directory"
	"github.com/seunadex/ratedly/internal/tier"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
// It needs the directory store so CommitPaymentSuccess can apply the tier
// transition alongside the payment and request updates.
type MemoryStore struct {
	mu         sync.RWMutex
	requests   map[string]*Request
	payments   map[string]*Payment
	pending    map[string]string // businessID → pending request ID
	businesses directory.Store
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(businesses directory.Store) *MemoryStore {
	return &MemoryStore{
		requests:   make(map[string]*Request),
		payments:   make(map[string]*Payment),
		pending:    make(map[string]string),
		businesses: businesses,
	}
}

func (s *MemoryStore) CreateRequest(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Only a pending request occupies the business's single pending slot.
	// Pre-resolved audit records (manual tier changes) bypass it, matching
	// the partial unique index on the Postgres side.
	if req.Status == StatusPending {
		if _, exists := s.pending[req.BusinessID]; exists {
			return ErrDuplicatePending
		}
		s.pending[req.BusinessID] = req.ID
	}
	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return copyRequest(req), nil
}

func (s *MemoryStore) ListByBusiness(ctx context.Context, businessID string, limit int) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, req := range s.requests {
		if req.BusinessID == businessID {
			out = append(out, copyRequest(req))
		}
	}
	sortRequests(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListRequests(ctx context.Context, f Filter) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, req := range s.requests {
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.RequestedTier != "" && req.RequestedTier != f.RequestedTier {
			continue
		}
		if f.BusinessID != "" && req.BusinessID != f.BusinessID {
			continue
		}
		if !f.CursorTime.IsZero() {
			if req.CreatedAt.After(f.CursorTime) {
				continue
			}
			if req.CreatedAt.Equal(f.CursorTime) && req.ID >= f.CursorID {
				continue
			}
		}
		out = append(out, copyRequest(req))
	}
	sortRequests(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByStatus:      make(map[Status]int),
		PendingByTier: make(map[tier.Tier]int),
	}
	for _, req := range s.requests {
		stats.ByStatus[req.Status]++
		if req.Status == StatusPending {
			stats.PendingByTier[req.RequestedTier]++
		}
	}
	return stats, nil
}

func (s *MemoryStore) ResolveRequest(ctx context.Context, id string, res Resolution) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(id, res)
}

// resolveLocked performs the pending→terminal compare-and-set. Caller holds mu.
func (s *MemoryStore) resolveLocked(id string, res Resolution) (*Request, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}

	req.Status = res.Status
	req.ReviewedBy = res.ReviewedBy
	req.RejectionReason = res.RejectionReason
	if res.AdminNotes != "" {
		req.AdminNotes = res.AdminNotes
	}
	if res.PaymentState != "" {
		req.PaymentState = res.PaymentState
	}
	reviewed := res.Now
	req.ReviewedAt = &reviewed
	req.UpdatedAt = res.Now
	delete(s.pending, req.BusinessID)
	return copyRequest(req), nil
}

func (s *MemoryStore) SetPaymentState(ctx context.Context, id string, state PaymentState, now time.Time) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	req.PaymentState = state
	req.UpdatedAt = now
	return copyRequest(req), nil
}

func (s *MemoryStore) CreatePayment(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.Reference]; exists {
		return ErrDuplicateReference
	}
	s.payments[p.Reference] = copyPayment(p)
	return nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, reference string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[reference]
	if !ok {
		return nil, ErrUnknownReference
	}
	return copyPayment(p), nil
}

func (s *MemoryStore) ListPaymentsByRequest(ctx context.Context, requestID string) ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Payment
	for _, p := range s.payments {
		if p.RequestID == requestID {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkPaymentFailed(ctx context.Context, reference, gatewayResponse, channel string, now time.Time) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[reference]
	if !ok {
		return nil, ErrUnknownReference
	}
	if p.IsTerminal() {
		return nil, ErrPaymentTerminal
	}

	p.Status = PaymentFailed
	p.GatewayResponse = gatewayResponse
	p.Channel = channel
	processed := now
	p.ProcessedAt = &processed

	// The request stays pending so the owner can retry with a fresh
	// reference; only its payment state reflects the failure.
	if req, ok := s.requests[p.RequestID]; ok && req.Status == StatusPending {
		req.PaymentState = PaymentStateFailed
		req.UpdatedAt = now
	}
	return copyPayment(p), nil
}

func (s *MemoryStore) CommitPaymentSuccess(ctx context.Context, reference, channel, gatewayResponse string, res Resolution, tr directory.Transition) (*SuccessCommit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[reference]
	if !ok {
		return nil, ErrUnknownReference
	}
	if p.IsTerminal() {
		return nil, ErrPaymentTerminal
	}

	prev, ok := s.requests[p.RequestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	snapshot := copyRequest(prev)

	req, err := s.resolveLocked(p.RequestID, res)
	if err != nil {
		return nil, err
	}

	biz, err := s.businesses.ApplyTransition(ctx, req.BusinessID, tr)
	if err != nil {
		// Undo the resolution so the commit stays all-or-nothing, like
		// the Postgres transaction. The payment has not been touched yet.
		s.requests[p.RequestID] = snapshot
		s.pending[snapshot.BusinessID] = p.RequestID
		return nil, err
	}

	p.Status = PaymentSucceeded
	p.Channel = channel
	p.GatewayResponse = gatewayResponse
	processed := res.Now
	p.ProcessedAt = &processed

	return &SuccessCommit{Payment: copyPayment(p), Request: req, Business: biz}, nil
}

func sortRequests(reqs []*Request) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID > reqs[j].ID
	})
}

func copyRequest(req *Request) *Request {
	cp := *req
	if req.ReviewedAt != nil {
		t := *req.ReviewedAt
		cp.ReviewedAt = &t
	}
	return &cp
}

func copyPayment(p *Payment) *Payment {
	cp := *p
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
