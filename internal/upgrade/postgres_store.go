package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/seunadex/ratedly/internal/directory"
	"github.com/seunadex/ratedly/internal/tier"
)

const requestColumns = `id, business_id, current_tier, requested_tier, request_type,
	billing_cycle, amount, currency, status, payment_state,
	rejection_reason, admin_notes, business_notes,
	reviewed_by, reviewed_at, trial_days, created_at, updated_at`

const paymentColumns = `reference, request_id, business_id, provider, amount, currency,
	status, access_code, authorization_url, provider_ref,
	channel, gateway_response, processed_at, created_at`

// PostgresStore persists requests and payments in PostgreSQL. The
// single-pending invariant is enforced by a partial unique index on
// (business_id) WHERE status = 'pending', so it holds even across
// concurrent creates from multiple nodes.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upgrade_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		req.ID, req.BusinessID, string(req.CurrentTier), string(req.RequestedTier), string(req.Type),
		string(req.BillingCycle), req.Amount, string(req.Currency), string(req.Status), string(req.PaymentState),
		req.RejectionReason, req.AdminNotes, req.BusinessNotes,
		req.ReviewedBy, nullTime(req.ReviewedAt), req.TrialDays, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "upgrade_requests_pending_idx") {
			return ErrDuplicatePending
		}
		return fmt.Errorf("insert upgrade request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM upgrade_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	return req, err
}

func (s *PostgresStore) ListByBusiness(ctx context.Context, businessID string, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM upgrade_requests
		WHERE business_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("list upgrade requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PostgresStore) ListRequests(ctx context.Context, f Filter) ([]*Request, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.RequestedTier != "" {
		add("requested_tier = $%d", string(f.RequestedTier))
	}
	if f.BusinessID != "" {
		add("business_id = $%d", f.BusinessID)
	}
	if !f.CursorTime.IsZero() {
		args = append(args, f.CursorTime, f.CursorID)
		conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + requestColumns + ` FROM upgrade_requests`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list upgrade requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:      make(map[Status]int),
		PendingByTier: make(map[tier.Tier]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM upgrade_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("request stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tierRows, err := s.db.QueryContext(ctx, `
		SELECT requested_tier, COUNT(*) FROM upgrade_requests
		WHERE status = 'pending' GROUP BY requested_tier`)
	if err != nil {
		return nil, fmt.Errorf("request stats: %w", err)
	}
	defer tierRows.Close()
	for tierRows.Next() {
		var t string
		var count int
		if err := tierRows.Scan(&t, &count); err != nil {
			return nil, err
		}
		stats.PendingByTier[tier.Tier(t)] = count
	}
	return stats, tierRows.Err()
}

func (s *PostgresStore) ResolveRequest(ctx context.Context, id string, res Resolution) (*Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	req, err := resolveRequestTx(ctx, tx, id, res)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return req, nil
}

// resolveRequestTx is the pending→terminal CAS. The WHERE status='pending'
// guard means exactly one of any set of racing resolvers wins.
func resolveRequestTx(ctx context.Context, tx *sql.Tx, id string, res Resolution) (*Request, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE upgrade_requests
		SET status = $2, reviewed_by = $3, rejection_reason = $4,
		    admin_notes = CASE WHEN $5 = '' THEN admin_notes ELSE $5 END,
		    payment_state = CASE WHEN $6 = '' THEN payment_state ELSE $6 END,
		    reviewed_at = $7, updated_at = $7
		WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns,
		id, string(res.Status), res.ReviewedBy, res.RejectionReason,
		res.AdminNotes, string(res.PaymentState), res.Now,
	)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM upgrade_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrAlreadyResolved
		}
		return nil, ErrRequestNotFound
	}
	return req, err
}

func (s *PostgresStore) SetPaymentState(ctx context.Context, id string, state PaymentState, now time.Time) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE upgrade_requests SET payment_state = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+requestColumns, id, string(state), now)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	return req, err
}

func (s *PostgresStore) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.Reference, p.RequestID, p.BusinessID, p.Provider, p.Amount, string(p.Currency),
		string(p.Status), p.AccessCode, p.AuthorizationURL, p.ProviderRef,
		p.Channel, p.GatewayResponse, nullTime(p.ProcessedAt), p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "payments_pkey") {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, reference string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownReference
	}
	return p, err
}

func (s *PostgresStore) ListPaymentsByRequest(ctx context.Context, requestID string) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE request_id = $1 ORDER BY created_at DESC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPaymentFailed(ctx context.Context, reference, gatewayResponse, channel string, now time.Time) (*Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := setPaymentTerminalTx(ctx, tx, reference, PaymentFailed, channel, gatewayResponse, now)
	if err != nil {
		return nil, err
	}

	// A failed attempt does not resolve the request; the owner can retry.
	_, err = tx.ExecContext(ctx, `
		UPDATE upgrade_requests SET payment_state = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`,
		p.RequestID, string(PaymentStateFailed), now)
	if err != nil {
		return nil, fmt.Errorf("update request payment state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

// CommitPaymentSuccess moves the payment to success, resolves the request
// as approved, and applies the business tier transition in one transaction.
// Either all three land or none do.
func (s *PostgresStore) CommitPaymentSuccess(ctx context.Context, reference, channel, gatewayResponse string, res Resolution, tr directory.Transition) (*SuccessCommit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := setPaymentTerminalTx(ctx, tx, reference, PaymentSucceeded, channel, gatewayResponse, res.Now)
	if err != nil {
		return nil, err
	}

	req, err := resolveRequestTx(ctx, tx, p.RequestID, res)
	if err != nil {
		return nil, err
	}

	biz, err := directory.ApplyTransitionTx(ctx, tx, req.BusinessID, tr)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &SuccessCommit{Payment: p, Request: req, Business: biz}, nil
}

// Migrate creates the upgrade_requests and payments tables if they don't
// exist. Production deployments run the goose migrations instead.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS upgrade_requests (
			id               TEXT PRIMARY KEY,
			business_id      TEXT NOT NULL REFERENCES businesses (id),
			current_tier     TEXT NOT NULL,
			requested_tier   TEXT NOT NULL,
			request_type     TEXT NOT NULL,
			billing_cycle    TEXT NOT NULL DEFAULT '',
			amount           BIGINT NOT NULL DEFAULT 0,
			currency         TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending',
			payment_state    TEXT NOT NULL DEFAULT 'none',
			rejection_reason TEXT NOT NULL DEFAULT '',
			admin_notes      TEXT NOT NULL DEFAULT '',
			business_notes   TEXT NOT NULL DEFAULT '',
			reviewed_by      TEXT NOT NULL DEFAULT '',
			reviewed_at      TIMESTAMPTZ,
			trial_days       INTEGER NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS upgrade_requests_pending_idx
			ON upgrade_requests (business_id)
			WHERE status = 'pending';
		CREATE INDEX IF NOT EXISTS upgrade_requests_business_idx
			ON upgrade_requests (business_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS upgrade_requests_status_idx
			ON upgrade_requests (status, created_at DESC);

		CREATE TABLE IF NOT EXISTS payments (
			reference         TEXT PRIMARY KEY,
			request_id        TEXT NOT NULL REFERENCES upgrade_requests (id),
			business_id       TEXT NOT NULL REFERENCES businesses (id),
			provider          TEXT NOT NULL,
			amount            BIGINT NOT NULL,
			currency          TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'initialized',
			access_code       TEXT NOT NULL DEFAULT '',
			authorization_url TEXT NOT NULL DEFAULT '',
			provider_ref      TEXT NOT NULL DEFAULT '',
			channel           TEXT NOT NULL DEFAULT '',
			gateway_response  TEXT NOT NULL DEFAULT '',
			processed_at      TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS payments_request_idx
			ON payments (request_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS payments_business_idx
			ON payments (business_id);
	`)
	return err
}

// setPaymentTerminalTx is the initialized→terminal CAS on a payment row.
func setPaymentTerminalTx(ctx context.Context, tx *sql.Tx, reference string, status PaymentStatus, channel, gatewayResponse string, now time.Time) (*Payment, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE payments
		SET status = $2, channel = $3, gateway_response = $4, processed_at = $5
		WHERE reference = $1 AND status = 'initialized'
		RETURNING `+paymentColumns,
		reference, string(status), channel, gatewayResponse, now)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM payments WHERE reference = $1)`, reference).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrPaymentTerminal
		}
		return nil, ErrUnknownReference
	}
	return p, err
}

func collectRequests(rows *sql.Rows) ([]*Request, error) {
	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanner) (*Request, error) {
	var (
		req        Request
		reviewedAt sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.BusinessID, &req.CurrentTier, &req.RequestedTier, &req.Type,
		&req.BillingCycle, &req.Amount, &req.Currency, &req.Status, &req.PaymentState,
		&req.RejectionReason, &req.AdminNotes, &req.BusinessNotes,
		&req.ReviewedBy, &reviewedAt, &req.TrialDays, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		req.ReviewedAt = &reviewedAt.Time
	}
	return &req, nil
}

func scanPayment(row scanner) (*Payment, error) {
	var (
		p           Payment
		processedAt sql.NullTime
	)
	err := row.Scan(
		&p.Reference, &p.RequestID, &p.BusinessID, &p.Provider, &p.Amount, &p.Currency,
		&p.Status, &p.AccessCode, &p.AuthorizationURL, &p.ProviderRef,
		&p.Channel, &p.GatewayResponse, &processedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		p.ProcessedAt = &processedAt.Time
	}
	return &p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == constraint
	}
	return false
}
