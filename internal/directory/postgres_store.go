package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/seunadex/ratedly/internal/tier"
)

// PostgresStore persists business records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed business store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const businessColumns = `id, name, slug, email, currency, current_tier, subscription_status,
		is_trialing, trial_ends_at, trialed_tiers, renewal_date, subscription_started_at,
		features, is_verified, verified_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, b *Business) error {
	featuresJSON, _ := json.Marshal(b.Features)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO businesses (`+businessColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		b.ID, b.Name, b.Slug, b.Email, string(b.Currency), string(b.CurrentTier),
		string(b.SubscriptionStatus), b.IsTrialing, nullTime(b.TrialEndsAt),
		pq.Array(tiersToStrings(b.TrialedTiers)), nullTime(b.RenewalDate),
		nullTime(b.SubscriptionStartedAt), featuresJSON, b.IsVerified,
		nullTime(b.VerifiedAt), b.CreatedAt, b.UpdatedAt,
	)
	if isUniqueViolation(err, "businesses_slug_key") {
		return ErrSlugTaken
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Business, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id)
	return scanBusiness(row)
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Business, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM businesses WHERE slug = $1`, slug)
	return scanBusiness(row)
}

func (p *PostgresStore) Update(ctx context.Context, b *Business) error {
	featuresJSON, _ := json.Marshal(b.Features)
	result, err := p.db.ExecContext(ctx, `
		UPDATE businesses SET
			name = $1, email = $2, currency = $3, current_tier = $4,
			subscription_status = $5, is_trialing = $6, trial_ends_at = $7,
			trialed_tiers = $8, renewal_date = $9, subscription_started_at = $10,
			features = $11, is_verified = $12, verified_at = $13, updated_at = $14
		WHERE id = $15`,
		b.Name, b.Email, string(b.Currency), string(b.CurrentTier),
		string(b.SubscriptionStatus), b.IsTrialing, nullTime(b.TrialEndsAt),
		pq.Array(tiersToStrings(b.TrialedTiers)), nullTime(b.RenewalDate),
		nullTime(b.SubscriptionStartedAt), featuresJSON, b.IsVerified,
		nullTime(b.VerifiedAt), b.UpdatedAt, b.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBusinessNotFound
	}
	return nil
}

func (p *PostgresStore) ApplyTransition(ctx context.Context, id string, tr Transition) (*Business, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	b, err := ApplyTransitionTx(ctx, tx, id, tr)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

// ApplyTransitionTx applies a transition inside an existing transaction.
// The upgrade engine's Postgres store uses this to make the payment
// success commit (payment + request + business) a single atomic unit.
func ApplyTransitionTx(ctx context.Context, tx *sql.Tx, id string, tr Transition) (*Business, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBusiness(row)
	if err != nil {
		return nil, err
	}

	tr.Apply(b)

	featuresJSON, _ := json.Marshal(b.Features)
	_, err = tx.ExecContext(ctx, `
		UPDATE businesses SET
			current_tier = $1, subscription_status = $2, is_trialing = $3,
			trial_ends_at = $4, trialed_tiers = $5, renewal_date = $6,
			subscription_started_at = $7, features = $8, is_verified = $9,
			verified_at = $10, updated_at = $11
		WHERE id = $12`,
		string(b.CurrentTier), string(b.SubscriptionStatus), b.IsTrialing,
		nullTime(b.TrialEndsAt), pq.Array(tiersToStrings(b.TrialedTiers)),
		nullTime(b.RenewalDate), nullTime(b.SubscriptionStartedAt), featuresJSON,
		b.IsVerified, nullTime(b.VerifiedAt), b.UpdatedAt, b.ID,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *PostgresStore) ListExpiredTrials(ctx context.Context, before time.Time, limit int) ([]*Business, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+businessColumns+`
		FROM businesses
		WHERE is_trialing = TRUE
		  AND subscription_status = 'trialing'
		  AND trial_ends_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// Migrate creates the businesses table if it doesn't exist. Production
// deployments run the goose migrations instead; this keeps dev setups with
// a bare DATABASE_URL working.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS businesses (
			id                      TEXT PRIMARY KEY,
			name                    TEXT NOT NULL,
			slug                    TEXT NOT NULL UNIQUE,
			email                   TEXT NOT NULL,
			currency                TEXT NOT NULL DEFAULT 'NGN',
			current_tier            TEXT NOT NULL DEFAULT 'basic',
			subscription_status     TEXT NOT NULL DEFAULT 'inactive',
			is_trialing             BOOLEAN NOT NULL DEFAULT FALSE,
			trial_ends_at           TIMESTAMPTZ,
			trialed_tiers           TEXT[] NOT NULL DEFAULT '{}',
			renewal_date            TIMESTAMPTZ,
			subscription_started_at TIMESTAMPTZ,
			features                JSONB NOT NULL DEFAULT '{}',
			is_verified             BOOLEAN NOT NULL DEFAULT FALSE,
			verified_at             TIMESTAMPTZ,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS businesses_tier_idx ON businesses (current_tier);
		CREATE INDEX IF NOT EXISTS businesses_trial_expiry_idx
			ON businesses (trial_ends_at)
			WHERE is_trialing = TRUE;
	`)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBusiness(s scanner) (*Business, error) {
	b := &Business{}
	var (
		currency, currentTier, status string
		trialEndsAt                   sql.NullTime
		trialedTiers                  pq.StringArray
		renewalDate                   sql.NullTime
		startedAt                     sql.NullTime
		featuresJSON                  []byte
		verifiedAt                    sql.NullTime
	)

	err := s.Scan(
		&b.ID, &b.Name, &b.Slug, &b.Email, &currency, &currentTier, &status,
		&b.IsTrialing, &trialEndsAt, &trialedTiers, &renewalDate, &startedAt,
		&featuresJSON, &b.IsVerified, &verifiedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, err
	}

	b.Currency = tier.Currency(currency)
	b.CurrentTier = tier.Tier(currentTier)
	b.SubscriptionStatus = SubscriptionStatus(status)
	if trialEndsAt.Valid {
		b.TrialEndsAt = &trialEndsAt.Time
	}
	for _, t := range trialedTiers {
		b.TrialedTiers = append(b.TrialedTiers, tier.Tier(t))
	}
	if renewalDate.Valid {
		b.RenewalDate = &renewalDate.Time
	}
	if startedAt.Valid {
		b.SubscriptionStartedAt = &startedAt.Time
	}
	if verifiedAt.Valid {
		b.VerifiedAt = &verifiedAt.Time
	}
	if len(featuresJSON) > 0 {
		_ = json.Unmarshal(featuresJSON, &b.Features)
	}
	return b, nil
}

func tiersToStrings(tiers []tier.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// isUniqueViolation reports whether err is a Postgres unique violation on
// the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

var _ Store = (*PostgresStore)(nil)
