package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sawpanic/tradecore/internal/persistence"
)

// undefinedTable is the postgres error code for a missing relation
const undefinedTable = "42P01"

// claimsRepo implements ClaimsRepo for PostgreSQL
type claimsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewClaimsRepo creates a new PostgreSQL buy-claims repository
func NewClaimsRepo(db *sqlx.DB, timeout time.Duration) persistence.ClaimsRepo {
	return &claimsRepo{
		db:      db,
		timeout: timeout,
	}
}

// ListStale returns BUYING claims stuck since before olderThan, oldest first
func (r *claimsRepo) ListStale(ctx context.Context, olderThan time.Time) ([]persistence.Claim, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT mint, symbol, status, buy_attempts, in_progress_at, next_attempt_at, note
		FROM buy_claims
		WHERE status = $1 AND in_progress_at IS NOT NULL AND in_progress_at < $2
		ORDER BY in_progress_at ASC`

	var claims []persistence.Claim
	if err := r.db.SelectContext(ctx, &claims, query, persistence.StatusBuying, olderThan); err != nil {
		return nil, wrapQueryErr("failed to list stale claims", err)
	}
	return claims, nil
}

// ResetToPending returns a stale claim to the queue with a backoff
func (r *claimsRepo) ResetToPending(ctx context.Context, claim persistence.Claim, nextAttemptAt time.Time, note string) (bool, error) {
	if claim.InProgressAt == nil {
		return false, fmt.Errorf("claim %s has no in_progress_at", claim.Mint)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE buy_claims
		SET status = $1,
			buy_attempts = buy_attempts + 1,
			next_attempt_at = $2,
			note = CASE WHEN note IS NULL OR note = '' THEN $3 ELSE note || '; ' || $3 END
		WHERE mint = $4 AND status = $5 AND in_progress_at = $6`

	res, err := r.db.ExecContext(ctx, query,
		persistence.StatusPending, nextAttemptAt, note,
		claim.Mint, persistence.StatusBuying, *claim.InProgressAt)
	if err != nil {
		return false, wrapQueryErr(fmt.Sprintf("failed to reset claim %s", claim.Mint), err)
	}
	return affected(res)
}

// MarkSkipped retires a claim that exhausted its attempts
func (r *claimsRepo) MarkSkipped(ctx context.Context, claim persistence.Claim, note string) (bool, error) {
	if claim.InProgressAt == nil {
		return false, fmt.Errorf("claim %s has no in_progress_at", claim.Mint)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE buy_claims
		SET status = $1,
			note = CASE WHEN note IS NULL OR note = '' THEN $2 ELSE note || '; ' || $2 END
		WHERE mint = $3 AND status = $4 AND in_progress_at = $5`

	res, err := r.db.ExecContext(ctx, query,
		persistence.StatusSkipped, note,
		claim.Mint, persistence.StatusBuying, *claim.InProgressAt)
	if err != nil {
		return false, wrapQueryErr(fmt.Sprintf("failed to skip claim %s", claim.Mint), err)
	}
	return affected(res)
}

// Get returns the claim for a mint, or nil when the queue has no row for it
func (r *claimsRepo) Get(ctx context.Context, mint string) (*persistence.Claim, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT mint, symbol, status, buy_attempts, in_progress_at, next_attempt_at, note
		FROM buy_claims
		WHERE mint = $1`

	var claim persistence.Claim
	if err := r.db.GetContext(ctx, &claim, query, mint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapQueryErr("failed to get claim", err)
	}
	return &claim, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// wrapQueryErr adds a hint when the work-queue schema has not been created
func wrapQueryErr(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
		return fmt.Errorf("%s: table missing (%s): %w", msg, pqErr.Message, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
