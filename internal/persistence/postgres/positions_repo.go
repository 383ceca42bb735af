package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/tradecore/internal/persistence"
)

// positionsRepo implements PositionsRepo for PostgreSQL
type positionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPositionsRepo creates a new PostgreSQL positions reader
func NewPositionsRepo(db *sqlx.DB, timeout time.Duration) persistence.PositionsRepo {
	return &positionsRepo{
		db:      db,
		timeout: timeout,
	}
}

// List returns open positions ordered by mint
func (r *positionsRepo) List(ctx context.Context) ([]persistence.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT mint, symbol, current_pct, value_usd, entry_time
		FROM positions
		WHERE current_pct > 0
		ORDER BY mint`

	var positions []persistence.Position
	if err := r.db.SelectContext(ctx, &positions, query); err != nil {
		return nil, wrapQueryErr("failed to list positions", err)
	}
	return positions, nil
}
