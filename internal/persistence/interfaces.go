package persistence

import (
	"context"
	"time"
)

// Claim statuses in the buy work queue
const (
	StatusPending = "PENDING"
	StatusBuying  = "BUYING"
	StatusSkipped = "SKIPPED"
	StatusBought  = "BOUGHT"
)

// Claim annotations appended by the stale-claim watchdog
const (
	NoteStaleClaimReset      = "STALE_CLAIM_RESET"
	NoteStaleClaimMaxRetries = "STALE_CLAIM_MAX_RETRIES"
)

// Claim is one row of the per-asset buy work queue
type Claim struct {
	Mint          string     `json:"mint" db:"mint"`
	Symbol        string     `json:"symbol" db:"symbol"`
	Status        string     `json:"status" db:"status"`
	BuyAttempts   int        `json:"buy_attempts" db:"buy_attempts"`
	InProgressAt  *time.Time `json:"in_progress_at,omitempty" db:"in_progress_at"`
	NextAttemptAt time.Time  `json:"next_attempt_at" db:"next_attempt_at"`
	Note          *string    `json:"note,omitempty" db:"note"`
}

// Position is a read-only view of an open holding
type Position struct {
	Mint       string     `json:"mint" db:"mint"`
	Symbol     string     `json:"symbol" db:"symbol"`
	CurrentPct float64    `json:"current_pct" db:"current_pct"`
	ValueUSD   float64    `json:"value_usd" db:"value_usd"`
	EntryTime  *time.Time `json:"entry_time,omitempty" db:"entry_time"`
}

// ClaimsRepo is the work-queue surface used by the watchdog.
// Writes are conditional on the claim still being BUYING with the same in_progress_at,
// and report false when another actor already moved the row.
type ClaimsRepo interface {
	// ListStale returns BUYING claims whose in_progress_at is before olderThan
	ListStale(ctx context.Context, olderThan time.Time) ([]Claim, error)

	// ResetToPending sets PENDING, increments buy_attempts, schedules next_attempt_at and appends note
	ResetToPending(ctx context.Context, claim Claim, nextAttemptAt time.Time, note string) (bool, error)

	// MarkSkipped sets SKIPPED and appends note
	MarkSkipped(ctx context.Context, claim Claim, note string) (bool, error)

	// Get returns a claim by mint, or nil when absent
	Get(ctx context.Context, mint string) (*Claim, error)
}

// PositionsRepo reads the current portfolio
type PositionsRepo interface {
	List(ctx context.Context) ([]Position, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Claims    ClaimsRepo
	Positions PositionsRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error

	// Stats returns connection pool and query statistics
	Stats(ctx context.Context) map[string]interface{}
}
