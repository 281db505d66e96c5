package ports

import (
	"context"
	"time"

	"stableflow/internal/core/domain"

	"github.com/shopspring/decimal"
)

// LimitTracker owns per-owner spending counters. Implementations are constructed once at
// startup and must make Reserve an atomic check-and-increment.
type LimitTracker interface {
	// Reserve adds amount to the owner's daily and monthly counters at time at, or fails
	// with LIMIT_EXCEEDED leaving the counters untouched. Unknown owners are provisioned
	// with the configured default limits.
	Reserve(ctx context.Context, ownerID string, amount decimal.Decimal, at time.Time) error
	// Release returns a reservation made at reservedAt. Counters whose window has rolled
	// over since are left alone; counters never go below zero.
	Release(ctx context.Context, ownerID string, amount decimal.Decimal, reservedAt time.Time) error
	// Get returns the owner's counters after lazy rollover, provisioning defaults if needed.
	Get(ctx context.Context, ownerID string) (*domain.LimitCounter, error)
	// Update changes the owner's bounds or active flag.
	Update(ctx context.Context, ownerID string, update LimitUpdate) (*domain.LimitCounter, error)
}

// LimitUpdate holds the optional fields of a limit change.
type LimitUpdate struct {
	DailyLimit   *decimal.Decimal
	MonthlyLimit *decimal.Decimal
	Active       *bool
}
