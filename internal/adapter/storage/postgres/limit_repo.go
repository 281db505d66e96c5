package postgres

import (
	"context"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const limitColumns = `owner_id, daily_limit, monthly_limit, daily_used, monthly_used,
		daily_reset_date, monthly_reset_date, active, updated_at`

// LimitRepo implements ports.LimitTracker on the limit_counters table. Every call runs in
// its own transaction holding the owner's row lock, so check-and-increment is atomic.
type LimitRepo struct {
	pool           Pool
	defaultDaily   decimal.Decimal
	defaultMonthly decimal.Decimal
	now            func() time.Time
}

// NewLimitRepo creates a LimitRepo that provisions unknown owners with the given bounds.
func NewLimitRepo(pool Pool, defaultDaily, defaultMonthly decimal.Decimal) *LimitRepo {
	return &LimitRepo{
		pool:           pool,
		defaultDaily:   defaultDaily,
		defaultMonthly: defaultMonthly,
		now:            time.Now,
	}
}

// Reserve adds amount to both windows if it fits.
func (r *LimitRepo) Reserve(ctx context.Context, ownerID string, amount decimal.Decimal, at time.Time) error {
	_, err := r.withCounter(ctx, ownerID, at, func(c *domain.LimitCounter) error {
		if !c.Active {
			return apperror.ErrLimitInactive()
		}
		if !c.Fits(amount) {
			return apperror.ErrLimitExceeded()
		}
		c.Reserve(amount)
		return nil
	})
	return err
}

// Release returns amount to the windows that still contain reservedAt.
func (r *LimitRepo) Release(ctx context.Context, ownerID string, amount decimal.Decimal, reservedAt time.Time) error {
	_, err := r.withCounter(ctx, ownerID, r.now(), func(c *domain.LimitCounter) error {
		c.Release(amount, reservedAt)
		return nil
	})
	return err
}

// Get returns the owner's counters after rollover.
func (r *LimitRepo) Get(ctx context.Context, ownerID string) (*domain.LimitCounter, error) {
	return r.withCounter(ctx, ownerID, r.now(), func(*domain.LimitCounter) error { return nil })
}

// Update applies the non-nil fields of update.
func (r *LimitRepo) Update(ctx context.Context, ownerID string, update ports.LimitUpdate) (*domain.LimitCounter, error) {
	return r.withCounter(ctx, ownerID, r.now(), func(c *domain.LimitCounter) error {
		if update.DailyLimit != nil {
			c.DailyLimit = *update.DailyLimit
		}
		if update.MonthlyLimit != nil {
			c.MonthlyLimit = *update.MonthlyLimit
		}
		if update.Active != nil {
			c.Active = *update.Active
		}
		return nil
	})
}

// withCounter provisions, locks and rolls over the owner's counter, runs fn and saves the result.
// Nothing is written when fn fails.
func (r *LimitRepo) withCounter(ctx context.Context, ownerID string, now time.Time, fn func(c *domain.LimitCounter) error) (*domain.LimitCounter, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr("begin limit tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now = now.UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO limit_counters (`+limitColumns+`)
		VALUES ($1, $2, $3, 0, 0, $4, $5, TRUE, $6)
		ON CONFLICT (owner_id) DO NOTHING`,
		ownerID, r.defaultDaily, r.defaultMonthly, domain.DayStart(now), domain.MonthStart(now), now,
	)
	if err != nil {
		return nil, wrapErr("provision limit counter", err)
	}

	c, err := scanLimitCounter(tx.QueryRow(ctx,
		`SELECT `+limitColumns+` FROM limit_counters WHERE owner_id = $1 FOR UPDATE`, ownerID))
	if err != nil {
		return nil, wrapErr("lock limit counter", err)
	}

	c.Rollover(now)
	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = now

	_, err = tx.Exec(ctx,
		`UPDATE limit_counters
		SET daily_limit = $1, monthly_limit = $2, daily_used = $3, monthly_used = $4,
			daily_reset_date = $5, monthly_reset_date = $6, active = $7, updated_at = $8
		WHERE owner_id = $9`,
		c.DailyLimit, c.MonthlyLimit, c.DailyUsed, c.MonthlyUsed,
		c.DailyResetDate, c.MonthlyResetDate, c.Active, c.UpdatedAt, ownerID,
	)
	if err != nil {
		return nil, wrapErr("save limit counter", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr("commit limit tx", err)
	}
	return c, nil
}

func scanLimitCounter(row pgx.Row) (*domain.LimitCounter, error) {
	c := &domain.LimitCounter{}
	if err := row.Scan(
		&c.OwnerID, &c.DailyLimit, &c.MonthlyLimit, &c.DailyUsed, &c.MonthlyUsed,
		&c.DailyResetDate, &c.MonthlyResetDate, &c.Active, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.DailyResetDate = c.DailyResetDate.UTC()
	c.MonthlyResetDate = c.MonthlyResetDate.UTC()
	return c, nil
}
