package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LimitCounter tracks an owner's spend against daily and monthly bounds.
// Reset dates are the UTC start of the window the used counters belong to.
type LimitCounter struct {
	OwnerID          string          `json:"owner_id"`
	DailyLimit       decimal.Decimal `json:"daily_limit"`
	MonthlyLimit     decimal.Decimal `json:"monthly_limit"`
	DailyUsed        decimal.Decimal `json:"daily_used"`
	MonthlyUsed      decimal.Decimal `json:"monthly_used"`
	DailyResetDate   time.Time       `json:"daily_reset_date"`
	MonthlyResetDate time.Time       `json:"monthly_reset_date"`
	Active           bool            `json:"active"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// DayStart returns 00:00 UTC of t's day.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart returns 00:00 UTC of the first day of t's month.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// NewLimitCounter returns a fresh counter with windows starting at now.
func NewLimitCounter(ownerID string, daily, monthly decimal.Decimal, now time.Time) *LimitCounter {
	return &LimitCounter{
		OwnerID:          ownerID,
		DailyLimit:       daily,
		MonthlyLimit:     monthly,
		DailyUsed:        decimal.Zero,
		MonthlyUsed:      decimal.Zero,
		DailyResetDate:   DayStart(now),
		MonthlyResetDate: MonthStart(now),
		Active:           true,
		UpdatedAt:        now,
	}
}

// Rollover zeroes the counters whose window has passed. Each boundary resets once.
func (c *LimitCounter) Rollover(now time.Time) bool {
	changed := false
	if day := DayStart(now); day.After(c.DailyResetDate) {
		c.DailyUsed = decimal.Zero
		c.DailyResetDate = day
		changed = true
	}
	if month := MonthStart(now); month.After(c.MonthlyResetDate) {
		c.MonthlyUsed = decimal.Zero
		c.MonthlyResetDate = month
		changed = true
	}
	return changed
}

// Fits reports whether amount can be reserved without exceeding either bound.
func (c *LimitCounter) Fits(amount decimal.Decimal) bool {
	return c.DailyUsed.Add(amount).LessThanOrEqual(c.DailyLimit) &&
		c.MonthlyUsed.Add(amount).LessThanOrEqual(c.MonthlyLimit)
}

// Reserve adds amount to both counters. The caller checks Fits first.
func (c *LimitCounter) Reserve(amount decimal.Decimal) {
	c.DailyUsed = c.DailyUsed.Add(amount)
	c.MonthlyUsed = c.MonthlyUsed.Add(amount)
}

// Release subtracts amount from the counters whose window still contains reservedAt.
// A counter never drops below zero.
func (c *LimitCounter) Release(amount decimal.Decimal, reservedAt time.Time) {
	if DayStart(reservedAt).Equal(c.DailyResetDate) {
		c.DailyUsed = decimal.Max(decimal.Zero, c.DailyUsed.Sub(amount))
	}
	if MonthStart(reservedAt).Equal(c.MonthlyResetDate) {
		c.MonthlyUsed = decimal.Max(decimal.Zero, c.MonthlyUsed.Sub(amount))
	}
}

// DailyRemaining returns the capacity left today.
func (c *LimitCounter) DailyRemaining() decimal.Decimal {
	return decimal.Max(decimal.Zero, c.DailyLimit.Sub(c.DailyUsed))
}

// MonthlyRemaining returns the capacity left this month.
func (c *LimitCounter) MonthlyRemaining() decimal.Decimal {
	return decimal.Max(decimal.Zero, c.MonthlyLimit.Sub(c.MonthlyUsed))
}
