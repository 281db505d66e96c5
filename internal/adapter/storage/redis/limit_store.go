package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"
	"stableflow/pkg/money"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

//go:embed lua/limits.lua
var luaLimits string

const (
	limitOK       = 1
	limitExceeded = -1
	limitInactive = -2
)

// LimitStore implements ports.LimitTracker with one Lua script per call, so rollover,
// check and increment happen atomically inside Redis. Amounts are kept as integer units.
type LimitStore struct {
	rdb            goredis.UniversalClient
	script         *goredis.Script
	defaultDaily   int64
	defaultMonthly int64
	now            func() time.Time
}

// NewLimitStore creates a Redis-backed limit tracker provisioning unknown owners with the given bounds.
func NewLimitStore(rdb goredis.UniversalClient, defaultDaily, defaultMonthly decimal.Decimal) (*LimitStore, error) {
	daily, err := money.ToUnits(defaultDaily)
	if err != nil {
		return nil, fmt.Errorf("default daily limit: %w", err)
	}
	monthly, err := money.ToUnits(defaultMonthly)
	if err != nil {
		return nil, fmt.Errorf("default monthly limit: %w", err)
	}
	return &LimitStore{
		rdb:            rdb,
		script:         goredis.NewScript(luaLimits),
		defaultDaily:   daily,
		defaultMonthly: monthly,
		now:            time.Now,
	}, nil
}

func keyLimit(ownerID string) string { return fmt.Sprintf("limits:{%s}", ownerID) }

func dayIndex(t time.Time) int64 { return t.Unix() / 86400 }

func monthIndex(t time.Time) int64 {
	y, m, _ := t.UTC().Date()
	return int64(y)*12 + int64(m) - 1
}

func (s *LimitStore) Reserve(ctx context.Context, ownerID string, amount decimal.Decimal, at time.Time) error {
	units, err := money.ToUnits(amount)
	if err != nil {
		return apperror.ErrInvalidAmount()
	}
	_, code, err := s.run(ctx, ownerID, at, "reserve", units)
	if err != nil {
		return err
	}
	switch code {
	case limitOK:
		return nil
	case limitExceeded:
		return apperror.ErrLimitExceeded()
	case limitInactive:
		return apperror.ErrLimitInactive()
	default:
		return fmt.Errorf("redis limit reserve: unknown code %d", code)
	}
}

func (s *LimitStore) Release(ctx context.Context, ownerID string, amount decimal.Decimal, reservedAt time.Time) error {
	units, err := money.ToUnits(amount)
	if err != nil {
		return apperror.ErrInvalidAmount()
	}
	_, _, err = s.run(ctx, ownerID, s.now(), "release", units, dayIndex(reservedAt), monthIndex(reservedAt))
	return err
}

func (s *LimitStore) Get(ctx context.Context, ownerID string) (*domain.LimitCounter, error) {
	c, _, err := s.run(ctx, ownerID, s.now(), "get")
	return c, err
}

func (s *LimitStore) Update(ctx context.Context, ownerID string, update ports.LimitUpdate) (*domain.LimitCounter, error) {
	daily, monthly, active := "", "", ""
	if update.DailyLimit != nil {
		u, err := money.ToUnits(*update.DailyLimit)
		if err != nil {
			return nil, apperror.ErrInvalidAmount()
		}
		daily = strconv.FormatInt(u, 10)
	}
	if update.MonthlyLimit != nil {
		u, err := money.ToUnits(*update.MonthlyLimit)
		if err != nil {
			return nil, apperror.ErrInvalidAmount()
		}
		monthly = strconv.FormatInt(u, 10)
	}
	if update.Active != nil {
		active = "0"
		if *update.Active {
			active = "1"
		}
	}
	c, _, err := s.run(ctx, ownerID, s.now(), "update", daily, monthly, active)
	return c, err
}

func (s *LimitStore) run(ctx context.Context, ownerID string, now time.Time, op string, extra ...any) (*domain.LimitCounter, int64, error) {
	now = now.UTC()
	args := append([]any{op, dayIndex(now), monthIndex(now), s.defaultDaily, s.defaultMonthly}, extra...)

	raw, err := s.script.Run(ctx, s.rdb, []string{keyLimit(ownerID)}, args...).Result()
	if err != nil {
		return nil, 0, apperror.ErrTransient(fmt.Errorf("redis limit %s: %w", op, err))
	}
	arr, ok := raw.([]interface{})
	if !ok || len(arr) != 8 {
		return nil, 0, fmt.Errorf("redis limit %s: unexpected reply %v", op, raw)
	}
	code, ok := arr[0].(int64)
	if !ok {
		return nil, 0, fmt.Errorf("redis limit %s: unexpected code %v", op, arr[0])
	}

	vals := make([]int64, 7)
	for i := range vals {
		str, _ := arr[i+1].(string)
		v, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("redis limit %s: field %d: %w", op, i, err)
		}
		vals[i] = v
	}

	month := vals[5]
	c := &domain.LimitCounter{
		OwnerID:          ownerID,
		DailyLimit:       money.FromUnits(vals[0]),
		MonthlyLimit:     money.FromUnits(vals[1]),
		DailyUsed:        money.FromUnits(vals[2]),
		MonthlyUsed:      money.FromUnits(vals[3]),
		DailyResetDate:   time.Unix(vals[4]*86400, 0).UTC(),
		MonthlyResetDate: time.Date(int(month/12), time.Month(month%12+1), 1, 0, 0, 0, 0, time.UTC),
		Active:           vals[6] == 1,
		UpdatedAt:        now,
	}
	return c, code, nil
}
