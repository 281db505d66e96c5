package postgres

import (
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
)

// decArg matches a decimal.Decimal query argument by value.
type decArg string

func (d decArg) Match(v interface{}) bool {
	got, ok := v.(decimal.Decimal)
	return ok && got.Equal(decimal.RequireFromString(string(d)))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}
