package services

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rules are the deployment-time money rules every ledger component enforces.
type Rules struct {
	MinDeposit         int64
	MinWithdrawal      int64
	MinResidualBalance int64
	DailyTaskCap       int
	CommissionRate     decimal.Decimal
	Currency           string
	Location           *time.Location
	MerchantCode       string
}

func DefaultRules() Rules {
	return Rules{
		MinDeposit:         2000,
		MinWithdrawal:      10000,
		MinResidualBalance: 3000,
		DailyTaskCap:       20,
		CommissionRate:     decimal.RequireFromString("0.20"),
		Currency:           "RWF",
		Location:           time.UTC,
	}
}

func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// dayBounds returns the UTC bounds of the ledger calendar day containing t.
func (r Rules) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(r.location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.location())
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func (r Rules) amount(v int64) string {
	return formatAmount(v, r.Currency)
}
