package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Summary is a point-in-time rollup of the ledger.
type Summary struct {
	GrossIncome        int64     `json:"gross_income"`
	TotalWithdrawals   int64     `json:"total_withdrawals"`
	NetIncome          int64     `json:"net_income"`
	TotalBalances      int64     `json:"total_balances"`
	Profit             int64     `json:"profit"`
	PendingWithdrawals int64     `json:"pending_withdrawals"`
	Accounts           int64     `json:"accounts"`
	ActiveAccounts     int64     `json:"active_accounts"`
	Currency           string    `json:"currency"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// SnapshotCache stores the latest Summary. A miss is (nil, nil).
type SnapshotCache interface {
	Get(ctx context.Context) (*Summary, error)
	Set(ctx context.Context, s *Summary) error
}

// AnalyticsAggregator computes read-only rollups. It never writes to the
// ledger tables.
type AnalyticsAggregator struct {
	store *Store
	cache SnapshotCache
	rules Rules
	now   func() time.Time
}

// NewAnalyticsAggregator accepts a nil cache.
func NewAnalyticsAggregator(store *Store, cache SnapshotCache, rules Rules, now func() time.Time) *AnalyticsAggregator {
	if now == nil {
		now = time.Now
	}
	return &AnalyticsAggregator{store: store, cache: cache, rules: rules, now: now}
}

// snapshotTxOptions pin every aggregate to one snapshot. Under read
// committed each statement would see its own snapshot and a deposit
// confirmed between two sums would skew the profit.
var snapshotTxOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// Compute reads every aggregate from a single database snapshot.
func (a *AnalyticsAggregator) Compute(ctx context.Context) (*Summary, error) {
	s := &Summary{Currency: a.rules.Currency}
	err := a.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sumColumn(tx.Model(&models.Deposit{}).Where("status = ?", models.DepositStatusCompleted), "amount", &s.GrossIncome); err != nil {
			return err
		}
		if err := sumColumn(tx.Model(&models.WithdrawalRequest{}).Where("status = ?", models.WithdrawalStatusCompleted), "amount", &s.TotalWithdrawals); err != nil {
			return err
		}
		if err := sumColumn(tx.Model(&models.WithdrawalRequest{}).Where("status = ?", models.WithdrawalStatusPending), "amount", &s.PendingWithdrawals); err != nil {
			return err
		}
		if err := sumColumn(tx.Model(&models.Account{}), "balance", &s.TotalBalances); err != nil {
			return err
		}
		if err := tx.Model(&models.Account{}).Count(&s.Accounts).Error; err != nil {
			return err
		}
		return tx.Model(&models.Account{}).Where("is_active = ?", true).Count(&s.ActiveAccounts).Error
	}, snapshotTxOptions)
	if err != nil {
		return nil, err
	}
	s.NetIncome = s.GrossIncome - s.TotalWithdrawals
	s.Profit = s.GrossIncome - s.TotalBalances - s.TotalWithdrawals
	s.GeneratedAt = a.now().UTC()
	return s, nil
}

func sumColumn(q *gorm.DB, column string, out *int64) error {
	var total sql.NullInt64
	if err := q.Select("COALESCE(SUM(" + column + "), 0)").Scan(&total).Error; err != nil {
		return err
	}
	*out = total.Int64
	return nil
}

// Snapshot returns the cached summary when one is available, unless fresh
// is set. Cache failures fall back to computing.
func (a *AnalyticsAggregator) Snapshot(ctx context.Context, caller Caller, fresh bool) (*Summary, error) {
	if err := caller.requireAdmin(); err != nil {
		return nil, err
	}
	if a.cache != nil && !fresh {
		cached, err := a.cache.Get(ctx)
		if err != nil {
			logger.Warnf("Analytics cache read failed: %v", err)
		} else if cached != nil {
			return cached, nil
		}
	}
	s, err := a.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, s); err != nil {
			logger.Warnf("Analytics cache write failed: %v", err)
		}
	}
	return s, nil
}

const analyticsCacheKey = "rewards-ledger:analytics:summary"

// RedisSnapshotCache keeps the summary as JSON under a single key.
type RedisSnapshotCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisSnapshotCache(rdb redis.UniversalClient, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSnapshotCache{rdb: rdb, ttl: ttl}
}

func (c *RedisSnapshotCache) Get(ctx context.Context) (*Summary, error) {
	raw, err := c.rdb.Get(ctx, analyticsCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, s *Summary) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, analyticsCacheKey, raw, c.ttl).Err()
}
