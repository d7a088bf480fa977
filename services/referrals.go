package services

import (
	"context"
	"errors"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/metrics"
	"rewards-ledger/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferralCommissionEngine pays the referrer's share of a referred member's
// confirmed deposit. The unique deposit_id on referral_earnings makes a
// payout happen at most once per deposit.
type ReferralCommissionEngine struct {
	store    *Store
	accounts *AccountRegistry
	rate     decimal.Decimal
	now      func() time.Time
}

func NewReferralCommissionEngine(store *Store, accounts *AccountRegistry, rate decimal.Decimal, now func() time.Time) *ReferralCommissionEngine {
	if now == nil {
		now = time.Now
	}
	return &ReferralCommissionEngine{store: store, accounts: accounts, rate: rate, now: now}
}

// Commission is floor(rate × amount).
func (e *ReferralCommissionEngine) Commission(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(e.rate).Floor().IntPart()
}

// Payout credits the referrer for a completed deposit. It returns nil, nil
// when there is nothing to pay (no referrer, zero commission, or already paid).
func (e *ReferralCommissionEngine) Payout(ctx context.Context, deposit *models.Deposit) (*models.ReferralEarning, error) {
	if deposit == nil || deposit.ID == "" {
		return nil, newError(KindValidation, "deposit is required")
	}
	var (
		earning *models.ReferralEarning
		entry   *models.LedgerEntry
	)
	err := e.store.Transact(ctx, func(tx *gorm.DB) error {
		earning, entry = nil, nil
		var stored models.Deposit
		if err := tx.First(&stored, "id = ?", deposit.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNotFound, "deposit %s not found", deposit.ID)
			}
			return err
		}
		if stored.Status != models.DepositStatusCompleted {
			return newError(KindValidation, "deposit %s is %s; commission is only paid on completed deposits", stored.ID, stored.Status)
		}
		var err error
		earning, entry, err = e.payout(tx, &stored)
		return err
	})
	metrics.ObserveOperation("referral_payout", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	recordEntries(entry)
	return earning, nil
}

func (e *ReferralCommissionEngine) payout(tx *gorm.DB, deposit *models.Deposit) (*models.ReferralEarning, *models.LedgerEntry, error) {
	var depositor models.Account
	if err := tx.Select("id", "referred_by").First(&depositor, "id = ?", deposit.AccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, newError(KindNotFound, "account %s not found", deposit.AccountID)
		}
		return nil, nil, err
	}
	if depositor.ReferredBy == nil || *depositor.ReferredBy == "" || *depositor.ReferredBy == depositor.ID {
		return nil, nil, nil
	}

	amount := e.Commission(deposit.Amount)
	if amount <= 0 {
		return nil, nil, nil
	}

	earning := &models.ReferralEarning{
		ID:         uuid.NewString(),
		DepositID:  deposit.ID,
		ReferrerID: *depositor.ReferredBy,
		ReferredID: depositor.ID,
		Amount:     amount,
		CreatedAt:  e.now().UTC(),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "deposit_id"}},
		DoNothing: true,
	}).Create(earning)
	if res.Error != nil {
		return nil, nil, res.Error
	}
	if res.RowsAffected == 0 {
		logger.Infof("Commission for deposit %s already paid, skipping", deposit.ID)
		return nil, nil, nil
	}

	entry, err := e.accounts.credit(tx, earning.ReferrerID, amount, models.EntryReasonReferralCommission, deposit.ID)
	if err != nil {
		return nil, nil, err
	}
	return earning, entry, nil
}

// ReferralSummary is the referrer's dashboard view.
type ReferralSummary struct {
	Earnings []models.ReferralEarning `json:"earnings"`
	Total    int64                    `json:"total"`
	Count    int64                    `json:"count"`
}

func (e *ReferralCommissionEngine) ListEarnings(ctx context.Context, referrerID string) (*ReferralSummary, error) {
	out := &ReferralSummary{Earnings: []models.ReferralEarning{}}
	db := e.store.DB.WithContext(ctx)
	if err := db.Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Find(&out.Earnings).Error; err != nil {
		return nil, err
	}
	for _, earning := range out.Earnings {
		out.Total += earning.Amount
	}
	out.Count = int64(len(out.Earnings))
	return out, nil
}
