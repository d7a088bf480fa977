package services

import (
	"context"
	"errors"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/metrics"
	"rewards-ledger/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DepositProcessor records deposit intents and settles them. Only the call
// that moves a deposit out of pending runs the credit, activation and
// commission cascade, so redelivered settlements are harmless.
type DepositProcessor struct {
	store       *Store
	accounts    *AccountRegistry
	commissions *ReferralCommissionEngine
	rail        PaymentRail
	rules       Rules
	now         func() time.Time
}

func NewDepositProcessor(store *Store, accounts *AccountRegistry, commissions *ReferralCommissionEngine, rail PaymentRail, rules Rules, now func() time.Time) *DepositProcessor {
	if now == nil {
		now = time.Now
	}
	if rail == nil {
		rail = USSDRail{}
	}
	return &DepositProcessor{
		store:       store,
		accounts:    accounts,
		commissions: commissions,
		rail:        rail,
		rules:       rules,
		now:         now,
	}
}

// RecordIntent creates a pending deposit and hands the payment instruction
// to the rail after the transaction commits. phone may be empty.
func (p *DepositProcessor) RecordIntent(ctx context.Context, accountID string, amount int64, phone string) (*models.Deposit, *PaymentInstruction, error) {
	if amount < p.rules.MinDeposit {
		return nil, nil, newError(KindValidation, "minimum deposit is %s", p.rules.amount(p.rules.MinDeposit))
	}
	if phone != "" {
		normalized, err := NormalizePhone(phone)
		if err != nil {
			return nil, nil, err
		}
		phone = normalized
	}

	deposit := &models.Deposit{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Amount:      amount,
		PhoneNumber: phone,
		Status:      models.DepositStatusPending,
		CreatedAt:   p.now().UTC(),
	}
	err := p.store.Transact(ctx, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Account{}).Where("id = ?", accountID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return newError(KindNotFound, "account %s not found", accountID)
		}
		return tx.Create(deposit).Error
	})
	metrics.ObserveOperation("deposit_intent", outcomeOf(err))
	if err != nil {
		return nil, nil, err
	}

	instruction := NewPaymentInstruction(deposit.ID, p.rules.MerchantCode, amount, phone)
	go func(in PaymentInstruction) {
		if err := p.rail.Initiate(context.WithoutCancel(ctx), in); err != nil {
			logger.Errorf("Payment rail initiation failed for deposit %s: %v", in.DepositID, err)
		}
	}(instruction)

	return deposit, &instruction, nil
}

// Confirm moves a pending or expired deposit to completed and runs the
// cascade. A repeated confirmation returns the stored record with
// applied == false. Confirming a failed deposit is rejected with
// ErrAlreadyProcessed.
func (p *DepositProcessor) Confirm(ctx context.Context, depositID string) (*models.Deposit, bool, error) {
	var (
		deposit models.Deposit
		applied bool
		entries []*models.LedgerEntry
		earning *models.ReferralEarning
	)
	err := p.store.Transact(ctx, func(tx *gorm.DB) error {
		applied, entries, earning = false, nil, nil

		moved, err := p.transition(tx, depositID, models.DepositStatusCompleted, &deposit)
		if err != nil {
			return err
		}
		if !moved {
			if deposit.Status == models.DepositStatusFailed {
				return newError(KindAlreadyProcessed, "deposit %s already failed and cannot be confirmed", depositID)
			}
			return nil
		}
		applied = true

		entry, err := p.accounts.credit(tx, deposit.AccountID, deposit.Amount, models.EntryReasonDeposit, deposit.ID)
		if err != nil {
			return err
		}
		entries = append(entries, entry)

		if deposit.Amount >= p.rules.MinDeposit {
			if _, err := p.accounts.activate(tx, deposit.AccountID); err != nil {
				return err
			}
		}

		var commissionEntry *models.LedgerEntry
		earning, commissionEntry, err = p.commissions.payout(tx, &deposit)
		if err != nil {
			return err
		}
		entries = append(entries, commissionEntry)
		return nil
	})
	metrics.ObserveOperation("deposit_confirm", outcomeOf(err))
	if err != nil {
		return nil, false, err
	}

	if applied {
		recordEntries(entries...)
		if earning != nil {
			logger.Infof("Referral commission %d paid to %s for deposit %s", earning.Amount, earning.ReferrerID, deposit.ID)
		}
	} else {
		logger.Infof("Deposit %s already completed, confirmation ignored", depositID)
	}
	return &deposit, applied, nil
}

// Fail moves a pending or expired deposit to failed. Failing an
// already-failed deposit is a no-op; failing a completed one is rejected.
func (p *DepositProcessor) Fail(ctx context.Context, depositID string) (*models.Deposit, bool, error) {
	var (
		deposit models.Deposit
		applied bool
	)
	err := p.store.Transact(ctx, func(tx *gorm.DB) error {
		moved, err := p.transition(tx, depositID, models.DepositStatusFailed, &deposit)
		if err != nil {
			return err
		}
		if !moved && deposit.Status == models.DepositStatusCompleted {
			return newError(KindAlreadyProcessed, "deposit %s already completed and cannot be failed", depositID)
		}
		applied = moved
		return nil
	})
	metrics.ObserveOperation("deposit_fail", outcomeOf(err))
	if err != nil {
		return nil, false, err
	}
	return &deposit, applied, nil
}

// transition performs the guarded update into target and loads the
// deposit. moved is true only for the call that performed the transition.
func (p *DepositProcessor) transition(tx *gorm.DB, depositID string, target models.DepositStatus, out *models.Deposit) (bool, error) {
	res := tx.Model(&models.Deposit{}).
		Where("id = ? AND status IN ?", depositID, models.SettleableDepositStatuses).
		Updates(map[string]interface{}{
			"status":     target,
			"settled_at": p.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if err := tx.First(out, "id = ?", depositID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, newError(KindNotFound, "deposit %s not found", depositID)
		}
		return false, err
	}
	return res.RowsAffected == 1, nil
}

// ExpireStale marks deposits that stayed pending longer than ttl as expired.
// Expiry only labels the deposit: a later Confirm or Fail from the rail
// still settles it.
func (p *DepositProcessor) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	now := p.now().UTC()
	res := p.store.DB.WithContext(ctx).
		Model(&models.Deposit{}).
		Where("status = ? AND created_at < ?", models.DepositStatusPending, now.Add(-ttl)).
		Update("status", models.DepositStatusExpired)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.Infof("Expired %d pending deposit(s) older than %s", res.RowsAffected, ttl)
	}
	return res.RowsAffected, nil
}

func (p *DepositProcessor) Get(ctx context.Context, depositID string) (*models.Deposit, error) {
	var deposit models.Deposit
	if err := p.store.DB.WithContext(ctx).First(&deposit, "id = ?", depositID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "deposit %s not found", depositID)
		}
		return nil, err
	}
	return &deposit, nil
}

func (p *DepositProcessor) ListDeposits(ctx context.Context, accountID string) ([]models.Deposit, error) {
	deposits := []models.Deposit{}
	err := p.store.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&deposits).Error
	return deposits, err
}
