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

// WithdrawalLifecycle reserves funds at request time and resolves requests
// into a terminal state. A rejected request credits the reservation back.
type WithdrawalLifecycle struct {
	store    *Store
	accounts *AccountRegistry
	rules    Rules
	now      func() time.Time
}

func NewWithdrawalLifecycle(store *Store, accounts *AccountRegistry, rules Rules, now func() time.Time) *WithdrawalLifecycle {
	if now == nil {
		now = time.Now
	}
	return &WithdrawalLifecycle{store: store, accounts: accounts, rules: rules, now: now}
}

// Request debits amount immediately and records a pending request.
func (w *WithdrawalLifecycle) Request(ctx context.Context, accountID string, amount int64, phone string) (*models.WithdrawalRequest, error) {
	if amount < w.rules.MinWithdrawal {
		return nil, newError(KindValidation, "minimum withdrawal is %s", w.rules.amount(w.rules.MinWithdrawal))
	}
	phone, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	var (
		req   *models.WithdrawalRequest
		entry *models.LedgerEntry
	)
	err = w.store.Transact(ctx, func(tx *gorm.DB) error {
		req, entry = nil, nil
		r := &models.WithdrawalRequest{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Amount:      amount,
			PhoneNumber: phone,
			Status:      models.WithdrawalStatusPending,
			CreatedAt:   w.now().UTC(),
		}
		e, err := w.accounts.debit(tx, accountID, amount, w.rules.MinResidualBalance, models.EntryReasonWithdrawal, r.ID)
		if err != nil {
			var le *LedgerError
			if errors.As(err, &le) && le.Kind == KindInsufficientFunds {
				return newError(KindInsufficientFunds, "insufficient funds: at least %s must remain after a withdrawal", w.rules.amount(w.rules.MinResidualBalance))
			}
			return err
		}
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		req, entry = r, e
		return nil
	})
	metrics.ObserveOperation("withdrawal_request", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	recordEntries(entry)
	return req, nil
}

// Resolve moves a pending request to completed or rejected. Resolving a
// request that is already terminal fails with ErrAlreadyProcessed.
func (w *WithdrawalLifecycle) Resolve(ctx context.Context, caller Caller, requestID string, outcome models.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	if err := caller.requireAdmin(); err != nil {
		return nil, err
	}
	if outcome != models.WithdrawalStatusCompleted && outcome != models.WithdrawalStatusRejected {
		return nil, newError(KindValidation, "outcome must be completed or rejected, got %q", outcome)
	}

	var (
		req   models.WithdrawalRequest
		entry *models.LedgerEntry
	)
	err := w.store.Transact(ctx, func(tx *gorm.DB) error {
		entry = nil
		now := w.now().UTC()
		res := tx.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status = ?", requestID, models.WithdrawalStatusPending).
			Updates(map[string]interface{}{
				"status":       outcome,
				"processed_at": now,
				"processed_by": caller.AccountID,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&req, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNotFound, "withdrawal %s not found", requestID)
			}
			return err
		}
		if res.RowsAffected == 0 {
			return newError(KindAlreadyProcessed, "withdrawal %s was already %s", requestID, req.Status)
		}
		if outcome == models.WithdrawalStatusRejected {
			var err error
			entry, err = w.accounts.credit(tx, req.AccountID, req.Amount, models.EntryReasonWithdrawalRefund, req.ID)
			return err
		}
		return nil
	})
	metrics.ObserveOperation("withdrawal_resolve", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	recordEntries(entry)
	logger.Infof("Withdrawal %s resolved as %s by %s", req.ID, req.Status, caller.AccountID)
	return &req, nil
}

// ListWithdrawals returns every request for admins and the caller's own
// requests otherwise. An empty status means all statuses.
func (w *WithdrawalLifecycle) ListWithdrawals(ctx context.Context, caller Caller, status models.WithdrawalStatus) ([]models.WithdrawalRequest, error) {
	if err := caller.requireMember(); err != nil {
		return nil, err
	}
	q := w.store.DB.WithContext(ctx).Order("created_at DESC")
	if !caller.IsAdmin {
		q = q.Where("account_id = ?", caller.AccountID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	out := []models.WithdrawalRequest{}
	err := q.Find(&out).Error
	return out, err
}
