package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/metrics"
	"rewards-ledger/models"

	"github.com/google/uuid"
	"github.com/gosimple/unidecode"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	referralCodeLength      = 8
	maxReferralCodeAttempts = 5
)

// AccountRegistry owns member records. It is the only writer of balance,
// total_earned and is_active; every mutation is a single conditional UPDATE
// so concurrent callers never lose an update.
type AccountRegistry struct {
	store *Store
	now   func() time.Time
}

func NewAccountRegistry(store *Store, now func() time.Time) *AccountRegistry {
	if now == nil {
		now = time.Now
	}
	return &AccountRegistry{store: store, now: now}
}

// CreateAccount registers a member under the identity provider's id. An
// unknown or self-referential referrer code leaves ReferredBy empty. Calling
// it again for an existing id returns the stored record unchanged.
func (r *AccountRegistry) CreateAccount(ctx context.Context, accountID, referrerCode string) (*models.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, newError(KindValidation, "account id is required")
	}
	code := NormalizeReferralCode(referrerCode)

	var created models.Account
	err := r.store.Transact(ctx, func(tx *gorm.DB) error {
		var existing models.Account
		err := tx.First(&existing, "id = ?", accountID).Error
		if err == nil {
			created = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := r.now().UTC()
		acct := models.Account{ID: accountID, CreatedAt: now, UpdatedAt: now}

		if code != "" {
			var referrer models.Account
			err := tx.Select("id").First(&referrer, "referral_code = ?", code).Error
			switch {
			case err == nil:
				if referrer.ID != accountID {
					referrerID := referrer.ID
					acct.ReferredBy = &referrerID
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				logger.Warnf("Unknown referral code %q for account %s, creating without referrer", code, accountID)
			default:
				return err
			}
		}

		referral, err := r.uniqueReferralCode(tx)
		if err != nil {
			return err
		}
		acct.ReferralCode = referral

		if err := tx.Create(&acct).Error; err != nil {
			return err
		}
		created = acct
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a creation race for the same id; the winner's row is authoritative.
			return r.Get(ctx, accountID)
		}
		metrics.ObserveOperation("create_account", outcomeOf(err))
		return nil, err
	}
	metrics.ObserveOperation("create_account", "ok")
	return &created, nil
}

func (r *AccountRegistry) uniqueReferralCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < maxReferralCodeAttempts; attempt++ {
		candidate := newReferralCode()
		var n int64
		if err := tx.Model(&models.Account{}).Where("referral_code = ?", candidate).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
	}
	return "", errors.New("accounts: could not allocate a unique referral code")
}

func newReferralCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:referralCodeLength])
}

// NormalizeReferralCode folds user-typed codes (stray spaces, lowercase,
// look-alike unicode) onto the stored form.
func NormalizeReferralCode(code string) string {
	code = unidecode.Unidecode(strings.TrimSpace(code))
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

func (r *AccountRegistry) Get(ctx context.Context, accountID string) (*models.Account, error) {
	var acct models.Account
	if err := r.store.DB.WithContext(ctx).First(&acct, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "account %s not found", accountID)
		}
		return nil, err
	}
	return &acct, nil
}

func (r *AccountRegistry) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	code = NormalizeReferralCode(code)
	var acct models.Account
	if err := r.store.DB.WithContext(ctx).First(&acct, "referral_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "referral code %s not found", code)
		}
		return nil, err
	}
	return &acct, nil
}

// ListEntries returns the newest journal rows for an account.
func (r *AccountRegistry) ListEntries(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := r.store.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// EntryCursor marks a position in an account's journal. Entries are ordered
// by (CreatedAt, ID); IDs are time-ordered so rows sharing a timestamp keep
// their insertion order.
type EntryCursor struct {
	At time.Time
	ID string
}

// CursorOf returns the cursor positioned on e.
func CursorOf(e models.LedgerEntry) EntryCursor {
	return EntryCursor{At: e.CreatedAt, ID: e.ID}
}

// LatestEntryCursor returns the cursor of the account's newest journal row,
// or the zero cursor when the account has none.
func (r *AccountRegistry) LatestEntryCursor(ctx context.Context, accountID string) (EntryCursor, error) {
	var entries []models.LedgerEntry
	err := r.store.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&entries).Error
	if err != nil || len(entries) == 0 {
		return EntryCursor{}, err
	}
	return CursorOf(entries[0]), nil
}

// EntriesAfter returns up to limit journal rows strictly after the cursor,
// oldest first.
func (r *AccountRegistry) EntriesAfter(ctx context.Context, accountID string, after EntryCursor, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	at := after.At.UTC()
	var entries []models.LedgerEntry
	err := r.store.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("created_at > ? OR (created_at = ? AND id > ?)", at, at, after.ID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Credit adds amount to the account in its own transaction.
func (r *AccountRegistry) Credit(ctx context.Context, accountID string, amount int64, reason models.EntryReason, referenceID string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.store.Transact(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = r.credit(tx, accountID, amount, reason, referenceID)
		return err
	})
	metrics.ObserveOperation("credit", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	recordEntries(entry)
	return entry, nil
}

// Debit removes amount from the account, failing with ErrInsufficientFunds
// if the balance would drop below minResidual (never below zero).
func (r *AccountRegistry) Debit(ctx context.Context, accountID string, amount, minResidual int64, reason models.EntryReason, referenceID string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.store.Transact(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = r.debit(tx, accountID, amount, minResidual, reason, referenceID)
		return err
	})
	metrics.ObserveOperation("debit", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	recordEntries(entry)
	return entry, nil
}

// Activate sets is_active once. It reports whether this call flipped it.
func (r *AccountRegistry) Activate(ctx context.Context, accountID string) (bool, error) {
	var flipped bool
	err := r.store.Transact(ctx, func(tx *gorm.DB) error {
		var err error
		flipped, err = r.activate(tx, accountID)
		return err
	})
	return flipped, err
}

func (r *AccountRegistry) credit(tx *gorm.DB, accountID string, amount int64, reason models.EntryReason, referenceID string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, newError(KindValidation, "credit amount must be positive, got %d", amount)
	}
	var earned int64
	if reason.IsEarning() {
		earned = amount
	}
	res := tx.Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"balance":      gorm.Expr("balance + ?", amount),
			"total_earned": gorm.Expr("total_earned + ?", earned),
			"updated_at":   r.now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, newError(KindNotFound, "account %s not found", accountID)
	}
	return r.appendEntry(tx, accountID, amount, reason, referenceID)
}

func (r *AccountRegistry) debit(tx *gorm.DB, accountID string, amount, minResidual int64, reason models.EntryReason, referenceID string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, newError(KindValidation, "debit amount must be positive, got %d", amount)
	}
	if minResidual < 0 {
		minResidual = 0
	}
	res := tx.Model(&models.Account{}).
		Where("id = ? AND balance - ? >= ?", accountID, amount, minResidual).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var acct models.Account
		if err := tx.Select("id", "balance").First(&acct, "id = ?", accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, newError(KindNotFound, "account %s not found", accountID)
			}
			return nil, err
		}
		return nil, newError(KindInsufficientFunds,
			"insufficient funds: balance is %d, requested %d, and at least %d must remain",
			acct.Balance, amount, minResidual)
	}
	return r.appendEntry(tx, accountID, -amount, reason, referenceID)
}

func (r *AccountRegistry) activate(tx *gorm.DB, accountID string) (bool, error) {
	now := r.now().UTC()
	res := tx.Model(&models.Account{}).
		Where("id = ? AND is_active = ?", accountID, false).
		Updates(map[string]interface{}{
			"is_active":    true,
			"activated_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var n int64
	if err := tx.Model(&models.Account{}).Where("id = ?", accountID).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, newError(KindNotFound, "account %s not found", accountID)
	}
	return false, nil
}

// lockAccount loads the account row under FOR UPDATE, serializing
// check-then-act sequences on the same account.
func (r *AccountRegistry) lockAccount(tx *gorm.DB, accountID string) (*models.Account, error) {
	var acct models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&acct, "id = ?", accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "account %s not found", accountID)
		}
		return nil, err
	}
	return &acct, nil
}

func (r *AccountRegistry) appendEntry(tx *gorm.DB, accountID string, amount int64, reason models.EntryReason, referenceID string) (*models.LedgerEntry, error) {
	var acct models.Account
	if err := tx.Select("balance").First(&acct, "id = ?", accountID).Error; err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:           uuid.Must(uuid.NewV7()).String(),
		AccountID:    accountID,
		Amount:       amount,
		Reason:       reason,
		ReferenceID:  referenceID,
		BalanceAfter: acct.Balance,
		CreatedAt:    r.now().UTC(),
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// recordEntries logs and counts balance changes after their transaction commits.
func recordEntries(entries ...*models.LedgerEntry) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		metrics.ObserveMovement(string(e.Reason), e.Amount)
		logger.WithFields(logrus.Fields{
			"account":       e.AccountID,
			"amount":        e.Amount,
			"reason":        e.Reason,
			"reference":     e.ReferenceID,
			"balance_after": e.BalanceAfter,
		}).Info("ledger movement committed")
	}
}
