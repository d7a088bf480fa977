package models

import "time"

// Account is the member's ledger record. The ID is owned by the identity provider.
// Balance, TotalEarned and IsActive are only ever changed by services.AccountRegistry.
type Account struct {
	ID           string     `gorm:"primaryKey;size:64" json:"id"`
	Balance      int64      `gorm:"not null;default:0;check:balance_non_negative,balance >= 0" json:"balance"`
	TotalEarned  int64      `gorm:"not null;default:0" json:"total_earned"`
	ReferralCode string     `gorm:"size:16;uniqueIndex;not null" json:"referral_code"`
	ReferredBy   *string    `gorm:"size:64;index" json:"referred_by,omitempty"` // set once at creation
	IsActive     bool       `gorm:"not null;default:false" json:"is_active"`
	ActivatedAt  *time.Time `json:"activated_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// EntryReason classifies a balance movement.
type EntryReason string

const (
	EntryReasonDeposit            EntryReason = "deposit"
	EntryReasonTaskReward         EntryReason = "task_reward"
	EntryReasonReferralCommission EntryReason = "referral_commission"
	EntryReasonWithdrawal         EntryReason = "withdrawal"
	EntryReasonWithdrawalRefund   EntryReason = "withdrawal_refund"
)

// IsEarning reports whether credits of this kind count towards TotalEarned.
func (r EntryReason) IsEarning() bool {
	return r == EntryReasonTaskReward || r == EntryReasonReferralCommission
}

// LedgerEntry is an append-only journal row written with every balance change.
type LedgerEntry struct {
	ID           string      `gorm:"primaryKey;size:36" json:"id"`
	AccountID    string      `gorm:"size:64;not null;index:idx_entries_account_created,priority:1" json:"account_id"`
	Amount       int64       `gorm:"not null" json:"amount"` // signed: credits > 0, debits < 0
	Reason       EntryReason `gorm:"size:32;not null;index" json:"reason"`
	ReferenceID  string      `gorm:"size:64;index" json:"reference_id,omitempty"`
	BalanceAfter int64       `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time   `gorm:"index:idx_entries_account_created,priority:2" json:"created_at"`
}
