package models

import "time"

// ReferralEarning is an append-only commission row, at most one per deposit.
type ReferralEarning struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	DepositID  string    `gorm:"size:36;uniqueIndex;not null" json:"deposit_id"`
	ReferrerID string    `gorm:"size:64;index;not null" json:"referrer_id"`
	ReferredID string    `gorm:"size:64;index;not null" json:"referred_id"`
	Amount     int64     `gorm:"not null" json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}
